package duck

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// ValidateStorageURI checks that uri is a file:// or s3:// location.
func ValidateStorageURI(uri string) error {
	if uri == "" {
		return fmt.Errorf("storage URI is required")
	}

	if path, found := strings.CutPrefix(uri, "file://"); found {
		if path == "" {
			return fmt.Errorf("storage URI file:// path cannot be empty")
		}
		return nil
	}

	if strings.HasPrefix(uri, "s3://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid s3:// URI format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("s3:// URI must include a bucket name (e.g., s3://bucket-name/path)")
		}
		bucket := parsed.Host
		if len(bucket) < 3 || len(bucket) > 63 {
			return fmt.Errorf("s3 bucket name must be between 3 and 63 characters")
		}
		return nil
	}

	return fmt.Errorf("storage URI must start with file:// or s3:// (got: %q)", uri)
}

func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// SplitS3URI splits s3://bucket/key into bucket and key.
func SplitS3URI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, true
}

// ResolvePath turns a storage URI into a path the engine can read and write. file:// URIs become
// absolute local paths; s3:// URIs are passed through.
func ResolvePath(uri string) (string, error) {
	if path, found := strings.CutPrefix(uri, "file://"); found {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for %s: %w", uri, err)
		}
		return abs, nil
	}
	if IsS3URI(uri) {
		return uri, nil
	}
	return "", fmt.Errorf("storage URI must start with file:// or s3:// (got: %q)", uri)
}

// JoinURI appends path elements to a storage URI using forward slashes.
func JoinURI(base string, elem ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}

// RedactedStorageURI redacts sensitive query parameters from storage URIs for logging.
func RedactedStorageURI(uri string) string {
	if uri == "" {
		return uri
	}

	if strings.HasPrefix(uri, "s3://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "[REDACTED: invalid URI]"
		}
		if parsed.User != nil {
			parsed.User = url.User("REDACTED")
		}
		if parsed.RawQuery != "" {
			query, err := url.ParseQuery(parsed.RawQuery)
			if err == nil {
				sensitiveKeys := []string{"accesskey", "secretkey", "password", "token", "credential"}
				for key := range query {
					keyLower := strings.ToLower(key)
					for _, sensitive := range sensitiveKeys {
						if strings.Contains(keyLower, sensitive) {
							query[key] = []string{"REDACTED"}
						}
					}
				}
				parsed.RawQuery = query.Encode()
			}
		}
		return parsed.String()
	}

	return uri
}
