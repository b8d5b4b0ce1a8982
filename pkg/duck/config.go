package duck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// S3Config holds configuration for S3-compatible storage (AWS S3, MinIO, etc.)
type S3Config struct {
	AccessKeyID     string // S3 access key ID
	SecretAccessKey string // S3 secret access key
	Endpoint        string // S3 endpoint (e.g., "http://localhost:9000" for MinIO, empty for AWS)
	Region          string // S3 region (e.g., "us-east-1")
	UseSSL          bool   // Whether to use SSL/TLS (typically false for MinIO, true for AWS)
	URLStyle        string // URL style: "path" or "virtual"
}

// IsMinIO reports whether the endpoint is a non-AWS S3-compatible server.
func (c *S3Config) IsMinIO() bool {
	return c.Endpoint != "" && !strings.Contains(c.Endpoint, "amazonaws.com")
}

// S3ConfigFromLookup builds an S3 configuration from key lookups.
//
// Keys:
//   - S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID (optional, leave unset to use the default credential chain)
//   - S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY (optional, must be paired with the access key)
//   - S3_ENDPOINT or AWS_ENDPOINT_URL (optional, for MinIO: "http://localhost:9000")
//   - S3_REGION or AWS_REGION (optional, defaults to "us-east-1")
//   - S3_USE_SSL (optional, "true"/"false", auto-detected from the endpoint)
//   - S3_URL_STYLE (optional, "path" or "virtual", defaults to "path")
func S3ConfigFromLookup(lookup func(string) string) (*S3Config, error) {
	accessKeyID := firstNonEmpty(lookup, "S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstNonEmpty(lookup, "S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")

	if accessKeyID == "" && secretAccessKey != "" {
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	}
	if accessKeyID != "" && secretAccessKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing (for the default credential chain, leave both unset)")
	}

	region := firstNonEmpty(lookup, "S3_REGION", "AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        firstNonEmpty(lookup, "S3_ENDPOINT", "AWS_ENDPOINT_URL"),
		Region:          region,
		URLStyle:        "path",
	}
	cfg.UseSSL = !cfg.IsMinIO()

	if useSSLStr := lookup("S3_USE_SSL"); useSSLStr != "" {
		cfg.UseSSL = useSSLStr == "true" || useSSLStr == "1"
	}
	if urlStyle := lookup("S3_URL_STYLE"); urlStyle != "" {
		cfg.URLStyle = urlStyle
	}

	if cfg.IsMinIO() && (cfg.AccessKeyID == "" || cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", cfg.Endpoint)
	}

	return cfg, nil
}

func firstNonEmpty(lookup func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := lookup(key); v != "" {
			return v
		}
	}
	return ""
}

// NewS3Client creates an S3 API client matching the engine's view of the object store.
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpointURL := cfg.Endpoint
			if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
				if cfg.UseSSL {
					endpointURL = "https://" + endpointURL
				} else {
					endpointURL = "http://" + endpointURL
				}
			}
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = cfg.URLStyle == "path"
	}), nil
}

// EnsureMinIOBucket creates the bucket behind storageURI when it lives on a localhost MinIO.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, storageURI string, cfg *S3Config) error {
	if cfg.Endpoint == "" {
		return nil
	}

	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	if !strings.HasPrefix(endpoint, "localhost") && !strings.HasPrefix(endpoint, "127.0.0.1") && !strings.Contains(endpoint, "host.docker.internal") {
		return nil
	}

	bucketName, _, ok := SplitS3URI(storageURI)
	if !ok || bucketName == "" {
		return nil
	}

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set")
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucketName}); err == nil {
		return nil
	}

	log.Info("creating MinIO bucket", "bucket", bucketName, "endpoint", cfg.Endpoint)
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucketName}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}
	log.Info("created MinIO bucket", "bucket", bucketName)

	return nil
}

// PrepareS3Config returns the S3 configuration when either location is on s3://, or nil when
// both are local. The output bucket is bootstrapped on localhost MinIO.
func PrepareS3Config(ctx context.Context, log *slog.Logger, lookup func(string) string, inputURI, outputURI string) (*S3Config, error) {
	if !IsS3URI(inputURI) && !IsS3URI(outputURI) {
		return nil, nil
	}

	cfg, err := S3ConfigFromLookup(lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	if IsS3URI(outputURI) {
		if err := EnsureMinIOBucket(ctx, log, outputURI, cfg); err != nil {
			return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
		}
	}

	return cfg, nil
}
