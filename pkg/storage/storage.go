// Package storage resets table destinations before an overwrite write.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/malbeclabs/playlake/pkg/duck"
)

const (
	defaultDeleteConcurrency = 8
	// DeleteObjects accepts at most this many keys per request.
	maxDeleteBatch = 1000
)

// S3API is the subset of the S3 client used to clear prefixes.
type S3API interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type Config struct {
	Logger *slog.Logger
	// S3 is required to reset s3:// locations.
	S3 S3API
	// DeleteConcurrency bounds concurrent DeleteObjects requests.
	DeleteConcurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DeleteConcurrency <= 0 {
		cfg.DeleteConcurrency = defaultDeleteConcurrency
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg Config

	deletePool pond.ResultPool[int]
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:        cfg.Logger,
		cfg:        cfg,
		deletePool: pond.NewResultPool[int](cfg.DeleteConcurrency),
	}, nil
}

// NewFromS3Config builds a Store with an S3 client when s3Config is set, or a local-only Store
// otherwise.
func NewFromS3Config(ctx context.Context, log *slog.Logger, s3Config *duck.S3Config) (*Store, error) {
	cfg := Config{Logger: log}
	if s3Config != nil {
		client, err := duck.NewS3Client(ctx, s3Config)
		if err != nil {
			return nil, err
		}
		cfg.S3 = client
	}
	return New(cfg)
}

// Reset removes everything stored under uri so the next write fully replaces it. Local
// locations are recreated as empty directories. Object store prefixes are left empty.
func (s *Store) Reset(ctx context.Context, uri string) error {
	if err := duck.ValidateStorageURI(uri); err != nil {
		return err
	}
	if duck.IsS3URI(uri) {
		return s.resetS3(ctx, uri)
	}
	return s.resetLocal(uri)
}

func (s *Store) resetLocal(uri string) error {
	path, err := duck.ResolvePath(uri)
	if err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("refusing to reset filesystem root")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	s.log.Debug("storage: reset local location", "path", path)
	return nil
}

func (s *Store) resetS3(ctx context.Context, uri string) error {
	if s.cfg.S3 == nil {
		return fmt.Errorf("S3 client is required to reset %s", duck.RedactedStorageURI(uri))
	}

	bucket, key, _ := duck.SplitS3URI(uri)
	key = strings.Trim(key, "/")
	if key == "" {
		return fmt.Errorf("refusing to reset bucket root %s", bucket)
	}
	prefix := key + "/"

	group := s.deletePool.NewGroupContext(ctx)
	batches := 0

	paginator := s3.NewListObjectsV2Paginator(s.cfg.S3, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		for start := 0; start < len(objects); start += maxDeleteBatch {
			end := min(start+maxDeleteBatch, len(objects))
			batch := objects[start:end]
			batches++

			group.SubmitErr(func() (int, error) {
				return s.deleteBatch(ctx, bucket, batch)
			})
		}
	}

	deleted, err := group.Wait()
	if err != nil {
		return err
	}

	total := 0
	for _, n := range deleted {
		total += n
	}
	s.log.Debug("storage: reset s3 prefix", "bucket", bucket, "prefix", prefix, "batches", batches, "objects", total)
	return nil
}

func (s *Store) deleteBatch(ctx context.Context, bucket string, objects []types.ObjectIdentifier) (int, error) {
	out, err := s.cfg.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete objects in %s: %w", bucket, err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return 0, fmt.Errorf("failed to delete %d objects in %s (first: %s: %s)", len(out.Errors), bucket, aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return len(objects), nil
}

// Close stops the delete worker pool.
func (s *Store) Close() {
	s.deletePool.StopAndWait()
}
