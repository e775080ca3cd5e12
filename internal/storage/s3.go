package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the settings of an S3 backend.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "plant-a/".
	Prefix string
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string
	// UsePathStyle enables path-style addressing (required for MinIO).
	UsePathStyle bool
	// MaxRetries bounds the retries of failed requests.
	MaxRetries int
}

// S3Backend stores objects in an S3 bucket.
type S3Backend struct {
	client     *s3.Client
	cfg        S3Config
	maxRetries int
	backoff    time.Duration
}

// NewS3Backend loads the default AWS credential chain and creates a client.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewS3BackendWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// NewS3BackendWithClient uses a pre-configured client.
func NewS3BackendWithClient(client *s3.Client, cfg S3Config) *S3Backend {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &S3Backend{client: client, cfg: cfg, maxRetries: retries, backoff: 100 * time.Millisecond}
}

func (s *S3Backend) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return path.Join(s.cfg.Prefix, key)
}

// Put uploads localPath with a single PutObject request.
func (s *S3Backend) Put(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer file.Close()

	var etag string
	err = s.retryWithBackoff(ctx, func() error {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
			Body:   file,
		})
		if err != nil {
			return err
		}
		etag = trimETag(aws.ToString(out.ETag))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return etag, nil
}

// Get downloads key into localPath.
func (s *S3Backend) Get(ctx context.Context, key, localPath string) error {
	var resp *s3.GetObjectOutput
	err := s.retryWithBackoff(ctx, func() error {
		var err error
		resp, err = s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return ErrObjectNotFound
			}
		}
		return err
	})
	if errors.Is(err, ErrObjectNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return file.Close()
}

// Stat issues a HeadObject request.
func (s *S3Backend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := s.retryWithBackoff(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return ErrObjectNotFound
			}
			return err
		}
		info = ObjectInfo{
			Key:      key,
			Size:     aws.ToInt64(out.ContentLength),
			ETag:     trimETag(aws.ToString(out.ETag)),
			Modified: aws.ToTime(out.LastModified),
		}
		return nil
	})
	return info, err
}

// Delete removes key. S3 reports success for missing keys.
func (s *S3Backend) Delete(ctx context.Context, key string) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// List pages through ListObjectsV2. Returned keys exclude the backend prefix.
func (s *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	strip := ""
	if s.cfg.Prefix != "" {
		strip = strings.TrimSuffix(s.cfg.Prefix, "/") + "/"
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:      strings.TrimPrefix(aws.ToString(obj.Key), strip),
				Size:     aws.ToInt64(obj.Size),
				ETag:     trimETag(aws.ToString(obj.ETag)),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// retryWithBackoff runs operation until it succeeds, the context ends or the
// retries are used up. ErrObjectNotFound is returned at once.
func (s *S3Backend) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrObjectNotFound) {
			return lastErr
		}
		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * s.backoff
			log.Printf("storage: s3 request failed (attempt %d/%d), retrying in %s: %v", attempt+1, s.maxRetries+1, backoff, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("operation failed after %d retries: %w", s.maxRetries, lastErr)
}
