// Package obs moves downloaded products in and out of S3-compatible object
// storage. Transfers are bulk operations with a bounded per-file retry policy
// that keeps going past individual failures.
package obs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/copernicus-rs/rs-server/internal/logctx"
)

// waitIncrement is the slice of the retry wait between cancellation checks,
// so a cancelled context never sits out the full wait.
const waitIncrement = 200 * time.Millisecond

const dirPerm = 0o755

// Config carries the object storage connection settings.
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	RetryCount int
	RetryWait  time.Duration
}

// api is the S3 surface the handler uses; *s3.Client satisfies it and tests
// substitute fakes.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Handler performs bulk transfers against the object store. The client is
// built lazily, dropped after a failed attempt and rebuilt on the next one;
// construction is serialized by a single mutex so concurrent workers share
// one client.
type Handler struct {
	cfg Config

	mu     sync.Mutex
	client api
	build  func(ctx context.Context) (api, error)
}

func NewHandler(cfg Config) *Handler {
	h := &Handler{cfg: cfg}
	h.build = h.buildClient

	return h
}

// connect returns the shared S3 client, building it on first use.
func (h *Handler) connect(ctx context.Context) (api, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}

	client, err := h.build(ctx)
	if err != nil {
		return nil, err
	}

	h.client = client

	return h.client, nil
}

func (h *Handler) buildClient(ctx context.Context) (api, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(h.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(h.cfg.AccessKey, h.cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if h.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(h.cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// disconnect drops the client so the next attempt reconnects.
func (h *Handler) disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.client = nil
}

// PutFilesRequest describes a bulk upload: each local file lands under
// Prefix/<basename> in Bucket.
type PutFilesRequest struct {
	Files  []string
	Bucket string
	Prefix string
}

// GetKeysRequest describes a bulk download of object keys into LocalDir.
type GetKeysRequest struct {
	Keys     []string
	Bucket   string
	LocalDir string
}

// PutFilesToS3 uploads each file with up to RetryCount attempts, reconnecting
// between attempts. Files whose attempts are exhausted end up in the returned
// list while the loop keeps going for the rest. A cancelled context aborts
// the retry wait early and reports everything not yet transferred as failed,
// alongside the context error.
func (h *Handler) PutFilesToS3(ctx context.Context, req PutFilesRequest) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := h.CheckBucketAccess(ctx, req.Bucket); err != nil {
		return nil, err
	}

	var failed []string

	for i, file := range req.Files {
		key := path.Join(req.Prefix, filepath.Base(file))

		ok, err := h.transferWithRetry(ctx, "upload "+file, func(ctx context.Context, client api) error {
			return h.uploadFile(ctx, client, file, req.Bucket, key)
		})
		if err != nil {
			failed = append(failed, req.Files[i:]...)

			return failed, err
		}

		if !ok {
			logger.ErrorContext(ctx, "upload attempts exhausted",
				"file", file, "bucket", req.Bucket, "key", key)
			failed = append(failed, file)

			continue
		}

		logger.DebugContext(ctx, "file uploaded", "file", file, "bucket", req.Bucket, "key", key)
	}

	return failed, nil
}

// GetKeysFromS3 downloads each key into LocalDir under its base name, with
// the same retry and partial-failure semantics as PutFilesToS3.
func (h *Handler) GetKeysFromS3(ctx context.Context, req GetKeysRequest) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := h.CheckBucketAccess(ctx, req.Bucket); err != nil {
		return nil, err
	}

	var failed []string

	for i, key := range req.Keys {
		target := filepath.Join(req.LocalDir, path.Base(key))

		ok, err := h.transferWithRetry(ctx, "download "+key, func(ctx context.Context, client api) error {
			return h.downloadKey(ctx, client, req.Bucket, key, target)
		})
		if err != nil {
			failed = append(failed, req.Keys[i:]...)

			return failed, err
		}

		if !ok {
			logger.ErrorContext(ctx, "download attempts exhausted",
				"key", key, "bucket", req.Bucket, "target", target)
			failed = append(failed, key)

			continue
		}

		logger.DebugContext(ctx, "key downloaded", "key", key, "bucket", req.Bucket, "target", target)
	}

	return failed, nil
}

// transferWithRetry runs one transfer up to RetryCount times, reconnecting
// after every failure. It reports (false, nil) on exhaustion; the error is
// non-nil only when the context is cancelled during the wait.
func (h *Handler) transferWithRetry(ctx context.Context, op string, transfer func(ctx context.Context, client api) error) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	retries := h.cfg.RetryCount
	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		client, err := h.connect(ctx)
		if err == nil {
			if err = transfer(ctx, client); err == nil {
				return true, nil
			}
		}

		logger.WarnContext(ctx, "transfer attempt failed",
			"operation", op, "attempt", attempt, "retries", retries, "err", err)
		h.disconnect()

		if attempt == retries {
			break
		}

		if !h.waitRetry(ctx) {
			return false, ctx.Err()
		}
	}

	return false, nil
}

// waitRetry sleeps RetryWait in small increments, giving up early when the
// context is cancelled.
func (h *Handler) waitRetry(ctx context.Context) bool {
	remaining := h.cfg.RetryWait

	for remaining > 0 {
		step := waitIncrement
		if remaining < step {
			step = remaining
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}

		remaining -= step
	}

	return true
}

func (h *Handler) uploadFile(ctx context.Context, client api, file, bucket, key string) error {
	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer in.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   in,
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}

	return nil
}

func (h *Handler) downloadKey(ctx context.Context, client api, bucket, key, target string) error {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	return nil
}

// CheckBucketAccess distinguishes an absent bucket from denied access before
// a bulk transfer starts.
func (h *Handler) CheckBucketAccess(ctx context.Context, bucket string) error {
	client, err := h.connect(ctx)
	if err != nil {
		return err
	}

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("bucket %s does not exist: %w", bucket, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "Forbidden" {
		return fmt.Errorf("access denied to bucket %s: %w", bucket, err)
	}

	return fmt.Errorf("failed to access bucket %s: %w", bucket, err)
}

// ListObjects returns every key under prefix.
func (h *Handler) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	client, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// SplitPath splits an obs path of the form s3://bucket/prefix into bucket and
// prefix. The scheme is optional.
func SplitPath(obsPath string) (bucket, prefix string) {
	trimmed := strings.TrimPrefix(obsPath, "s3://")
	trimmed = strings.Trim(trimmed, "/")

	bucket, prefix, _ = strings.Cut(trimmed, "/")

	return bucket, prefix
}
