package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/intelligencedev/docmemory/internal/apperr"
	"github.com/intelligencedev/docmemory/internal/config"
	"github.com/intelligencedev/docmemory/internal/logging"
)

// S3Store implements Store against S3 or an S3-compatible service (MinIO),
// following the teacher's internal/objectstore.S3Store construction pattern:
// aws-sdk-go-v2 config with optional static credentials, optional custom
// endpoint and path-style addressing for MinIO.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	sse    config.S3SSEConfig
	log    logging.Logger
}

// NewS3Store constructs an S3Store from cfg. It does not verify bucket
// configuration itself; call CheckConfiguration once at startup.
func NewS3Store(ctx context.Context, cfg config.S3Config, log logging.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, apperr.New(apperr.Validation, "s3 bucket is required")
	}
	if log == nil {
		log = logging.Noop{}
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err, "load aws config")
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

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
		sse:    cfg.SSE,
		log:    log,
	}, nil
}

func (s *S3Store) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// CheckConfiguration verifies the bucket has versioning enabled and a
// default server-side encryption configuration, failing fast at startup
// rather than letting the service silently run against a bucket that can
// lose blob history or store ciphertext unencrypted at rest.
func (s *S3Store) CheckConfiguration(ctx context.Context) error {
	verResp, err := s.client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return apperr.Wrap(apperr.Storage, err, "check bucket versioning")
	}
	if verResp.Status != s3types.BucketVersioningStatusEnabled {
		return Misconfigured("bucket versioning is not enabled")
	}

	_, err = s.client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		if isNotFoundError(err) {
			return Misconfigured("bucket has no default encryption configuration")
		}
		return apperr.Wrap(apperr.Storage, err, "check bucket encryption")
	}
	return nil
}

// Put stores data under key and returns the version id S3 assigned to the
// write, retrying transient failures with exponential backoff.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (Attrs, error) {
	var attrs Attrs
	err := withBackoff(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
			Body:   bytes.NewReader(data),
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		switch s.sse.Algorithm {
		case "aws:kms":
			input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
			if s.sse.KMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(s.sse.KMSKeyID)
			}
		case "AES256":
			input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
		}

		result, err := s.client.PutObject(ctx, input)
		if err != nil {
			return classify("s3 put", err)
		}
		attrs = Attrs{
			Key:         key,
			VersionID:   aws.ToString(result.VersionId),
			ETag:        aws.ToString(result.ETag),
			Size:        int64(len(data)),
			ContentType: contentType,
		}
		return nil
	})
	return attrs, err
}

// Get retrieves versionID of key, or the latest version if versionID is
// empty.
func (s *S3Store) Get(ctx context.Context, key, versionID string) ([]byte, Attrs, error) {
	var data []byte
	var attrs Attrs
	err := withBackoff(ctx, func() error {
		input := &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		}
		if versionID != "" {
			input.VersionId = aws.String(versionID)
		}
		result, err := s.client.GetObject(ctx, input)
		if err != nil {
			if isNotFoundError(err) {
				return apperr.Newf(apperr.NotFound, "blob %q not found", key)
			}
			return classify("s3 get", err)
		}
		defer result.Body.Close()
		body, err := io.ReadAll(result.Body)
		if err != nil {
			return classify("s3 get body", err)
		}
		if aws.ToBool(result.DeleteMarker) {
			return apperr.Newf(apperr.NotFound, "blob %q is deleted", key)
		}
		data = body
		attrs = Attrs{
			Key:          key,
			VersionID:    aws.ToString(result.VersionId),
			Size:         aws.ToInt64(result.ContentLength),
			ETag:         aws.ToString(result.ETag),
			LastModified: aws.ToTime(result.LastModified),
			ContentType:  aws.ToString(result.ContentType),
		}
		return nil
	})
	return data, attrs, err
}

// Delete writes a delete marker for key. With bucket versioning enabled,
// DeleteObject without a VersionId creates a marker rather than erasing
// history.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	return withBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return classify("s3 delete", err)
		}
		return nil
	})
}

func isNotFoundError(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	return errors.As(err, &notFound) ||
		errors.As(err, &noSuchKey) ||
		errors.As(err, &noSuchBucket) ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "NoSuchKey")
}

func isAccessDeniedError(err error) bool {
	return strings.Contains(err.Error(), "AccessDenied") || strings.Contains(err.Error(), "Forbidden")
}

// classify maps an S3 SDK error onto the service's error taxonomy:
// not-found and access-denied are terminal, everything else (throttling,
// network blips, 5xx) is retried by withBackoff.
func classify(op string, err error) error {
	if isNotFoundError(err) {
		return apperr.Wrap(apperr.NotFound, err, op)
	}
	if isAccessDeniedError(err) {
		return apperr.Wrap(apperr.Authorization, err, op)
	}
	return apperr.Wrap(apperr.Storage, err, op)
}

// withBackoff retries op with exponential backoff while the error it returns
// is apperr.Retryable, up to maxAttempts. It gives up immediately on
// terminal errors (not-found, validation, auth).
func withBackoff(ctx context.Context, op func() error) error {
	const maxAttempts = 4
	interval := 250 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !apperr.KindOf(lastErr).Retryable() {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
	}
	return lastErr
}
