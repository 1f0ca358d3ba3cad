package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/iotrace/iotrace/internal/config"
	"github.com/iotrace/iotrace/pkg/errors"
)

// MinIOSink writes snapshots to a MinIO (or any S3 compatible) bucket.
type MinIOSink struct {
	client *minio.Client
	bucket string
}

// NewMinIOSink creates a MinIO sink.
func NewMinIOSink(cfg config.MinIOConfig) (*MinIOSink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "minio endpoint and bucket are required").
			WithComponent("minio")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOSink{client: client, bucket: cfg.Bucket}, nil
}

// Name implements types.SnapshotSink
func (m *MinIOSink) Name() string {
	return "minio"
}

// Put implements types.SnapshotSink
func (m *MinIOSink) Put(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentTypeJSON})
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		return errors.Wrap(errors.ErrCodeNotFound, fmt.Sprintf("bucket not found: %s", m.bucket), err).
			WithComponent("minio").
			WithOperation("Put")
	case "AccessDenied":
		return errors.Wrap(errors.ErrCodeAccessDenied, fmt.Sprintf("access denied writing %s", key), err).
			WithComponent("minio").
			WithOperation("Put")
	default:
		return writeError("minio", key, err)
	}
}

// CheckHealth implements types.HealthChecker
func (m *MinIOSink) CheckHealth(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("minio health check failed: %w", err)
	}
	if !exists {
		return errors.NewError(errors.ErrCodeNotFound, fmt.Sprintf("bucket not found: %s", m.bucket)).
			WithComponent("minio")
	}
	return nil
}

// Close implements types.SnapshotSink
func (m *MinIOSink) Close() error {
	return nil
}
