package archive

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/iotrace/iotrace/internal/config"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/utils"
)

const contentTypeJSON = "application/json"

// s3API is the part of *s3.Client the sink uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Sink writes snapshots as S3 objects.
type S3Sink struct {
	client       s3API
	transporter  *cargoships3.Transporter
	bucket       string
	storageClass string
	logger       *utils.StructuredLogger
}

// NewS3Sink loads AWS configuration and creates the sink. Static credentials
// are used when both keys are set; otherwise the default chain applies.
func NewS3Sink(ctx context.Context, cfg config.S3Config, logger *utils.StructuredLogger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}

	opts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.UseCargoShip {
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoShipStorageClass(cfg.StorageClass),
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        4,
		})
	}

	return newS3Sink(client, transporter, cfg.Bucket, cfg.StorageClass, logger), nil
}

func newS3Sink(client s3API, transporter *cargoships3.Transporter, bucket, storageClass string, logger *utils.StructuredLogger) *S3Sink {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &S3Sink{
		client:       client,
		transporter:  transporter,
		bucket:       bucket,
		storageClass: storageClass,
		logger:       logger.WithComponent("s3"),
	}
}

// Name implements types.SnapshotSink
func (s *S3Sink) Name() string {
	return "s3"
}

// Put implements types.SnapshotSink. The cargoship transporter is tried first
// when enabled and a plain PutObject is the fallback.
func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	if s.transporter != nil {
		_, err := s.transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(body),
			Size:         int64(len(body)),
			StorageClass: cargoShipStorageClass(s.storageClass),
			Metadata: map[string]string{
				"content-type": contentTypeJSON,
			},
		})
		if err == nil {
			return nil
		}
		s.logger.Warn("CargoShip upload failed, falling back to PutObject", map[string]interface{}{
			"key":   key,
			"error": err,
		})
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentTypeJSON),
	}
	if s.storageClass != "" {
		input.StorageClass = s3types.StorageClass(s.storageClass)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.translateError(err, key)
	}
	return nil
}

// CheckHealth implements types.HealthChecker
func (s *S3Sink) CheckHealth(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// Close implements types.SnapshotSink
func (s *S3Sink) Close() error {
	return nil
}

func (s *S3Sink) translateError(err error, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.ErrCodeNotFound, fmt.Sprintf("bucket not found: %s", s.bucket), err).
			WithComponent("s3").
			WithOperation("Put")
	case apiErrorCode(err) == "AccessDenied":
		return errors.Wrap(errors.ErrCodeAccessDenied, fmt.Sprintf("access denied writing %s", key), err).
			WithComponent("s3").
			WithOperation("Put")
	default:
		return writeError("s3", key, err)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func cargoShipStorageClass(class string) awsconfig.StorageClass {
	switch class {
	case "STANDARD_IA":
		return awsconfig.StorageClassStandardIA
	case "ONEZONE_IA":
		return awsconfig.StorageClassOneZoneIA
	case "GLACIER", "GLACIER_IR":
		return awsconfig.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return awsconfig.StorageClassDeepArchive
	case "INTELLIGENT_TIERING":
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
