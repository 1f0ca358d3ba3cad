// Package archive periodically ships tracer snapshots to an external sink.
// Archives are write-only: nothing in iotrace reads them back.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/iotrace/iotrace/internal/config"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Sink stores encoded snapshots and can report whether it is reachable.
type Sink interface {
	types.SnapshotSink
	types.HealthChecker
}

// Backend names accepted by NewSink.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
	BackendRedis = "redis"
)

// NewSink builds the sink selected by cfg.Backend.
func NewSink(ctx context.Context, cfg config.ArchiveConfig, logger *utils.StructuredLogger) (Sink, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendS3:
		return NewS3Sink(ctx, cfg.S3, logger)
	case BackendMinIO:
		return NewMinIOSink(cfg.MinIO)
	case BackendRedis:
		return NewRedisSink(cfg.Redis), nil
	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown archive backend %q", cfg.Backend)).
			WithComponent("archive")
	}
}

func writeError(sink, key string, cause error) error {
	return errors.Wrap(errors.ErrCodeArchiveWrite, fmt.Sprintf("%s put failed for %s", sink, key), cause).
		WithComponent(sink).
		WithOperation("Put")
}
