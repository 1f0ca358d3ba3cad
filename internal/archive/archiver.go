package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/iotrace/iotrace/internal/circuit"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/health"
	"github.com/iotrace/iotrace/pkg/retry"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Recorder receives the outcome of every archive attempt.
type Recorder interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordError(operation string, err error)
}

// Options configures an Archiver. Zero values select defaults.
type Options struct {
	Interval  time.Duration
	Prefix    string
	Timeout   time.Duration
	SessionID string

	Retry   *retry.Retryer
	Breaker *circuit.CircuitBreaker
	Health  *health.Tracker
	Metrics Recorder
	Clock   clock.Clock
	Logger  *utils.StructuredLogger
}

// Archiver writes one snapshot per interval to a sink. Snapshots are
// cumulative, so a failed archive loses nothing the next one won't carry.
type Archiver struct {
	source types.SnapshotSource
	sink   Sink
	opts   Options
	logger *utils.StructuredLogger
}

// New creates an archiver for source.
func New(source types.SnapshotSource, sink Sink, opts Options) *Archiver {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "iotrace"
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Retry == nil {
		retryCfg := retry.DefaultConfig()
		retryCfg.Clock = opts.Clock
		opts.Retry = retry.New(retryCfg)
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	if opts.Health != nil {
		opts.Health.RegisterComponent(sink.Name())
	}

	return &Archiver{
		source: source,
		sink:   sink,
		opts:   opts,
		logger: opts.Logger.WithComponent("archive").WithField("sink", sink.Name()),
	}
}

// SessionID identifies this run in archive keys.
func (a *Archiver) SessionID() string {
	return a.opts.SessionID
}

// Key returns the object key for a snapshot taken at taken.
func (a *Archiver) Key(taken time.Time) string {
	return fmt.Sprintf("%s/%s/%d.json", a.opts.Prefix, a.opts.SessionID, taken.UnixNano())
}

// Archive writes the current snapshot and returns its key.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	snap := a.source.Snapshot()
	key := a.Key(snap.Taken)

	body, err := json.Marshal(snap)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeArchiveEncode, "failed to encode snapshot", err).
			WithComponent("archive")
	}

	start := a.opts.Clock.Now()
	err = a.execute(ctx, func(ctx context.Context) error {
		return a.opts.Retry.DoWithContext(ctx, func(ctx context.Context) error {
			putCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
			defer cancel()
			return a.sink.Put(putCtx, key, body)
		})
	})
	duration := a.opts.Clock.Since(start)

	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordOperation(a.sink.Name(), duration, int64(len(body)), err == nil)
		if err != nil {
			a.opts.Metrics.RecordError(a.sink.Name(), err)
		}
	}
	if a.opts.Health != nil {
		if err != nil {
			a.opts.Health.RecordError(a.sink.Name(), err)
		} else {
			a.opts.Health.RecordSuccess(a.sink.Name())
		}
	}

	if err != nil {
		return key, err
	}

	a.logger.Debug("Snapshot archived", map[string]interface{}{
		"key":  key,
		"size": len(body),
	})
	return key, nil
}

func (a *Archiver) execute(ctx context.Context, fn func(context.Context) error) error {
	if a.opts.Breaker == nil {
		return fn(ctx)
	}
	return a.opts.Breaker.ExecuteWithContext(ctx, fn)
}

// Run archives every interval until ctx is done, then writes one final
// snapshot. Failures are logged and do not stop the loop.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := a.opts.Clock.Ticker(a.opts.Interval)
	defer ticker.Stop()

	a.logger.Info("Archiver started", map[string]interface{}{
		"interval": a.opts.Interval.String(),
		"session":  a.opts.SessionID,
	})

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
			defer cancel()
			if _, err := a.Archive(finalCtx); err != nil {
				a.logger.Warn("Final snapshot archive failed", map[string]interface{}{"error": err})
			}
			return nil
		case <-ticker.C:
			if key, err := a.Archive(ctx); err != nil {
				a.logger.Warn("Snapshot archive failed", map[string]interface{}{
					"key":   key,
					"error": err,
				})
			}
		}
	}
}

// Close closes the sink.
func (a *Archiver) Close() error {
	return a.sink.Close()
}
