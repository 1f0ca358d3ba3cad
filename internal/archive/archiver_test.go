package archive

import (
	"context"
	"encoding/json"
	stderr "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotrace/iotrace/internal/circuit"
	"github.com/iotrace/iotrace/internal/config"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/health"
	"github.com/iotrace/iotrace/pkg/retry"
	"github.com/iotrace/iotrace/pkg/types"
)

type memorySink struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures int
	err      error
	puts     int
	closed   bool
}

func newMemorySink() *memorySink {
	return &memorySink{objects: make(map[string][]byte)}
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Put(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failures > 0 {
		m.failures--
		if m.err != nil {
			return m.err
		}
		return writeError("memory", key, stderr.New("connection reset"))
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memorySink) CheckHealth(ctx context.Context) error { return nil }

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) Objects() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}

func (m *memorySink) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

type clockSource struct {
	clk   clock.Clock
	drops uint64
}

func (s *clockSource) Snapshot() types.Snapshot {
	return types.Snapshot{
		Taken: s.clk.Now(),
		Drops: types.DropStats{CorrelationMiss: s.drops},
	}
}

type recorder struct {
	mu         sync.Mutex
	operations int
	failures   int
	errors     int
}

func (r *recorder) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations++
	if !success {
		r.failures++
	}
}

func (r *recorder) RecordError(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func fastRetry(attempts int) *retry.Retryer {
	return retry.New(retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeArchiveWrite,
		},
	})
}

func TestArchiveWritesSnapshot(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 5))
	sink := newMemorySink()

	a := New(&clockSource{clk: clk, drops: 4}, sink, Options{
		Prefix:    "traces",
		SessionID: "session-1",
		Clock:     clk,
		Retry:     fastRetry(1),
	})

	key, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "traces/session-1/1700000000000000005.json", key)

	body, ok := sink.Objects()[key]
	require.True(t, ok)
	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, uint64(4), snap.Drops.CorrelationMiss)
}

func TestArchiveDefaults(t *testing.T) {
	a := New(&clockSource{clk: clock.NewMock()}, newMemorySink(), Options{})

	assert.Equal(t, time.Minute, a.opts.Interval)
	assert.Equal(t, 30*time.Second, a.opts.Timeout)
	assert.Equal(t, "iotrace", a.opts.Prefix)
	assert.Len(t, a.SessionID(), 36)
	assert.True(t, strings.HasPrefix(a.Key(time.Unix(0, 1)), "iotrace/"+a.SessionID()+"/"))
}

func TestArchiveRetriesTransientFailures(t *testing.T) {
	sink := newMemorySink()
	sink.failures = 2
	rec := &recorder{}
	tracker := health.NewTracker(health.DefaultConfig())

	a := New(&clockSource{clk: clock.NewMock()}, sink, Options{
		Retry:   fastRetry(3),
		Health:  tracker,
		Metrics: rec,
	})

	_, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sink.Puts())
	assert.Len(t, sink.Objects(), 1)
	assert.Equal(t, 1, rec.operations)
	assert.Zero(t, rec.failures)
	assert.True(t, tracker.IsHealthy("memory"))
}

func TestArchiveFailureIsRecorded(t *testing.T) {
	sink := newMemorySink()
	sink.failures = 10
	rec := &recorder{}
	tracker := health.NewTracker(health.DefaultConfig())

	a := New(&clockSource{clk: clock.NewMock()}, sink, Options{
		Retry:   fastRetry(2),
		Health:  tracker,
		Metrics: rec,
	})

	_, err := a.Archive(context.Background())
	require.Error(t, err)

	var traceErr *errors.TraceError
	require.True(t, stderr.As(err, &traceErr))
	assert.Equal(t, errors.ErrCodeRetryExhausted, traceErr.Code)
	assert.Equal(t, 2, sink.Puts())
	assert.Equal(t, 1, rec.failures)
	assert.Equal(t, 1, rec.errors)
	assert.Equal(t, health.StateDegraded, tracker.GetState("memory"))
}

func TestArchiveDoesNotRetryPermanentErrors(t *testing.T) {
	sink := newMemorySink()
	sink.failures = 1
	sink.err = errors.NewError(errors.ErrCodeAccessDenied, "denied")

	a := New(&clockSource{clk: clock.NewMock()}, sink, Options{Retry: fastRetry(3)})

	_, err := a.Archive(context.Background())
	require.Error(t, err)
	assert.True(t, stderr.Is(err, errors.NewError(errors.ErrCodeAccessDenied, "")))
	assert.Equal(t, 1, sink.Puts())
}

func TestArchiveCircuitBreakerOpens(t *testing.T) {
	sink := newMemorySink()
	sink.failures = 100
	clk := clock.NewMock()

	breaker := circuit.NewCircuitBreaker("archive", circuit.Config{
		ReadyToTrip: circuit.TripAfterConsecutiveFailures(2),
		Timeout:     time.Minute,
		Clock:       clk,
	})
	a := New(&clockSource{clk: clk}, sink, Options{
		Retry:   fastRetry(1),
		Breaker: breaker,
		Clock:   clk,
	})

	for i := 0; i < 2; i++ {
		_, err := a.Archive(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, circuit.StateOpen, breaker.GetState())

	_, err := a.Archive(context.Background())
	assert.ErrorIs(t, err, circuit.ErrOpenState)
	assert.Equal(t, 2, sink.Puts())
}

func TestArchiverRunWritesFinalSnapshot(t *testing.T) {
	clk := clock.NewMock()
	sink := newMemorySink()

	a := New(&clockSource{clk: clk}, sink, Options{
		Interval: time.Minute,
		Clock:    clk,
		Retry:    fastRetry(1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool {
		clk.Add(time.Minute)
		return sink.Puts() >= 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// The final archive runs after cancellation.
	assert.GreaterOrEqual(t, sink.Puts(), 3)
	assert.GreaterOrEqual(t, len(sink.Objects()), 2)
	require.NoError(t, a.Close())
	assert.True(t, sink.closed)
}

func TestNewSinkSelectsBackend(t *testing.T) {
	ctx := context.Background()

	_, err := NewSink(ctx, config.ArchiveConfig{Backend: "tape"}, nil)
	require.Error(t, err)
	assert.True(t, stderr.Is(err, errors.NewError(errors.ErrCodeInvalidConfig, "")))

	sink, err := NewSink(ctx, config.ArchiveConfig{
		Backend: "redis",
		Redis:   config.RedisConfig{Address: "127.0.0.1:0"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "redis", sink.Name())
	require.NoError(t, sink.Close())

	_, err = NewSink(ctx, config.ArchiveConfig{Backend: "minio"}, nil)
	assert.Error(t, err)

	_, err = NewSink(ctx, config.ArchiveConfig{Backend: "S3"}, nil)
	assert.Error(t, err)
}
