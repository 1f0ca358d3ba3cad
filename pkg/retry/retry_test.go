package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/iotrace/iotrace/pkg/errors"
)

func fastConfig() Config {
	config := DefaultConfig()
	config.MaxAttempts = 3
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeArchiveWrite, "upload failed")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeAccessDenied, "access denied")

	err := retryer.Do(func() error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_PlainErrorIsNotRetried(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return fmt.Errorf("plain failure")
	})

	if err == nil || attempts != 1 {
		t.Errorf("Expected one attempt and an error, got %d attempts, err=%v", attempts, err)
	}
}

func TestRetryer_RetryableFlagOverridesCode(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	err := retryer.Do(func() error {
		attempts++
		return errors.NewError(errors.ErrCodeAccessDenied, "token refreshed").WithRetryable(true)
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	retryer := New(fastConfig())

	attempts := 0
	cause := errors.NewError(errors.ErrCodeNetworkError, "connection reset")
	err := retryer.Do(func() error {
		attempts++
		return cause
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if !stderr.Is(err, errors.NewError(errors.ErrCodeRetryExhausted, "")) {
		t.Errorf("Expected RETRY_EXHAUSTED, got %v", err)
	}

	var traceErr *errors.TraceError
	if !stderr.As(err, &traceErr) || traceErr.Cause != cause {
		t.Errorf("Expected the last error as cause, got %v", err)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	var delays []time.Duration
	retryer := New(fastConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	})

	_ = retryer.Do(func() error {
		return errors.NewError(errors.ErrCodeArchiveWrite, "fail")
	})

	if len(delays) != 2 {
		t.Fatalf("Expected 2 retry callbacks, got %d", len(delays))
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("Expected exponential delays [1ms 2ms], got %v", delays)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Hour
	config.MaxDelay = time.Hour
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- retryer.DoWithContext(ctx, func(ctx context.Context) error {
			attempts++
			return errors.NewError(errors.ErrCodeArchiveWrite, "fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !stderr.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retryer did not observe cancellation")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = time.Second
	config.Jitter = false
	retryer := New(config)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		if got := retryer.calculateDelay(tt.attempt); got != tt.expected {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = 100 * time.Millisecond
	retryer := New(config)

	for i := 0; i < 100; i++ {
		d := retryer.calculateDelay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", d)
		}
	}
}
