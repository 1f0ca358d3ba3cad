package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeArchiveWrite, "upload failed").Retryable {
			t.Error("ArchiveWrite should be retryable by default")
		}
		if NewError(ErrCodeStoreFull, "full").Retryable {
			t.Error("StoreFull should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeKeyExists, CategoryStore},
		{ErrCodeStoreFull, CategoryStore},
		{ErrCodeMapOpen, CategoryKernel},
		{ErrCodeArchiveWrite, CategoryArchive},
		{ErrCodeCircuitOpen, CategoryArchive},
		{ErrCodeMalformedEvent, CategorySource},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeArchiveWrite, "put failed").
		WithComponent("archive").
		WithOperation("put").
		WithCause(fmt.Errorf("connection reset"))

	msg := err.Error()
	if !strings.Contains(msg, "[archive:put] ARCHIVE_WRITE: put failed") {
		t.Errorf("Error() = %q, missing component/operation prefix", msg)
	}
	if !strings.Contains(msg, "connection reset") {
		t.Errorf("Error() = %q, missing cause", msg)
	}

	s := err.WithDetail("key", "a/b.json").String()
	if !strings.Contains(s, `Details={"key":"a/b.json"}`) {
		t.Errorf("String() = %q, missing details", s)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := NewError(ErrCodeStoreFull, "store is full")
	other := NewError(ErrCodeStoreFull, "different message").WithComponent("ledger")

	if !errors.Is(other, sentinel) {
		t.Error("errors.Is should match errors with the same code")
	}

	wrapped := fmt.Errorf("insert: %w", other)
	if !errors.Is(wrapped, sentinel) {
		t.Error("errors.Is should see through fmt.Errorf wrapping")
	}

	if errors.Is(NewError(ErrCodeKeyExists, "exists"), sentinel) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrCodeMapAccess, "lookup failed", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable through Unwrap")
	}

	var te *TraceError
	if !errors.As(fmt.Errorf("outer: %w", err), &te) {
		t.Fatal("errors.As should find the TraceError")
	}
	if te.Code != ErrCodeMapAccess {
		t.Errorf("Code = %s, want %s", te.Code, ErrCodeMapAccess)
	}
}
