package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestTranslate_Classification tests driver and transport error mapping.
func TestTranslate_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"cancelled", context.Canceled, CodeUnavailable},
		{"unique constraint", errors.New("UNIQUE constraint failed: entries.id"), CodeAlreadyExists},
		{"check constraint", errors.New("CHECK constraint failed"), CodeInvalidArgument},
		{"locked", errors.New("database is locked"), CodeUnavailable},
		{"busy", errors.New("SQLITE_BUSY: database busy"), CodeUnavailable},
		{"refused", errors.New("dial tcp: connection refused"), CodeUnavailable},
		{"no host", errors.New("dial tcp: lookup family.turso.io: no such host"), CodeUnavailable},
		{"rate limit", errors.New("429 too many requests"), CodeQuotaExceeded},
		{"auth", errors.New("401 unauthorized"), CodePermissionDenied},
		{"mystery", errors.New("something odd"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate("test", tt.err)
			if got.Code != tt.want {
				t.Errorf("translate(%v) = %s, want %s", tt.err, got.Code, tt.want)
			}
		})
	}
}

// TestTranslate_PreservesExisting tests that an already-classified error
// passes through unchanged, even wrapped.
func TestTranslate_PreservesExisting(t *testing.T) {
	orig := errf(CodeNotFound, "get entry", "entry x not found")
	wrapped := fmt.Errorf("drain attempt: %w", orig)

	got := translate("outer", wrapped)
	if got.Code != CodeNotFound {
		t.Errorf("Code = %s, want %s", got.Code, CodeNotFound)
	}
}

// TestError_Retryable tests the transient/fatal split.
func TestError_Retryable(t *testing.T) {
	retryable := []Code{CodeUnavailable, CodeTimeout, CodeQuotaExceeded}
	fatal := []Code{
		CodePermissionDenied, CodeNotFound, CodeAlreadyExists,
		CodeInvalidArgument, CodeConflict, CodeUnknown,
	}

	for _, c := range retryable {
		e := &Error{Code: c, Op: "test"}
		if !e.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}
	for _, c := range fatal {
		e := &Error{Code: c, Op: "test"}
		if e.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

// TestCodeOf tests code extraction through wrapping.
func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", errf(CodeConflict, "update entry", "version moved"))
	if got := CodeOf(err); got != CodeConflict {
		t.Errorf("CodeOf() = %s, want %s", got, CodeConflict)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Errorf("CodeOf(plain) = %s, want %s", got, CodeUnknown)
	}
	if !IsRetryable(fmt.Errorf("x: %w", errf(CodeTimeout, "op", "slow"))) {
		t.Error("wrapped timeout should be retryable")
	}
}
