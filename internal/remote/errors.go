package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code classifies a remote store failure. The set is closed: translation
// from driver and transport errors always lands on one of these, with
// Unknown as the catch-all.
type Code string

const (
	// CodePermissionDenied means the credentials were rejected. Retrying
	// cannot help until the user re-authenticates.
	CodePermissionDenied Code = "permission_denied"
	// CodeUnavailable means the remote store could not be reached or is
	// temporarily refusing work.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout means the call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeQuotaExceeded means the remote store is rate limiting us.
	CodeQuotaExceeded Code = "quota_exceeded"
	// CodeNotFound means the target row does not exist remotely.
	CodeNotFound Code = "not_found"
	// CodeAlreadyExists means an insert hit an existing primary key.
	CodeAlreadyExists Code = "already_exists"
	// CodeInvalidArgument means the request was malformed or violated a
	// remote constraint. Retrying the same payload will fail the same way.
	CodeInvalidArgument Code = "invalid_argument"
	// CodeConflict means a version check failed.
	CodeConflict Code = "conflict"
	// CodeUnknown is the fallback for unclassified failures.
	CodeUnknown Code = "unknown"
)

// Error is the failure type returned by every Store method.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("remote %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: a later attempt
// against an unchanged remote may succeed. Everything else is fatal for
// the operation that produced it.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeUnavailable, CodeTimeout, CodeQuotaExceeded:
		return true
	default:
		return false
	}
}

// CodeOf extracts the classification from any error returned by this
// package. Non-remote errors report CodeUnknown.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Retryable()
}

func errf(code Code, op string, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// translate maps driver, transport and context errors onto the closed
// code set. Classification is by error type where possible and by the
// libSQL/SQLite message text where the driver exposes nothing better.
func translate(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return re
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeUnavailable, Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Code: CodeTimeout, Op: op, Err: err}
		}
		return &Error{Code: CodeUnavailable, Op: op, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key constraint"):
		return &Error{Code: CodeAlreadyExists, Op: op, Err: err}
	case strings.Contains(msg, "constraint"):
		return &Error{Code: CodeInvalidArgument, Op: op, Err: err}
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy"):
		return &Error{Code: CodeUnavailable, Op: op, Err: err}
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset"):
		return &Error{Code: CodeUnavailable, Op: op, Err: err}
	case strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return &Error{Code: CodeQuotaExceeded, Op: op, Err: err}
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "authentication"):
		return &Error{Code: CodePermissionDenied, Op: op, Err: err}
	}

	return &Error{Code: CodeUnknown, Op: op, Err: err}
}
