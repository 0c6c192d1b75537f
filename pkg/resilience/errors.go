// Package resilience provides the shared failure-handling machinery:
// error classification, the retry policy, per-downstream circuit
// breakers, and the consumer backpressure meter.
package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a call is rejected because the
// downstream's breaker is open. The retryer and the consumer both
// short-circuit on it: the document goes to the DLQ as service_down
// without burning local retries, and the reprocessor replays it once
// the downstream recovers.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ClassifiedError wraps a failure with its retry semantics. Errors that
// reach the consumer without classification are treated as retriable.
type ClassifiedError struct {
	Err       error
	Retriable bool
	// Code is a stable machine-readable identifier for DLQ records,
	// e.g. "intelligence_4xx" or "embedding_timeout".
	Code string
}

func (e *ClassifiedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retriable marks err as safe to retry.
func Retriable(code string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retriable: true, Code: code}
}

// NonRetriable marks err as permanent. The retry policy gives up
// immediately and the document is routed to the DLQ.
func NonRetriable(code string, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Retriable: false, Code: code}
}

// IsRetriable reports whether err may be retried. Unclassified errors
// default to retriable; context cancellation does not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retriable
	}
	return true
}

// ErrorCode extracts the classification code, or "" when unclassified.
func ErrorCode(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
