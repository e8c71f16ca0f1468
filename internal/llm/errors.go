package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoBackend is returned when no completion backend is configured.
	ErrNoBackend = errors.New("no LLM backend configured: set llm.backend with OPENAI_API_KEY, GOOGLE_API_KEY or LLM_SERVICE_URL")
	// ErrEmptyResponse is returned when a backend answers with no text.
	ErrEmptyResponse = errors.New("empty completion response")
)

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Backend, e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ValidationError means the model answered but the answer did not satisfy
// the expected schema.
type ValidationError struct {
	Task   Task
	Reason string
	Raw    string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s response: %s: %v", e.Task, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s response: %s", e.Task, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// isRetryable classifies errors from a single backend attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return false
}

// transientError marks backend errors that carry no status but should be retried.
type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Retryable() bool { return true }
