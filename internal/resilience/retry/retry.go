// Package retry provides bounded-retry execution for fallible operations.
// The delay between attempts is constant per configuration; callers that need
// backoff configure a larger fixed delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Config holds the configuration for retry logic.
type Config struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	Attempts int

	// Delay is the constant wait between attempts.
	Delay time.Duration

	// OnError, if set, is invoked after each failed attempt with the error
	// and the 1-based attempt number. It is observability only and must not
	// alter control flow.
	OnError func(err error, attempt int)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Attempts: 3,
		Delay:    1 * time.Second,
	}
}

// FeedFetchConfig returns configuration for upstream bulk fetches.
// Aggressive retry for transient network issues.
func FeedFetchConfig() Config {
	return Config{
		Attempts: 5,
		Delay:    2 * time.Second,
	}
}

// AIAPIConfig returns configuration for AI analysis calls.
// Moderate retry due to cost considerations.
func AIAPIConfig() Config {
	return Config{
		Attempts: 3,
		Delay:    2 * time.Second,
	}
}

// DBConfig returns configuration for durable store operations.
// Fast retry for transient connection issues.
func DBConfig() Config {
	return Config{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
	}
}

// ExhaustedError is returned when all attempts have failed. It wraps the
// last error observed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last underlying error for errors.Is/As.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do aborts immediately instead of retrying.
// Use it for malformed payloads and other errors a retry cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes op with bounded retries and a constant delay between attempts.
// It returns the first successful result. If all attempts fail it returns the
// zero value and an *ExhaustedError wrapping the last error. Permanent errors
// and context cancellation abort the loop immediately.
//
// op must be idempotent, or the caller must accept duplicate side effects.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.OnError != nil {
			cfg.OnError(err, attempt)
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		// Abort only when the caller's context is done. An operation error
		// that merely wraps a deadline (a per-attempt timeout) is retryable.
		if ctx.Err() != nil {
			return zero, err
		}

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether an HTTP error is worth retrying: 5xx server
// errors, 429 and 408 are transient, everything else is not.
func (e *HTTPError) IsRetryable() bool {
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout
}
