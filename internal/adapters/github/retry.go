package github

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// RetryOptions configures retry behavior for API calls.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryOptions returns sensible retry defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// WithRetry executes an operation with exponential backoff on retryable
// errors (rate limits and server errors).
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return zero, err
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		delay := opts.BaseDelay * (1 << attempt)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		if retryAfter := extractRetryAfter(err); retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

// WithRetryVoid is WithRetry for operations that return only an error.
func WithRetryVoid(ctx context.Context, op func() error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, opts)
	return err
}

// isRetryableError reports whether an API error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, status := range []string{"status 429", "status 500", "status 502", "status 503", "status 504"} {
		if strings.Contains(msg, status) {
			return true
		}
	}
	return false
}

// extractRetryAfter pulls a Retry-After hint out of a rate limit error
// body, if present.
func extractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	msg := err.Error()
	idx := strings.Index(msg, `"retry_after":`)
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len(`"retry_after":`):]
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return 0
	}
	secs, convErr := strconv.Atoi(strings.TrimSpace(rest[:end]))
	if convErr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
