// Package backoff retries rate-limited operations on a fixed exponential schedule.
package backoff

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"practice-insights/internal/common/metrics"
)

// DefaultDelays is the wait before each retry. Five attempts consume at most
// the first four entries.
var DefaultDelays = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

// MaxAttempts bounds invocations of the operation.
const MaxAttempts = 5

type Logger interface {
	Warn(msg string, fields map[string]interface{})
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	delays    []time.Duration
	sleep     Sleeper
	logger    Logger
	operation string
}

type Option func(*options)

// WithDelays replaces the delay table. Attempts are capped at the smaller of
// MaxAttempts and the table length.
func WithDelays(delays ...time.Duration) Option {
	return func(o *options) { o.delays = delays }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOperation labels retries in logs and metrics.
func WithOperation(name string) Option {
	return func(o *options) { o.operation = name }
}

// Do runs fn, retrying while IsRetryable reports true and attempts remain.
// The last error is returned on exhaustion; non-retryable errors are returned
// after the first attempt.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		delays:    DefaultDelays,
		sleep:     sleepContext,
		operation: "unnamed",
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := MaxAttempts
	if len(o.delays) < attempts {
		attempts = len(o.delays)
	}
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) || attempt >= attempts-1 {
			return result, err
		}

		delay := o.delays[attempt]
		metrics.BackoffRetries.WithLabelValues(o.operation).Inc()
		if o.logger != nil {
			o.logger.Warn("retrying after transient failure", map[string]interface{}{
				"operation": o.operation,
				"attempt":   attempt + 1,
				"delay_ms":  delay.Milliseconds(),
				"error":     err.Error(),
			})
		}

		if serr := o.sleep(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}
}

type statusCoder interface {
	StatusCode() int
}

// IsRetryable reports whether err looks like rate limiting or temporary
// unavailability: a 429 or 503 status anywhere in the chain, or a message
// containing "rate limit" or "too many requests".
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
