// Package retry wraps network calls in a bounded, fixed-delay retry budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/yairfalse/awsdecomm/internal/diag"
)

// Defaults carried over from the original handler: one retry, three seconds apart.
const (
	DefaultAttempts = 2
	DefaultDelay    = 3 * time.Second
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as likely to succeed on a later attempt.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Policy retries transient failures a fixed number of times.
type Policy struct {
	attempts int
	delay    time.Duration
	clock    clock.Clock
	onRetry  func(ctx context.Context, op string)
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces the wall clock used for the delay between attempts.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clock = c }
}

// WithRetryHook registers a callback invoked before every retry.
func WithRetryHook(fn func(ctx context.Context, op string)) Option {
	return func(p *Policy) { p.onRetry = fn }
}

// NewPolicy creates a policy making at most attempts calls, sleeping delay
// between them. Non-positive values fall back to the defaults.
func NewPolicy(attempts int, delay time.Duration, opts ...Option) *Policy {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	p := &Policy{
		attempts: attempts,
		delay:    delay,
		clock:    clock.WallClock,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. Retries and the final failure are recorded in
// log under the operation name op. On success the result of fn is returned
// unmodified.
func (p *Policy) Do(ctx context.Context, log *diag.Log, op string, fn func(ctx context.Context) error) error {
	logger := zerolog.Ctx(ctx)

	// A retry is logged when the next attempt starts, not when it is scheduled.
	var (
		calls   int
		pending error
	)
	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			calls++
			if pending != nil {
				log.Addf("%s failed: %v; retrying (attempt %d of %d).", op, pending, calls, p.attempts)
				if p.onRetry != nil {
					p.onRetry(ctx, op)
				}
				pending = nil
			}
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			return !IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt >= p.attempts {
				return
			}
			logger.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("transient failure, retrying")
			pending = err
		},
		Attempts: p.attempts,
		Delay:    p.delay,
		Clock:    p.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}

	switch {
	case jujuretry.IsAttemptsExceeded(err):
		last := jujuretry.LastError(err)
		logger.Error().Err(last).Str("operation", op).Int("attempts", p.attempts).Msg("retry budget exhausted")
		log.Addf("%s failed permanently after %d attempt(s): %v", op, p.attempts, last)
		return fmt.Errorf("%s: %w", op, last)
	case jujuretry.IsRetryStopped(err):
		logger.Error().Err(ctx.Err()).Str("operation", op).Msg("retry interrupted")
		log.Addf("%s interrupted: %v", op, ctx.Err())
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		logger.Error().Err(err).Str("operation", op).Msg("non-retryable failure")
		log.Addf("%s failed permanently: %v", op, err)
		return fmt.Errorf("%s: %w", op, err)
	}
}
