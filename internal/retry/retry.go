// Package retry wraps calls to external services with bounded exponential
// backoff. Any call can be wrapped; what counts as retryable and how long to
// wait are both pluggable.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Kind classifies a service failure
type Kind int

const (
	// RateLimited failures are retried and never seen by callers directly
	RateLimited Kind = iota + 1
	// Fatal failures are not retried
	Fatal
	// Exhausted means every attempt failed with a retryable error
	Exhausted
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate limited"
	case Fatal:
		return "fatal"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ServiceError is returned by Do when the call did not succeed
type ServiceError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("service %s after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("service %s: %v", e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewRateLimited marks err as a rate-limit signal from a service
func NewRateLimited(err error) error {
	return &ServiceError{Kind: RateLimited, Err: err}
}

// Policy controls Do
type Policy struct {
	// MaxAttempts is the total number of calls, including the first
	MaxAttempts int
	// BaseDelay is the wait after the first failure
	BaseDelay time.Duration
	// MaxDelay caps a single wait; zero means no cap
	MaxDelay time.Duration
	// Jitter is the largest random fraction added to each wait
	Jitter float64

	// Retryable decides whether an error is worth another attempt
	Retryable func(error) bool
	// Delay overrides the backoff computation
	Delay func(attempt int) time.Duration
	// OnAttempt is called after every attempt with its error, nil on success
	OnAttempt func(attempt int, err error)
	// OnRetry is called before each wait
	OnRetry func(attempt int, wait time.Duration, err error)

	// rand returns a value in [0, 1); tests replace it
	rand func() float64
}

// DefaultPolicy returns three attempts starting at two seconds
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
		Retryable:   IsRetryable,
	}
}

// Backoff returns base * 2^(attempt-1) plus up to Jitter of that, capped at MaxDelay
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}

	random := rand.Float64
	if p.rand != nil {
		random = p.rand
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * random())
	}
	return d
}

func (p Policy) wait(attempt int) time.Duration {
	if p.Delay != nil {
		return p.Delay(attempt)
	}
	return p.Backoff(attempt)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or runs
// out of attempts. Waits between attempts honour ctx cancellation.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err == nil {
			return v, nil
		}

		if !retryable(err) {
			return zero, &ServiceError{Kind: Fatal, Attempts: attempt, Err: err}
		}
		if attempt >= maxAttempts {
			return zero, &ServiceError{Kind: Exhausted, Attempts: attempt, Err: err}
		}

		wait := p.wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("waiting to retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
