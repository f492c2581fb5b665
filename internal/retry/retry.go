// Package retry wraps fallible remote calls with bounded exponential
// backoff. Only rate-limit-class failures are retried; anything else is
// treated as non-transient and propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited marks an error as rate-limit-class. Wrap provider
// errors with RateLimited() so Do can recognize them via errors.Is.
var ErrRateLimited = errors.New("rate limited")

// RateLimited wraps err so IsRateLimited reports true for it.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// Policy bounds the retry loop.
//
// Retries counts re-invocations after the first attempt, so Retries=3
// means at most 4 invocations. Delay grows by Multiplier after every
// retried attempt.
type Policy struct {
	Retries    int
	Base       time.Duration
	Multiplier int
}

// DefaultPolicy matches the generation providers' published limits:
// 3 retries starting at 2s, doubling (2s, 4s, 8s).
func DefaultPolicy() Policy {
	return Policy{Retries: 3, Base: 2 * time.Second, Multiplier: 2}
}

// sleep is swapped in tests to avoid real waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do invokes fn, retrying rate-limited failures with exponential
// backoff until the policy is exhausted. The zero value of T is
// returned alongside any final error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Base <= 0 {
		p.Base = 2 * time.Second
	}
	if p.Multiplier < 2 {
		p.Multiplier = 2
	}

	delay := p.Base
	remaining := p.Retries
	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRateLimited(err) || remaining <= 0 {
			return zero, err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
		delay *= time.Duration(p.Multiplier)
		remaining--
	}
}
