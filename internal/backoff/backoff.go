// Package backoff implements a bounded retry schedule with jittered
// fixed intervals. It retries a fixed number of times and then stops;
// there is no unbounded exponential growth because callers hold a user
// waiting on the other side.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrExhausted reports that every attempt ran without the work
// completing.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Interval is the base delay between attempts.
	Interval time.Duration
	// JitterFraction spreads each delay by ±fraction of Interval.
	JitterFraction float64
}

// Delay returns the jittered pause before the given attempt (1-based).
// Attempt 1 runs immediately.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Interval <= 0 {
		return 0
	}
	jitter := p.JitterFraction
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	spread := float64(p.Interval) * jitter
	offset := (rand.Float64()*2 - 1) * spread
	d := time.Duration(float64(p.Interval) + offset)
	if d < 0 {
		d = 0
	}
	return d
}

// Retry runs fn up to MaxAttempts times, sleeping Delay between
// attempts. fn reports done=true to stop early with its error (nil or
// not); a false, nil return means "not yet, try again". Context
// cancellation wins over the schedule.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) (done bool, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn(ctx)
		if done {
			return err
		}
		lastErr = err
	}
	if lastErr != nil {
		return errors.Join(ErrExhausted, lastErr)
	}
	return ErrExhausted
}
