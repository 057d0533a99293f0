// Package retry wraps a single fallible call with bounded exponential backoff.
// It is meant for one store call or one emission, never for a whole scan.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// Policy configures Run. Zero fields fall back to the defaults above.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Run returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs op with the default delays and up to maxAttempts attempts.
func Do(ctx context.Context, maxAttempts int, op func(ctx context.Context) error) error {
	return Policy{MaxAttempts: maxAttempts}.Run(ctx, op)
}

// Value is Run for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Run calls op until it succeeds or MaxAttempts is reached and returns the
// last error. Attempt n waits BaseDelay*2^(n-1), capped at MaxDelay, before
// attempt n+1.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = op(ctx); err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if n == attempts {
			break
		}
		delay := p.Delay(n)
		p.logger().Debug("retrying after failure", "attempt", n, "max_attempts", attempts, "delay", delay, "err", err)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

// Delay returns the wait after failed attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	delay := float64(base) * math.Pow(2, float64(n-1))
	if delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
