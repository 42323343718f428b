// Package poll provides a bounded, cancellable fixed-interval poll loop.
package poll

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"
)

var (
	// ErrExhausted is returned when MaxAttempts conditions ran without success.
	ErrExhausted = errors.New("poll: attempts exhausted")
	// ErrTimeout is returned when Timeout elapsed without success.
	ErrTimeout = errors.New("poll: timed out")
)

// Options bounds a poll loop. Zero MaxAttempts or Timeout means unbounded on
// that axis; at least one of them (or the context) should end the loop.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Clock       clock.Clock
}

// ConditionFunc reports whether polling is done. A non-nil error ends the
// loop and is returned as is.
type ConditionFunc func(ctx context.Context) (done bool, err error)

// Until runs cond immediately and then once per Interval until it reports
// done, returns an error, the budget runs out or ctx is cancelled.
// The timeout is measured from the call and checked before every attempt
// after the first.
func Until(ctx context.Context, opts Options, cond ConditionFunc) error {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	start := clk.Now()

	for attempt := 1; ; attempt++ {
		if attempt > 1 && opts.Timeout > 0 && clk.Since(start) >= opts.Timeout {
			return ErrTimeout
		}

		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return ErrExhausted
		}

		if err := Sleep(ctx, clk, opts.Interval); err != nil {
			return err
		}
	}
}

// Sleep waits d on clk, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	t := clk.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
