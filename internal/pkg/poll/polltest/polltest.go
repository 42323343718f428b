// Package polltest drives a fake clock for tests of code built on poll.
package polltest

import (
	"context"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

// NewClock returns a fake clock that starts at the current wall time and
// advances by step whenever something waits on it, so poll loops run to
// completion without real sleeping. The driver stops at test cleanup.
func NewClock(t testing.TB, step time.Duration) *testingclock.FakeClock {
	t.Helper()

	fc := testingclock.NewFakeClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if fc.HasWaiters() {
				fc.Step(step)
				continue
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return fc
}
