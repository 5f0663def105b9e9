// Package clock provides the monotonic nanosecond clock and sleep-until
// primitive that the arrival process and request lifecycle are timed
// against (spec.md §4.2).
package clock

import (
	"context"
	"time"
)

// Clock is the monotonic time source used throughout the client. It is an
// interface so tests can substitute a fake without touching wall time.
type Clock interface {
	// NowNs returns the current monotonic time in nanoseconds.
	NowNs() int64
	// SleepUntil blocks until the clock reaches targetNs, or ctx is
	// cancelled. If targetNs has already passed, it returns immediately.
	SleepUntil(ctx context.Context, targetNs int64)
}

// System is the real Clock. NowNs reports nanoseconds elapsed since the
// package was initialised, measured with time.Since, which uses the
// monotonic reading carried by time.Now(); wall-clock adjustments do not
// affect it.
type System struct{}

// epoch anchors System's readings.
var epoch = time.Now()

func (System) NowNs() int64 {
	return int64(time.Since(epoch))
}

// SleepUntil loops on a timer rather than sleeping once for the full
// duration, so spurious early wakeups (e.g. from a Timer firing a hair
// early under load) are handled by re-checking the clock, per spec.md
// §4.2.
func (s System) SleepUntil(ctx context.Context, targetNs int64) {
	for {
		now := s.NowNs()
		if now >= targetNs {
			return
		}

		d := time.Duration(targetNs - now)
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}
