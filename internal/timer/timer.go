// Package timer implements the stopwatch attached to the active tab.
//
// A Timer is a plain value: elapsed time is computed from the instant it was
// started plus whatever was accumulated before the last pause, so there is
// no background ticking and tests can drive it with fixed instants.
//
// Time is counted in whole wall-clock milliseconds, the resolution of the
// openedAt and lastVisited stamps on a page record. A segment that starts and
// ends inside the same millisecond counts zero.
package timer

import "time"

type state int

const (
	idle state = iota
	running
	paused
)

// Timer is an immutable stopwatch value. The zero value is idle.
type Timer struct {
	state       state
	accumulated time.Duration
	startedAt   time.Time
}

// Start begins or resumes counting at now. Starting a running timer is a no-op.
func (t Timer) Start(now time.Time) Timer {
	if t.state == running {
		return t
	}
	t.state = running
	t.startedAt = now
	return t
}

// Pause stops counting at now and keeps the elapsed value.
func (t Timer) Pause(now time.Time) Timer {
	if t.state != running {
		return t
	}
	t.accumulated += since(t.startedAt, now)
	t.state = paused
	t.startedAt = time.Time{}
	return t
}

// Running reports whether the timer is counting.
func (t Timer) Running() bool {
	return t.state == running
}

// Elapsed returns the counted duration as of now.
func (t Timer) Elapsed(now time.Time) time.Duration {
	if t.state == running {
		return t.accumulated + since(t.startedAt, now)
	}
	return t.accumulated
}

// Seconds returns Elapsed as fractional seconds.
func (t Timer) Seconds(now time.Time) float64 {
	return t.Elapsed(now).Seconds()
}

// since never goes negative, so a clock stepping backwards cannot subtract
// time that was already counted.
func since(start, now time.Time) time.Duration {
	d := now.UnixMilli() - start.UnixMilli()
	if d < 0 {
		return 0
	}
	return time.Duration(d) * time.Millisecond
}
