// Package clock implements the simulator's two virtual-time resolutions.
//
// Simulated runs use picosecond resolution so that a multi-hour simulation
// still resolves sub-microsecond event ordering without overflowing a
// 64-bit counter. Real-time runs use nanosecond resolution because the
// event loop actually sleeps between events and picosecond sleeps would be
// meaningless. A Clock value fixes its resolution at construction so the
// two cannot be mixed by accident -- a class of bug that is easy to commit
// when conversion is a pair of free functions instead of a method set.
package clock

import "time"

// Resolution selects how a Time value maps onto wall-clock durations.
type Resolution uint8

const (
	// Picosecond is the default resolution for simulated runs.
	Picosecond Resolution = iota
	// Nanosecond is used for real-time runs, where the event loop sleeps.
	Nanosecond
)

// String returns the resolution's name.
func (r Resolution) String() string {
	switch r {
	case Picosecond:
		return "picosecond"
	case Nanosecond:
		return "nanosecond"
	default:
		return "unknown"
	}
}

// Time is a monotonically non-decreasing virtual-time counter. Its unit
// depends on the Clock that produced it; Time values from Clocks of
// different resolutions must not be compared directly.
type Time uint64

// MaxTime is the sentinel meaning "never" -- e.g. the stop-time default.
const MaxTime Time = ^Time(0)

// Delay is a duration expressed in the same unit as a Time.
type Delay = Time

// Clock converts between wall-clock durations and a fixed-resolution Time.
type Clock struct {
	res        Resolution
	unitsPerNs uint64
}

// New returns a Clock for the given resolution.
func New(res Resolution) Clock {
	switch res {
	case Nanosecond:
		return Clock{res: res, unitsPerNs: 1}
	default:
		return Clock{res: Picosecond, unitsPerNs: 1000}
	}
}

// Resolution returns the clock's resolution.
func (c Clock) Resolution() Resolution { return c.res }

// FromNanos converts a wall-clock duration to a Time at this clock's
// resolution.
func (c Clock) FromNanos(d time.Duration) Time {
	if d < 0 {
		d = 0
	}
	return Time(uint64(d) * c.unitsPerNs)
}

// ToNanos converts a Time at this clock's resolution to a wall-clock
// duration.
func (c Clock) ToNanos(t Time) time.Duration {
	if t == MaxTime {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(uint64(t) / c.unitsPerNs)
}

// FromSeconds converts a floating-point second count to a Time.
func (c Clock) FromSeconds(s float64) Time {
	return c.FromNanos(time.Duration(s * float64(time.Second)))
}
