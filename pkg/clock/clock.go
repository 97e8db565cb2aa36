// Package clock provides the core's sole wall-clock source: nanosecond
// timestamps used only for stamping and expiry, never for scheduling.
// Every timed subsystem here (proposal, audit, dispatcher) takes `now` as
// a parameter rather than calling time.Now() itself, and Clock is how
// callers supply it, so tests can pin time exactly.
package clock

import "time"

// Clock produces the current wall-clock time as unsigned nanoseconds since
// the Unix epoch, the unit every timestamp in the core is expressed in.
type Clock interface {
	NowNs() uint64
}

// System is the production Clock, backed by time.Now().
type System struct{}

func (System) NowNs() uint64 { return uint64(time.Now().UnixNano()) }

// Fixed is a test Clock that always returns the same instant until
// advanced, letting tests exercise expiry and cooldown boundaries exactly.
type Fixed struct {
	T uint64
}

func NewFixed(t uint64) *Fixed { return &Fixed{T: t} }

func (f *Fixed) NowNs() uint64 { return f.T }

// Advance moves the fixed clock forward by delta nanoseconds and returns
// the new value.
func (f *Fixed) Advance(delta uint64) uint64 {
	f.T += delta
	return f.T
}
