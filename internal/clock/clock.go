// Package clock injects time into components whose behavior depends on the
// current instant, so tests can pin it.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Fixed is a settable clock for tests.
type Fixed struct {
	now time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

func (f *Fixed) Now() time.Time {
	return f.now
}

// Set moves the fixed clock to t.
func (f *Fixed) Set(t time.Time) {
	f.now = t
}

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
