// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock reads time.Now and waits on real timers.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After delivers the current time once d has elapsed.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
