// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock on the wall clock.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// After fires once d has elapsed. Non-positive durations fire immediately.
func (Clock) After(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now().UTC()
		return ch
	}
	return time.After(d)
}
