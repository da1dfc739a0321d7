// Package system provides the wall clock used to stamp audits.
package system

import "time"

// Clock implements audit.Clock using time.Now. Readings are UTC and truncated
// to microseconds so they survive a round trip through SQL timestamp columns.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
