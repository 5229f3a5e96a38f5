// Package system provides the wall clock used for job timestamps.
package system

import "time"

// Clock implements crawler.Clock using time.Now. Readings are UTC and
// truncated to milliseconds, the resolution of object keys and alignment
// timestamps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
