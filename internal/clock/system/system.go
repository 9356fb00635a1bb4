// Package system provides the wall clock used for run timestamps.
package system

import "time"

// Clock returns UTC time at millisecond precision, the resolution run
// snapshots are stored and compared at.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now implements cloner.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
