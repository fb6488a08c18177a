// Package system provides the wall-clock implementation of monitor.Clock.
package system

import "time"

// Clock reads the system time.
type Clock struct{}

// New returns a system Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
