// Package system provides the wall clock.
package system

import "time"

// Clock implements crawler.Clock in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a UTC clock for persisted timestamps.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewLocal creates a clock in the host time zone, used for operator-facing output.
func NewLocal() *Clock {
	return &Clock{loc: time.Local}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
