// Package torasuritest provides fixtures shared by the tests of all torasuri
// packages.
package torasuritest

import (
	"sync"
	"time"

	"github.com/iov-one/torasuri"
)

// Clock is a torasuri.Clock that moves only when told to.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

var _ torasuri.Clock = (*Clock)(nil)

// NewClock returns a clock stopped at given time.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements torasuri.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to given time.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
