package simnet

import (
	"sync"
	"time"
)

// Clock is a manually advanced virtual clock. It satisfies driver.Clock, so
// a Driver running against a Network never reads wall time: every "now" it
// observes comes from the last Advance call a test made.
//
// wake is the channel every blocked WaitForNextIncomingMessage call selects
// on; Advance closes the old one and installs a fresh one, the standard Go
// idiom for broadcasting a one-shot wakeup to any number of waiters without
// a condition variable.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	wake chan struct{}
}

// NewClock returns a virtual clock reading start until Advance moves it.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start, wake: make(chan struct{})}
}

// Now reports the clock's current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// watch returns the current time together with the channel that will close
// the next time the clock advances.
func (c *Clock) watch() (time.Time, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, c.wake
}

// Advance moves the clock forward by d and wakes every blocked
// WaitForNextIncomingMessage call so it can re-check its own deadline
// against the new time.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	old := c.wake
	c.wake = make(chan struct{})
	c.mu.Unlock()
	close(old)
}
