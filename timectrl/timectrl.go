package timectrl

import (
	"fmt"
	"sync"
	"time"
)

// SimClock is the read-only view of simulation time. Components depend on
// this abstraction rather than a concrete clock type, which keeps them
// testable with a fake clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// VirtualClock is a purely simulated clock: time is a scalar that only the
// event scheduler advances, never wall-clock driven. It never moves
// backward.
type VirtualClock struct {
	mu      sync.RWMutex
	current time.Time

	listeners []func(time.Time)
}

// NewVirtualClock constructs a clock positioned at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// AdvanceTo moves the clock forward to t. Moving backward is a programming
// error and is rejected; the scheduler turns that into a causality
// violation before it ever reaches the clock.
func (c *VirtualClock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	if t.Before(c.current) {
		cur := c.current
		c.mu.Unlock()
		return fmt.Errorf("clock cannot move backward: at %s, asked for %s", cur, t)
	}
	c.current = t
	listeners := c.listeners
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return nil
}

// AddListener registers a callback invoked whenever the clock advances.
// Listeners must be registered before the simulation starts.
func (c *VirtualClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
