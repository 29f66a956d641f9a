// Package clock implements the Lamport logical clock shared by a worker
// process. Control clients usually have no causally-synchronized clock of
// their own, so the receiving side forwards its clock on every inbound
// control message.
package clock

import "sync/atomic"

// Clock is a monotonic causality counter. The zero value is ready to use.
type Clock struct {
	value atomic.Uint64
}

// New returns a Clock starting at the given value.
func New(start uint64) *Clock {
	c := &Clock{}
	c.value.Store(start)
	return c
}

// Forward increments the clock by one and returns the new value.
func (c *Clock) Forward() uint64 {
	return c.value.Add(1)
}

// Adjust merges a remote clock value: the clock becomes
// max(local, remote) + 1. Used when a message carries a valid clock.
func (c *Clock) Adjust(remote uint64) uint64 {
	for {
		cur := c.value.Load()
		next := cur + 1
		if remote >= cur {
			next = remote + 1
		}
		if c.value.CompareAndSwap(cur, next) {
			return next
		}
	}
}

// Value returns the current clock value.
func (c *Clock) Value() uint64 {
	return c.value.Load()
}
