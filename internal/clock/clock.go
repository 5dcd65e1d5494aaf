// Package clock provides the wall+monotonic clock pair the node uses for
// IPNS record validity (wall clock, RFC3339) and timeout/republish
// scheduling (monotonic, via time.Since/context.WithTimeout downstream).
// Adapted from gloudx-ues/clock's logical-clock shape: a single struct
// guarding its state behind a mutex, with a small method-per-concern
// surface, but replacing the Lamport counter with the pair spec.md's
// Clock design note calls for.
package clock

import (
	"sync"
	"time"
)

// Clock is a cheap, cloneable handle; all methods are safe for concurrent
// use. A zero Clock is not valid, use New.
type Clock struct {
	mu  sync.Mutex
	now func() time.Time
}

// New returns a Clock backed by the real wall clock.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewFixed returns a Clock pinned to t, for deterministic tests.
func NewFixed(t time.Time) *Clock {
	return &Clock{now: func() time.Time { return t }}
}

// Now returns the current wall-clock time, used for RFC3339 validity
// checks on IPNS records.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// After reports whether the wall clock has passed t.
func (c *Clock) After(t time.Time) bool {
	return c.Now().After(t)
}

// Deadline returns a wall-clock time lifetime in the future, suitable for
// an IPNS record's validity field.
func (c *Clock) Deadline(lifetime time.Duration) time.Time {
	return c.Now().Add(lifetime)
}

// Advance moves a fixed clock forward by d; only meaningful on clocks
// built with NewFixed, used by tests that exercise republish/expiry
// without sleeping.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.now()
	c.now = func() time.Time { return cur.Add(d) }
}
