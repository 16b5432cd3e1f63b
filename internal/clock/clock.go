// Package clock provides a time abstraction so debounce, confirmation polling
// and the refresh loop can be driven deterministically in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the subset of the time package used by the bridge
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// After sends the current time on the returned channel once d has elapsed
	After(d time.Duration) <-chan time.Time
}

// Sleep blocks for d on c, or until ctx is done. It returns ctx.Err() when
// the wait was cut short.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// After waits for the duration to elapse and then sends the current time
func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// MockClock is a Clock whose time only moves when Advance or Set is called
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	c := &MockClock{current: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the mock current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the mock time reaches now+d
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.current.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

// Advance moves the mock clock forward by d and fires every expired waiter
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	remaining := c.waiters[:0]
	var fired []*waiter
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.cond.Broadcast()
	c.mu.Unlock()

	// Channels are buffered, so sending never blocks even if the reader left
	for _, w := range fired {
		w.ch <- now
	}
}

// Set moves the mock clock to t. Moving backwards fires nothing.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if t.After(current) {
		c.Advance(t.Sub(current))
		return
	}

	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Waiters returns the number of pending After calls
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil blocks until at least n After calls are pending. Tests use it
// to make sure a goroutine is parked on the clock before advancing it.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}
