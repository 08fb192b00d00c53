package clock

import (
	"sync"
	"time"
)

// FakeClock stands still until a test moves it. Times are kept in UTC so
// period boundaries compare the same way they do against the database.
type FakeClock struct {
	mu      sync.RWMutex
	base    time.Time
	elapsed time.Duration
}

var _ Clock = (*FakeClock)(nil)

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{base: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base.Add(c.elapsed)
}

// Advance moves the clock forward; negative durations are ignored.
func (c *FakeClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.elapsed += d
	c.mu.Unlock()
}

// Set jumps to t, forwards or backwards.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.base, c.elapsed = t.UTC(), 0
	c.mu.Unlock()
}
