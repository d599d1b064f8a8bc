package chain

import (
	"sync"
	"time"
)

// Clock supplies block time to the ledger.
type Clock interface {
	Now() time.Time
}

// ManualClock is a Clock that only moves when told to. The service sets it
// to the command timestamp before every command, so journal replay sees the
// same time the live call did.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
