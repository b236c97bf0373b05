package register

import "sync"

// manualClock lets tests drive NowMillis by hand.
type manualClock struct {
	mu  sync.Mutex
	now int64
}

func (c *manualClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}
