package sync

import (
	"sync"
	"time"
)

// coalescer debounces local-change signals: a single one-shot timer,
// reset on every schedule call within its delay window, so a burst of
// file events collapses into one run of fn.
type coalescer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func newCoalescer(delay time.Duration, fn func()) *coalescer {
	return &coalescer{delay: delay, fn: fn}
}

// schedule (re)arms the debounce timer. Repeated calls within delay
// collapse to the single run that fires after the last call.
func (c *coalescer) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.delay, c.fn)
}

// stop cancels any pending run.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
