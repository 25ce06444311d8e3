package sync

import (
	"sync"
	"testing"
	"time"
)

func TestCoalescerCollapsesBurstToOneRun(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	c := newCoalescer(20*time.Millisecond, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		c.schedule()
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs > 0
	})
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	got := runs
	mu.Unlock()
	if got != 1 {
		t.Fatalf("runs = %d, want exactly 1 after a burst of schedule() calls", got)
	}
}

func TestCoalescerStopCancelsPendingRun(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	c := newCoalescer(10*time.Millisecond, func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	c.schedule()
	c.stop()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	got := runs
	mu.Unlock()
	if got != 0 {
		t.Fatalf("runs = %d, want 0 after stop() before the timer fired", got)
	}
}
