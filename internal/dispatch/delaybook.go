// internal/dispatch/delaybook.go
package dispatch

import (
	"sync"
	"time"
)

// delayBook tracks the not-before times of jobs this process has published,
// so queue stats can report how many are delayed rather than ready. Past
// entries are pruned on read.
type delayBook struct {
	mu    sync.Mutex
	times []time.Time
}

func (b *delayBook) Add(t time.Time) {
	if !t.After(time.Now()) {
		return
	}
	b.mu.Lock()
	b.times = append(b.times, t)
	b.mu.Unlock()
}

func (b *delayBook) Pending(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.times[:0]
	for _, t := range b.times {
		if t.After(now) {
			kept = append(kept, t)
		}
	}
	b.times = kept
	return len(kept)
}
