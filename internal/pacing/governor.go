// internal/pacing/governor.go
package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Governor caps aggregate send throughput across all concurrent campaigns.
// Per-job delays pace each campaign individually; the governor is the global
// ceiling on top of that. Burst is 1 so grants stay evenly spaced.
type Governor struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewGovernor(messagesPerMinute int) *Governor {
	if messagesPerMinute <= 0 {
		messagesPerMinute = DefaultMessagesPerMinute
	}
	return &Governor{
		limiter: rate.NewLimiter(perMinute(messagesPerMinute), 1),
	}
}

// Admit blocks until a send slot is granted or ctx is done. It returns the
// time the slot was granted.
func (g *Governor) Admit(ctx context.Context) (time.Time, error) {
	g.mu.Lock()
	l := g.limiter
	g.mu.Unlock()

	if err := l.Wait(ctx); err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

// SetRate retunes the ceiling at runtime.
func (g *Governor) SetRate(messagesPerMinute int) {
	if messagesPerMinute <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limiter = rate.NewLimiter(perMinute(messagesPerMinute), 1)
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}
