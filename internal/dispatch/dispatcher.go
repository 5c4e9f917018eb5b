// internal/dispatch/dispatcher.go

// Package dispatch moves dispatch jobs from campaign expansion to the
// message transport. The normal path goes through a durable RabbitMQ queue
// drained by a worker pool; when the broker is unreachable at startup the
// engine degrades to a direct synchronous sender. Both paths implement
// Dispatcher and are selected once at process start.
package dispatch

import (
	"context"
	"math"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// QueueStats is the operator-facing view of the dispatch queue.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`

	// FallbackMode tells operators pace/retry guarantees are absent.
	FallbackMode bool `json:"fallback_mode"`

	// EstimatedDrainSeconds = pending jobs * seconds per job / concurrency.
	EstimatedDrainSeconds int `json:"estimated_drain_seconds"`
}

// Dispatcher accepts dispatch jobs and exposes queue-level controls.
type Dispatcher interface {
	Enqueue(ctx context.Context, job model.DispatchJob) (jobID string, err error)
	Stats(ctx context.Context) (QueueStats, error)
	Pause() error
	Resume() error
	Clear(includeActive bool) error
	FallbackMode() bool
}

func estimateDrain(pending int, secondsPerJob float64, concurrency int) int {
	if pending <= 0 || secondsPerJob <= 0 {
		return 0
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return int(math.Ceil(float64(pending) * secondsPerJob / float64(concurrency)))
}
