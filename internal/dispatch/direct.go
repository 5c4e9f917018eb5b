// internal/dispatch/direct.go
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// DirectDispatcher is the degraded-mode path used when the broker is
// unreachable at startup: Enqueue becomes a synchronous send straight through
// the transport. Delivery records are still written, but there is no pacing
// delay and no retry-with-delay. Operators can see this through the fallback
// flag in queue stats.
type DirectDispatcher struct {
	transport transport.Transport
	tracker   *tracker.Tracker

	secondsPerJob float64

	mu     sync.Mutex
	paused bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	log zerolog.Logger
}

func NewDirectDispatcher(tr transport.Transport, tk *tracker.Tracker, secondsPerJob float64, log zerolog.Logger) *DirectDispatcher {
	return &DirectDispatcher{
		transport:     tr,
		tracker:       tk,
		secondsPerJob: secondsPerJob,
		log:           log.With().Str("component", "dispatch").Str("mode", "direct").Logger(),
	}
}

func (d *DirectDispatcher) Enqueue(ctx context.Context, job model.DispatchJob) (string, error) {
	d.mu.Lock()
	paused := d.paused
	d.mu.Unlock()
	if paused {
		return "", appErrors.ErrQueuePaused
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.active.Add(1)
	defer d.active.Add(-1)

	if err := d.tracker.RecordProcessing(job.DeliveryID); err != nil {
		return "", err
	}

	providerID, note, err := sendJob(ctx, d.transport, job)
	if err != nil {
		d.failed.Add(1)
		if rerr := d.tracker.RecordFailed(job.DeliveryID, err.Error()); rerr != nil {
			return "", rerr
		}
		d.log.Warn().Err(err).Int("delivery_id", job.DeliveryID).Msg("direct send failed")
		return job.ID, nil
	}

	d.completed.Add(1)
	if err := d.tracker.RecordSent(job.DeliveryID, providerID, note); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (d *DirectDispatcher) Stats(ctx context.Context) (QueueStats, error) {
	return QueueStats{
		Active:       int(d.active.Load()),
		Completed:    int(d.completed.Load()),
		Failed:       int(d.failed.Load()),
		FallbackMode: true,
	}, nil
}

func (d *DirectDispatcher) Pause() error {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	return nil
}

func (d *DirectDispatcher) Resume() error {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	return nil
}

// Clear is a no-op: nothing is queued in direct mode.
func (d *DirectDispatcher) Clear(includeActive bool) error { return nil }

func (d *DirectDispatcher) FallbackMode() bool { return true }

var _ Dispatcher = (*DirectDispatcher)(nil)
