// internal/scheduler/scheduler.go

// Package scheduler decides when campaigns become eligible to run. A single
// periodic tick finds due one-shot campaigns and due recurring campaigns,
// checks the latter against their allowed sending window, and hands eligible
// ones to the campaign lifecycle.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/recurrence"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// Lifecycle is the slice of the campaign service the scheduler drives.
type Lifecycle interface {
	Start(ctx context.Context, campaignID int) error
}

type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Lifecycle Lifecycle
	Interval  time.Duration
	Log       zerolog.Logger

	// NowFunc is injectable for tests; nil means time.Now.
	NowFunc func() time.Time

	c *cron.Cron
}

func New(campaigns repository.CampaignRepositoryInterface, lifecycle Lifecycle, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		Campaigns: campaigns,
		Lifecycle: lifecycle,
		Interval:  interval,
		Log:       log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now()
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.c = cron.New()
	s.c.Schedule(cron.Every(s.Interval), cron.FuncJob(s.Tick))
	s.c.Start()
	s.Log.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop halts ticking; a tick in progress finishes.
func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

// Tick runs one scheduling pass. Errors for one campaign are logged and
// never abort the pass for the others.
func (s *Scheduler) Tick() {
	ctx := context.Background()
	now := s.now()

	s.runDueOneShot(ctx, now)
	s.runDueRecurring(ctx, now)
}

func (s *Scheduler) runDueOneShot(ctx context.Context, now time.Time) {
	due, err := s.Campaigns.DueOneShot(now)
	if err != nil {
		s.Log.Error().Err(err).Msg("cannot query due campaigns")
		return
	}
	for _, c := range due {
		if err := s.Lifecycle.Start(ctx, c.ID); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("scheduled start failed")
		}
	}
}

func (s *Scheduler) runDueRecurring(ctx context.Context, now time.Time) {
	due, err := s.Campaigns.DueRecurring(now)
	if err != nil {
		s.Log.Error().Err(err).Msg("cannot query due recurring campaigns")
		return
	}

	for _, c := range due {
		rule := recurrence.RuleFor(c)
		window := recurrence.WindowFor(c)

		if !window.Contains(now) {
			// Outside the allowed window: skip this tick but move
			// next_run_at to the next valid slot so the campaign is
			// re-evaluated rather than stuck in the past.
			s.rearm(c, rule, window, c.LastRunAt, now)
			continue
		}

		if err := s.Lifecycle.Start(ctx, c.ID); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("recurring start failed")
			continue
		}
		if err := s.Campaigns.SetLastRun(c.ID, now); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("cannot stamp last run")
		}
		s.rearm(c, rule, window, &now, now)
	}
}

func (s *Scheduler) rearm(c *model.Campaign, rule recurrence.Rule, window recurrence.Window, lastRun *time.Time, now time.Time) {
	next := recurrence.NextRun(rule, window, lastRun, now)
	if next == nil {
		if err := s.Campaigns.ClearRecurrence(c.ID); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("cannot clear recurrence")
		} else {
			s.Log.Info().Int("campaign_id", c.ID).Msg("recurrence exhausted, disabled")
		}
		return
	}
	if err := s.Campaigns.SetNextRun(c.ID, next); err != nil {
		s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("cannot set next run")
	}
}
