// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/pacing"
	"github.com/unclebandit/wacampaign-backend/internal/recurrence"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
)

// CampaignService owns the campaign state machine: it validates and creates
// campaigns, expands a starting campaign into dispatch jobs, and rolls
// delivery outcomes up into the terminal per-run status.
type CampaignService struct {
	Campaigns  repository.CampaignRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Messages   repository.MessageRepositoryInterface
	Deliveries repository.DeliveryRepositoryInterface

	Dispatcher dispatch.Dispatcher
	Tracker    *tracker.Tracker

	MessagesPerMinute int
	Log               zerolog.Logger

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) perMinute() int {
	if s.MessagesPerMinute <= 0 {
		return pacing.DefaultMessagesPerMinute
	}
	return s.MessagesPerMinute
}

// CreateCampaignInput is the external create request.
type CreateCampaignInput struct {
	Name        string     `json:"name"`
	MessageID   int        `json:"message_id"`
	ContactIDs  []int64    `json:"contact_ids,omitempty"`
	Tag         string     `json:"tag,omitempty"`
	SendToAll   bool       `json:"send_to_all,omitempty"`
	SendNow     bool       `json:"send_now,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	IsRecurring     bool                `json:"is_recurring,omitempty"`
	RecurringType   model.RecurringType `json:"recurring_type,omitempty"`
	RecurringDays   []int64             `json:"recurring_days,omitempty"`
	RecurringHour   int                 `json:"recurring_hour,omitempty"`
	RecurringMinute int                 `json:"recurring_minute,omitempty"`
	RecurringStart  *time.Time          `json:"recurring_start,omitempty"`
	RecurringEnd    *time.Time          `json:"recurring_end,omitempty"`

	AllowedTimeStart int     `json:"allowed_time_start,omitempty"`
	AllowedTimeEnd   int     `json:"allowed_time_end,omitempty"`
	AllowedDays      []int64 `json:"allowed_days,omitempty"`
}

func (in CreateCampaignInput) validate() error {
	if in.Name == "" {
		return appErrors.NewValidation("campaign name is required")
	}
	if in.MessageID == 0 {
		return appErrors.ErrNoMessage
	}

	audiences := 0
	if len(in.ContactIDs) > 0 {
		audiences++
	}
	if in.Tag != "" {
		audiences++
	}
	if in.SendToAll {
		audiences++
	}
	if audiences != 1 {
		return appErrors.NewValidation("exactly one of contact_ids, tag or send_to_all must be set")
	}

	schedules := 0
	if in.SendNow {
		schedules++
	}
	if in.ScheduledAt != nil {
		schedules++
	}
	if in.IsRecurring {
		schedules++
	}
	if schedules != 1 {
		return appErrors.NewValidation("exactly one of send_now, scheduled_at or is_recurring must be set")
	}

	if in.IsRecurring {
		if !in.RecurringType.Valid() {
			return appErrors.NewValidation("invalid recurring_type %q", in.RecurringType)
		}
		if in.RecurringHour < 0 || in.RecurringHour > 23 || in.RecurringMinute < 0 || in.RecurringMinute > 59 {
			return appErrors.NewValidation("recurring time %02d:%02d out of range", in.RecurringHour, in.RecurringMinute)
		}
		for _, d := range in.RecurringDays {
			switch in.RecurringType {
			case model.RecurringMonthly:
				if d < 1 || d > 31 {
					return appErrors.NewValidation("recurring day-of-month %d out of range", d)
				}
			default:
				if d < 0 || d > 6 {
					return appErrors.NewValidation("recurring weekday %d out of range", d)
				}
			}
		}
	}

	if in.AllowedTimeStart < 0 || in.AllowedTimeStart > 23 || in.AllowedTimeEnd < 0 || in.AllowedTimeEnd > 24 {
		return appErrors.NewValidation("allowed time window out of range")
	}
	for _, d := range in.AllowedDays {
		if d < 0 || d > 6 {
			return appErrors.NewValidation("allowed weekday %d out of range", d)
		}
	}
	return nil
}

// CreateCampaign validates and persists a new campaign. Send-now campaigns
// start immediately; scheduled and recurring ones are armed for the
// scheduler.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if msg, err := s.Messages.GetByID(in.MessageID); err != nil {
		return nil, err
	} else if msg == nil {
		return nil, appErrors.ErrNoMessage
	}

	c := &model.Campaign{
		Name:       in.Name,
		MessageID:  in.MessageID,
		ContactIDs: pq.Int64Array(in.ContactIDs),
		Tag:        in.Tag,
		SendToAll:  in.SendToAll,
		SendNow:    in.SendNow,
		Status:     model.CampaignDraft,

		ScheduledAt: in.ScheduledAt,

		IsRecurring:     in.IsRecurring,
		RecurringType:   in.RecurringType,
		RecurringDays:   pq.Int64Array(in.RecurringDays),
		RecurringHour:   in.RecurringHour,
		RecurringMinute: in.RecurringMinute,
		RecurringStart:  in.RecurringStart,
		RecurringEnd:    in.RecurringEnd,

		AllowedTimeStart: in.AllowedTimeStart,
		AllowedTimeEnd:   in.AllowedTimeEnd,
		AllowedDays:      pq.Int64Array(in.AllowedDays),
	}

	now := s.now()
	switch {
	case in.ScheduledAt != nil && in.ScheduledAt.After(now):
		c.Status = model.CampaignScheduled
	case in.IsRecurring:
		next := recurrence.NextRun(recurrence.RuleFor(c), recurrence.WindowFor(c), nil, now)
		if next == nil {
			return nil, appErrors.NewValidation("recurrence configuration yields no future run")
		}
		c.NextRunAt = next
		c.Status = model.CampaignScheduled
	}

	if err := s.Campaigns.Create(c); err != nil {
		return nil, err
	}

	if in.SendNow {
		if err := s.Start(ctx, c.ID); err != nil {
			return c, err
		}
		return s.Campaigns.GetByID(c.ID)
	}
	return c, nil
}

// UpdateAudience replaces the recipient selection. The recipient set is
// frozen while the campaign is scheduled or processing.
func (s *CampaignService) UpdateAudience(campaignID int, contactIDs []int64, tag string, sendToAll bool) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.CampaignScheduled || c.Status == model.CampaignProcessing {
		return appErrors.ErrFrozenAudience
	}
	return s.Campaigns.UpdateAudience(campaignID, pq.Int64Array(contactIDs), tag, sendToAll)
}

// Start runs the campaign now, or arms it if its scheduled date is still in
// the future. Validation failures abort before anything is enqueued.
func (s *CampaignService) Start(ctx context.Context, campaignID int) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignPaused && c.Status != model.CampaignScheduled {
		return appErrors.NewInvalidTransition(c.Status, model.CampaignProcessing)
	}

	now := s.now()
	if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
		if c.Status != model.CampaignScheduled {
			return s.Campaigns.UpdateStatus(c.ID, model.CampaignScheduled)
		}
		return nil
	}

	msg, err := s.Messages.GetByID(c.MessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return appErrors.ErrNoMessage
	}
	if msg.HasMedia() {
		u, err := url.Parse(msg.MediaURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return appErrors.NewValidation("media url %q is not reachable", msg.MediaURL)
		}
		if !msg.MediaType.Valid() {
			return appErrors.NewValidation("unsupported media type %q", msg.MediaType)
		}
	}

	contacts, err := s.resolveAudience(c)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return appErrors.ErrNoRecipients
	}

	// A paused campaign that has dispatched before picks its run back up
	// against the existing delivery rows. Everything else is a fresh run.
	resuming := c.Status == model.CampaignPaused && c.Stats.Total > 0

	if !resuming {
		// Recipients of a fresh run need new trackable rows: the idempotent
		// Create would hand back the previous run's rows, and a terminal row
		// absorbs every status update, so sent+failed could never grow to
		// cover the enlarged total.
		if err := s.Deliveries.DeleteByCampaign(c.ID); err != nil {
			return err
		}
	}

	type pendingSend struct {
		rec     *model.DeliveryRecord
		contact model.Contact
	}
	sends := make([]pendingSend, 0, len(contacts))
	for _, contact := range contacts {
		rec, err := s.Deliveries.Create(c.ID, contact.ID, msg.ID)
		if err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Int("contact_id", contact.ID).Msg("cannot create delivery record")
			continue
		}
		if rec.Status != model.DeliveryPending && rec.Status != model.DeliveryQueued {
			// resumed record already with the worker or settled
			continue
		}
		sends = append(sends, pendingSend{rec: rec, contact: contact})
	}

	// total counts only recipients that actually got a row, so the
	// completion arithmetic stays closed when a Create fails.
	if resuming {
		if err := s.Campaigns.UpdateStatus(c.ID, model.CampaignProcessing); err != nil {
			return err
		}
	} else {
		if len(sends) == 0 {
			return fmt.Errorf("campaign %d: no delivery records created", c.ID)
		}
		if err := s.Campaigns.MarkStarted(c.ID, len(sends)); err != nil {
			return err
		}
	}

	total := len(sends)
	enqueued := 0
	for i, ps := range sends {
		rec, contact := ps.rec, ps.contact
		job := model.DispatchJob{
			CampaignID: c.ID,
			ContactID:  contact.ID,
			DeliveryID: rec.ID,
			Phone:      contact.Phone,
			Body:       RenderForContact(msg.Body, &contact),
			MediaURL:   msg.MediaURL,
			MediaType:  msg.MediaType,
			NotBefore:  now.Add(pacing.Delay(total, s.perMinute(), i)),
		}

		if err := s.Tracker.RecordQueued(rec.ID); err != nil {
			s.Log.Error().Err(err).Int("delivery_id", rec.ID).Msg("cannot mark queued")
		}
		if _, err := s.Dispatcher.Enqueue(ctx, job); err != nil {
			s.Log.Error().Err(err).Int("delivery_id", rec.ID).Msg("enqueue failed")
			if rerr := s.Tracker.RecordFailed(rec.ID, "enqueue failed: "+err.Error()); rerr != nil {
				s.Log.Error().Err(rerr).Int("delivery_id", rec.ID).Msg("cannot record enqueue failure")
			}
			continue
		}
		enqueued++
	}

	if resuming {
		// The pause may have outlived the last outstanding delivery.
		if err := s.CheckCompletion(c.ID); err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("completion check after resume failed")
		}
	}

	s.Log.Info().
		Int("campaign_id", c.ID).
		Int("total", total).
		Int("enqueued", enqueued).
		Bool("resumed", resuming).
		Bool("fallback", s.Dispatcher.FallbackMode()).
		Msg("campaign dispatched")
	return nil
}

func (s *CampaignService) resolveAudience(c *model.Campaign) ([]model.Contact, error) {
	switch {
	case len(c.ContactIDs) > 0:
		return s.Contacts.ListByIDs(c.ContactIDs)
	case c.Tag != "":
		return s.Contacts.ListByTag(c.Tag)
	case c.SendToAll:
		return s.Contacts.ListAll()
	}
	return nil, appErrors.ErrNoRecipients
}

// Pause stops future status progress. Already-enqueued jobs are not
// retracted and run to completion; see the queue Clear operation.
func (s *CampaignService) Pause(campaignID int) error {
	return s.transition(campaignID, model.CampaignPaused, func(from model.CampaignStatus) bool {
		return from == model.CampaignProcessing || from == model.CampaignScheduled
	})
}

// Cancel is allowed from any state except completed/canceled. The same
// non-retraction caveat as Pause applies.
func (s *CampaignService) Cancel(campaignID int) error {
	return s.transition(campaignID, model.CampaignCanceled, func(from model.CampaignStatus) bool {
		return from != model.CampaignCompleted && from != model.CampaignCanceled
	})
}

func (s *CampaignService) transition(campaignID int, to model.CampaignStatus, ok func(model.CampaignStatus) bool) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if !ok(c.Status) {
		return appErrors.NewInvalidTransition(c.Status, to)
	}
	return s.Campaigns.UpdateStatus(campaignID, to)
}

// CheckCompletion is invoked by the delivery tracker after each terminal
// delivery update. A campaign is done once sent+failed cover the snapshotted
// total; it is reported failed when every send failed or a majority did.
func (s *CampaignService) CheckCompletion(campaignID int) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignProcessing {
		return nil
	}
	st := c.Stats
	if st.Total == 0 || st.Sent+st.Failed < st.Total {
		return nil
	}

	final := model.CampaignCompleted
	if st.Failed == st.Total || st.Failed > st.Total/2 {
		final = model.CampaignFailed
	}

	now := s.now()
	if err := s.Campaigns.SetLastRun(c.ID, now); err != nil {
		return err
	}

	if c.IsRecurring {
		next := c.NextRunAt
		if next == nil || !next.After(now) {
			next = recurrence.NextRun(recurrence.RuleFor(c), recurrence.WindowFor(c), &now, now)
		}
		if next == nil {
			if err := s.Campaigns.ClearRecurrence(c.ID); err != nil {
				return err
			}
		} else {
			if err := s.Campaigns.SetNextRun(c.ID, next); err != nil {
				return err
			}
			s.Log.Info().Int("campaign_id", c.ID).Time("next_run", *next).Str("run_result", string(final)).Msg("recurring campaign re-armed")
			return s.Campaigns.UpdateStatus(c.ID, model.CampaignScheduled)
		}
	}

	s.Log.Info().
		Int("campaign_id", c.ID).
		Int("sent", st.Sent).
		Int("failed", st.Failed).
		Int("total", st.Total).
		Str("status", string(final)).
		Msg("campaign finished")
	return s.Campaigns.UpdateStatus(c.ID, final)
}

// Statistics returns the campaign's monotonic delivery counters.
func (s *CampaignService) Statistics(campaignID int) (*model.Statistics, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	return &c.Stats, nil
}

// ====================== Read-side helpers ======================

type CampaignDetails struct {
	*model.Campaign
	DeliveryCounts map[model.DeliveryStatus]int `json:"delivery_counts"`
}

// GetCampaignDetails fetches a campaign together with its per-status
// delivery counts.
func (s *CampaignService) GetCampaignDetails(campaignID int) (*CampaignDetails, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.Deliveries.CountByStatus(campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, DeliveryCounts: counts}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.Campaigns.ListCampaigns(offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// RenderPreview renders the campaign's template against one contact.
func (s *CampaignService) RenderPreview(campaignID, contactID int, overrideTemplate *string) (string, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", appErrors.NewValidation("contact %d not found", contactID)
	}

	template := ""
	if msg, err := s.Messages.GetByID(c.MessageID); err != nil {
		return "", err
	} else if msg != nil {
		template = msg.Body
	}
	if overrideTemplate != nil && *overrideTemplate != "" {
		template = *overrideTemplate
	}
	if template == "" {
		return "", appErrors.NewValidation("template cannot be empty")
	}

	return RenderForContact(template, contact), nil
}

var _ tracker.CompletionNotifier = (*CampaignService)(nil)
