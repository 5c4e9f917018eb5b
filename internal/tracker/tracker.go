// internal/tracker/tracker.go

// Package tracker owns per-recipient delivery records and rolls their
// outcomes up into campaign counters. All status writes go through here so
// the monotonic ordering is enforced in one place.
package tracker

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// CompletionNotifier is poked after every terminal delivery update so the
// campaign lifecycle can run its completion check. The lifecycle service
// implements it; keeping it an interface here avoids a package cycle.
type CompletionNotifier interface {
	CheckCompletion(campaignID int) error
}

type Tracker struct {
	Deliveries repository.DeliveryRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Completion CompletionNotifier
	Log        zerolog.Logger
}

func New(deliveries repository.DeliveryRepositoryInterface, campaigns repository.CampaignRepositoryInterface, log zerolog.Logger) *Tracker {
	return &Tracker{
		Deliveries: deliveries,
		Campaigns:  campaigns,
		Log:        log.With().Str("component", "tracker").Logger(),
	}
}

func (t *Tracker) RecordQueued(deliveryID int) error {
	return t.advance(deliveryID, model.DeliveryQueued, repository.DeliveryPatch{})
}

func (t *Tracker) RecordProcessing(deliveryID int) error {
	return t.advance(deliveryID, model.DeliveryProcessing, repository.DeliveryPatch{})
}

// RecordSent marks the send accepted by the provider and stores the provider
// message id for later webhook correlation. note carries partial-success
// detail such as the media-to-text fallback.
func (t *Tracker) RecordSent(deliveryID int, providerID, note string) error {
	return t.advance(deliveryID, model.DeliverySent, repository.DeliveryPatch{
		ProviderMessageID: providerID,
		Note:              note,
	})
}

func (t *Tracker) RecordFailed(deliveryID int, reason string) error {
	return t.advance(deliveryID, model.DeliveryFailed, repository.DeliveryPatch{FailReason: reason})
}

// RecordAck applies an inbound delivery/read acknowledgement correlated by
// provider message id. Replays and out-of-order arrivals are no-ops: an
// update that would not advance the status order is simply dropped.
func (t *Tracker) RecordAck(providerID string, level model.DeliveryStatus) error {
	if level != model.DeliveryDelivered && level != model.DeliveryRead && level != model.DeliveryFailed {
		return fmt.Errorf("unsupported ack level %q", level)
	}
	rec, err := t.Deliveries.GetByProviderID(providerID)
	if err != nil {
		return err
	}
	if rec == nil {
		t.Log.Warn().Str("provider_id", providerID).Msg("ack for unknown provider message id")
		return nil
	}
	return t.apply(rec, level, repository.DeliveryPatch{})
}

func (t *Tracker) advance(deliveryID int, next model.DeliveryStatus, patch repository.DeliveryPatch) error {
	rec, err := t.Deliveries.GetByID(deliveryID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("delivery record %d not found", deliveryID)
	}
	return t.apply(rec, next, patch)
}

func (t *Tracker) apply(rec *model.DeliveryRecord, next model.DeliveryStatus, patch repository.DeliveryPatch) error {
	if !rec.Status.CanAdvanceTo(next) {
		// Rejected, not an error: idempotent replays and stale updates
		// must never downgrade a record or double-count.
		t.Log.Debug().
			Int("delivery_id", rec.ID).
			Str("from", string(rec.Status)).
			Str("to", string(next)).
			Msg("dropping non-advancing status update")
		return nil
	}

	applied, err := t.Deliveries.Advance(rec.ID, rec.Status, next, patch)
	if err != nil {
		return err
	}
	if !applied {
		// Lost a race with a concurrent writer; that writer's update won.
		t.Log.Debug().Int("delivery_id", rec.ID).Msg("concurrent delivery update won, skipping")
		return nil
	}

	if field, ok := statusCounter[next]; ok {
		if err := t.Campaigns.IncrementStat(rec.CampaignID, field); err != nil {
			return err
		}
	}

	if (next == model.DeliverySent || next == model.DeliveryFailed) && t.Completion != nil {
		if err := t.Completion.CheckCompletion(rec.CampaignID); err != nil {
			t.Log.Error().Err(err).Int("campaign_id", rec.CampaignID).Msg("completion check failed")
		}
	}
	return nil
}

// counter column bumped when a record first enters each status
var statusCounter = map[model.DeliveryStatus]repository.StatField{
	model.DeliverySent:      repository.StatSent,
	model.DeliveryDelivered: repository.StatDelivered,
	model.DeliveryRead:      repository.StatRead,
	model.DeliveryFailed:    repository.StatFailed,
}
