// internal/model/campaign.go
package model

import (
	"time"

	"github.com/lib/pq"
)

// CampaignStatus is the campaign state machine's state set.
type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignProcessing CampaignStatus = "processing"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignPaused     CampaignStatus = "paused"
	CampaignCanceled   CampaignStatus = "canceled"
	CampaignFailed     CampaignStatus = "failed"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:      {CampaignScheduled, CampaignProcessing, CampaignPaused, CampaignCanceled},
	CampaignScheduled:  {CampaignProcessing, CampaignPaused, CampaignCanceled},
	CampaignProcessing: {CampaignCompleted, CampaignFailed, CampaignPaused, CampaignCanceled},
	CampaignPaused:     {CampaignProcessing, CampaignScheduled, CampaignCanceled},
	// Recurring campaigns are re-armed out of a terminal per-run status.
	CampaignCompleted: {CampaignScheduled},
	CampaignFailed:    {CampaignScheduled, CampaignCanceled},
	CampaignCanceled:  {},
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further per-run transitions apply.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCanceled || s == CampaignFailed
}

func (s CampaignStatus) Valid() bool {
	_, ok := campaignTransitions[s]
	return ok
}

// RecurringType is how a recurring campaign advances between runs.
type RecurringType string

const (
	RecurringDaily   RecurringType = "daily"
	RecurringWeekly  RecurringType = "weekly"
	RecurringMonthly RecurringType = "monthly"
)

func (t RecurringType) Valid() bool {
	return t == RecurringDaily || t == RecurringWeekly || t == RecurringMonthly
}

// Statistics are campaign-level delivery counters. They are monotonic:
// only the delivery tracker increments them, nothing ever decrements.
type Statistics struct {
	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// Campaign is one configured bulk-send unit: a message template, a recipient
// selection and a schedule. Exactly one of SendNow / ScheduledAt / IsRecurring
// must be set at creation, and exactly one of ContactIDs / Tag / SendToAll.
type Campaign struct {
	ID         int            `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	MessageID  int            `db:"message_id" json:"message_id"`
	ContactIDs pq.Int64Array  `db:"contact_ids" json:"contact_ids,omitempty"`
	Tag        string         `db:"tag" json:"tag,omitempty"`
	SendToAll  bool           `db:"send_to_all" json:"send_to_all"`
	SendNow    bool           `db:"send_now" json:"send_now"`
	Status     CampaignStatus `db:"status" json:"status"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`

	IsRecurring     bool          `db:"is_recurring" json:"is_recurring"`
	RecurringType   RecurringType `db:"recurring_type" json:"recurring_type,omitempty"`
	RecurringDays   pq.Int64Array `db:"recurring_days" json:"recurring_days,omitempty"`
	RecurringHour   int           `db:"recurring_hour" json:"recurring_hour"`
	RecurringMinute int           `db:"recurring_minute" json:"recurring_minute"`
	RecurringStart  *time.Time    `db:"recurring_start" json:"recurring_start,omitempty"`
	RecurringEnd    *time.Time    `db:"recurring_end" json:"recurring_end,omitempty"`

	AllowedTimeStart int           `db:"allowed_time_start" json:"allowed_time_start"`
	AllowedTimeEnd   int           `db:"allowed_time_end" json:"allowed_time_end"`
	AllowedDays      pq.Int64Array `db:"allowed_days" json:"allowed_days,omitempty"`

	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt *time.Time `db:"next_run_at" json:"next_run_at,omitempty"`

	Stats Statistics `json:"statistics"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
