// internal/model/job.go
package model

import "time"

// DispatchJob is the ephemeral unit of work for one queued send. It lives only
// in the broker's durable queue storage, never in the primary data store, and
// is discarded once its delivery record reaches a terminal status or the job
// exhausts its attempts.
type DispatchJob struct {
	ID         string `json:"id"`
	CampaignID int    `json:"campaign_id"`
	ContactID  int    `json:"contact_id"`
	DeliveryID int    `json:"delivery_id"`

	Phone     string    `json:"phone"`
	Body      string    `json:"body"`
	MediaURL  string    `json:"media_url,omitempty"`
	MediaType MediaType `json:"media_type,omitempty"`

	Priority  int       `json:"priority"`
	NotBefore time.Time `json:"not_before"`
	Attempt   int       `json:"attempt"`
}
