// internal/model/delivery.go
package model

import "time"

// DeliveryStatus tracks one recipient's send through its lifecycle. Statuses
// form a strict order pending < queued < processing < sent < delivered < read;
// failed is a sink reachable from any non-terminal status. Updates that would
// regress the order are rejected so webhook replays cannot downgrade a record.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryQueued     DeliveryStatus = "queued"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryRead       DeliveryStatus = "read"
	DeliveryFailed     DeliveryStatus = "failed"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:    0,
	DeliveryQueued:     1,
	DeliveryProcessing: 2,
	DeliverySent:       3,
	DeliveryDelivered:  4,
	DeliveryRead:       5,
}

func (s DeliveryStatus) Valid() bool {
	if s == DeliveryFailed {
		return true
	}
	_, ok := deliveryRank[s]
	return ok
}

// Terminal reports whether no further transition can be applied.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryRead || s == DeliveryFailed
}

// CanAdvanceTo reports whether moving from s to next respects the status
// order. Moving to failed is allowed from every non-terminal status.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == DeliveryFailed || s == DeliveryRead {
		return false
	}
	if next == DeliveryFailed {
		return true
	}
	from, ok := deliveryRank[s]
	if !ok {
		return false
	}
	to, ok := deliveryRank[next]
	if !ok {
		return false
	}
	return to > from
}

// DeliveryRecord is the per-recipient tracking row for one campaign send:
// one row per (campaign, contact, message).
type DeliveryRecord struct {
	ID                int            `db:"id" json:"id"`
	CampaignID        int            `db:"campaign_id" json:"campaign_id"`
	ContactID         int            `db:"contact_id" json:"contact_id"`
	MessageID         int            `db:"message_id" json:"message_id"`
	Status            DeliveryStatus `db:"status" json:"status"`
	ProviderMessageID string         `db:"provider_message_id" json:"provider_message_id,omitempty"`
	FailReason        string         `db:"fail_reason" json:"fail_reason,omitempty"`
	Note              string         `db:"note" json:"note,omitempty"`

	QueuedAt     *time.Time `db:"queued_at" json:"queued_at,omitempty"`
	ProcessingAt *time.Time `db:"processing_at" json:"processing_at,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt       *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt     *time.Time `db:"failed_at" json:"failed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
