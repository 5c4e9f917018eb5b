package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// DeliveryPatch carries the extra columns set alongside a status advance.
type DeliveryPatch struct {
	ProviderMessageID string
	FailReason        string
	Note              string
}

type DeliveryRepositoryInterface interface {
	// Create inserts the per-recipient row idempotently: an existing
	// (campaign, contact, message) row is returned as-is.
	Create(campaignID, contactID, messageID int) (*model.DeliveryRecord, error)
	GetByID(id int) (*model.DeliveryRecord, error)
	GetByProviderID(providerID string) (*model.DeliveryRecord, error)

	// Advance applies a guarded status update: the row moves to next only if
	// it still holds the expected current status. Returns false when a
	// concurrent update won the race.
	Advance(id int, current, next model.DeliveryStatus, patch DeliveryPatch) (bool, error)

	// DeleteByCampaign removes every delivery row of a campaign. Called at
	// the start of a fresh run so recipients get new trackable rows instead
	// of the previous run's terminal ones.
	DeleteByCampaign(campaignID int) error

	CountByStatus(campaignID int) (map[model.DeliveryStatus]int, error)
	GlobalCounts() (map[model.DeliveryStatus]int, error)
}

type DeliveryRepository struct {
	DB *sql.DB
}

const deliveryColumns = `id, campaign_id, contact_id, message_id, status, provider_message_id,
    fail_reason, note, queued_at, processing_at, sent_at, delivered_at, read_at, failed_at,
    created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (*model.DeliveryRecord, error) {
	var d model.DeliveryRecord
	err := row.Scan(
		&d.ID, &d.CampaignID, &d.ContactID, &d.MessageID, &d.Status, &d.ProviderMessageID,
		&d.FailReason, &d.Note, &d.QueuedAt, &d.ProcessingAt, &d.SentAt, &d.DeliveredAt, &d.ReadAt, &d.FailedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeliveryRepository) Create(campaignID, contactID, messageID int) (*model.DeliveryRecord, error) {
	existing, err := r.getByKey(campaignID, contactID, messageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := `
        INSERT INTO deliveries (campaign_id, contact_id, message_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id, message_id) DO NOTHING
        RETURNING ` + deliveryColumns
	d, err := scanDelivery(r.DB.QueryRow(query, campaignID, contactID, messageID, model.DeliveryPending))
	if err != nil {
		if err == sql.ErrNoRows {
			// Lost the insert race; the row exists now.
			return r.getByKey(campaignID, contactID, messageID)
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) getByKey(campaignID, contactID, messageID int) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + `
        FROM deliveries WHERE campaign_id=$1 AND contact_id=$2 AND message_id=$3`
	d, err := scanDelivery(r.DB.QueryRow(query, campaignID, contactID, messageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) GetByID(id int) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id=$1`
	d, err := scanDelivery(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) GetByProviderID(providerID string) (*model.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE provider_message_id=$1`
	d, err := scanDelivery(r.DB.QueryRow(query, providerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) DeleteByCampaign(campaignID int) error {
	_, err := r.DB.Exec(`DELETE FROM deliveries WHERE campaign_id=$1`, campaignID)
	return err
}

// timestamp column stamped when a record enters each status
var statusStamp = map[model.DeliveryStatus]string{
	model.DeliveryQueued:     "queued_at",
	model.DeliveryProcessing: "processing_at",
	model.DeliverySent:       "sent_at",
	model.DeliveryDelivered:  "delivered_at",
	model.DeliveryRead:       "read_at",
	model.DeliveryFailed:     "failed_at",
}

func (r *DeliveryRepository) Advance(id int, current, next model.DeliveryStatus, patch DeliveryPatch) (bool, error) {
	set := "status=$1, updated_at=$2"
	args := []interface{}{next, time.Now()}
	pos := 3

	if stamp, ok := statusStamp[next]; ok {
		set += fmt.Sprintf(", %s=$2", stamp)
	}
	if patch.ProviderMessageID != "" {
		set += fmt.Sprintf(", provider_message_id=$%d", pos)
		args = append(args, patch.ProviderMessageID)
		pos++
	}
	if patch.FailReason != "" {
		set += fmt.Sprintf(", fail_reason=$%d", pos)
		args = append(args, patch.FailReason)
		pos++
	}
	if patch.Note != "" {
		set += fmt.Sprintf(", note=$%d", pos)
		args = append(args, patch.Note)
		pos++
	}

	query := fmt.Sprintf(`UPDATE deliveries SET %s WHERE id=$%d AND status=$%d`, set, pos, pos+1)
	args = append(args, id, current)

	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DeliveryRepository) CountByStatus(campaignID int) (map[model.DeliveryStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM deliveries WHERE campaign_id=$1 GROUP BY status`
	return r.countQuery(query, campaignID)
}

func (r *DeliveryRepository) GlobalCounts() (map[model.DeliveryStatus]int, error) {
	return r.countQuery(`SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
}

func (r *DeliveryRepository) countQuery(query string, args ...interface{}) (map[model.DeliveryStatus]int, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.DeliveryStatus]int{}
	for rows.Next() {
		var status model.DeliveryStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
