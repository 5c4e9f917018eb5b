package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// StatField names a monotonic campaign counter column.
type StatField string

const (
	StatSent      StatField = "stats_sent"
	StatDelivered StatField = "stats_delivered"
	StatRead      StatField = "stats_read"
	StatFailed    StatField = "stats_failed"
)

func (f StatField) valid() bool {
	switch f {
	case StatSent, StatDelivered, StatRead, StatFailed:
		return true
	}
	return false
}

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(campaignID int, status model.CampaignStatus) error
	UpdateAudience(campaignID int, contactIDs pq.Int64Array, tag string, sendToAll bool) error

	// Run bookkeeping
	MarkStarted(campaignID, addTotal int) error
	IncrementStat(campaignID int, field StatField) error
	SetLastRun(campaignID int, t time.Time) error
	SetNextRun(campaignID int, t *time.Time) error
	ClearRecurrence(campaignID int) error

	// Scheduler queries
	DueOneShot(now time.Time) ([]*model.Campaign, error)
	DueRecurring(now time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, message_id, contact_ids, tag, send_to_all, send_now, status,
    scheduled_at, is_recurring, recurring_type, recurring_days, recurring_hour, recurring_minute,
    recurring_start, recurring_end, allowed_time_start, allowed_time_end, allowed_days,
    last_run_at, next_run_at, stats_total, stats_sent, stats_delivered, stats_read, stats_failed,
    created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	var messageID sql.NullInt64
	err := row.Scan(
		&c.ID, &c.Name, &messageID, &c.ContactIDs, &c.Tag, &c.SendToAll, &c.SendNow, &c.Status,
		&c.ScheduledAt, &c.IsRecurring, &c.RecurringType, &c.RecurringDays, &c.RecurringHour, &c.RecurringMinute,
		&c.RecurringStart, &c.RecurringEnd, &c.AllowedTimeStart, &c.AllowedTimeEnd, &c.AllowedDays,
		&c.LastRunAt, &c.NextRunAt, &c.Stats.Total, &c.Stats.Sent, &c.Stats.Delivered, &c.Stats.Read, &c.Stats.Failed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.MessageID = int(messageID.Int64)
	return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns
            (name, message_id, contact_ids, tag, send_to_all, send_now, status, scheduled_at,
             is_recurring, recurring_type, recurring_days, recurring_hour, recurring_minute,
             recurring_start, recurring_end, allowed_time_start, allowed_time_end, allowed_days,
             next_run_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
        RETURNING id
    `
	var messageID any
	if c.MessageID != 0 {
		messageID = c.MessageID
	}
	return r.DB.QueryRow(query,
		c.Name, messageID, c.ContactIDs, c.Tag, c.SendToAll, c.SendNow, c.Status, c.ScheduledAt,
		c.IsRecurring, c.RecurringType, c.RecurringDays, c.RecurringHour, c.RecurringMinute,
		c.RecurringStart, c.RecurringEnd, c.AllowedTimeStart, c.AllowedTimeEnd, c.AllowedDays,
		c.NextRunAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

func (r *CampaignRepository) UpdateAudience(campaignID int, contactIDs pq.Int64Array, tag string, sendToAll bool) error {
	query := `UPDATE campaigns SET contact_ids=$1, tag=$2, send_to_all=$3, updated_at=NOW() WHERE id=$4`
	_, err := r.DB.Exec(query, contactIDs, tag, sendToAll, campaignID)
	return err
}

// ====================== Run bookkeeping ======================

// MarkStarted flips the campaign to processing and grows the total counter by
// the size of this run's recipient snapshot.
func (r *CampaignRepository) MarkStarted(campaignID, addTotal int) error {
	query := `
        UPDATE campaigns
        SET status=$1, stats_total = stats_total + $2, updated_at=NOW()
        WHERE id=$3
    `
	_, err := r.DB.Exec(query, model.CampaignProcessing, addTotal, campaignID)
	return err
}

// IncrementStat bumps one counter atomically so concurrent worker completions
// never lose an update to a read-modify-write race.
func (r *CampaignRepository) IncrementStat(campaignID int, field StatField) error {
	if !field.valid() {
		return fmt.Errorf("unknown stat field %q", field)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at=NOW() WHERE id=$1`, field, field)
	_, err := r.DB.Exec(query, campaignID)
	return err
}

func (r *CampaignRepository) SetLastRun(campaignID int, t time.Time) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET last_run_at=$1, updated_at=NOW() WHERE id=$2`, t, campaignID)
	return err
}

func (r *CampaignRepository) SetNextRun(campaignID int, t *time.Time) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET next_run_at=$1, updated_at=NOW() WHERE id=$2`, t, campaignID)
	return err
}

// ClearRecurrence disables recurrence once the rule yields no further run.
func (r *CampaignRepository) ClearRecurrence(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET is_recurring=FALSE, next_run_at=NULL, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

// ====================== Scheduler queries ======================

func (r *CampaignRepository) DueOneShot(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE is_recurring=FALSE AND status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at`
	return r.queryCampaigns(query, model.CampaignScheduled, now)
}

func (r *CampaignRepository) DueRecurring(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE is_recurring=TRUE AND status = ANY($1) AND next_run_at IS NOT NULL AND next_run_at <= $2
        ORDER BY next_run_at`
	return r.queryCampaigns(query, pq.Array([]string{string(model.CampaignDraft), string(model.CampaignScheduled)}), now)
}

func (r *CampaignRepository) queryCampaigns(query string, args ...interface{}) ([]*model.Campaign, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
