package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by the lifecycle service
type ContactRepositoryInterface interface {
	GetByID(id int) (*model.Contact, error)
	ListByIDs(ids []int64) ([]model.Contact, error)
	ListByTag(tag string) ([]model.Contact, error)
	ListAll() ([]model.Contact, error)
}

// ContactRepository is the concrete implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, phone, first_name, last_name, tags`

// GetByID fetches a contact by ID
func (r *ContactRepository) GetByID(id int) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	row := r.DB.QueryRow(query, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Tags); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepository) ListByIDs(ids []int64) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ANY($1) ORDER BY id`
	return r.list(query, pq.Array(ids))
}

func (r *ContactRepository) ListByTag(tag string) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE $1 = ANY(tags) ORDER BY id`
	return r.list(query, tag)
}

// ListAll fetches every contact (the campaign's "send to all" audience)
func (r *ContactRepository) ListAll() ([]model.Contact, error) {
	return r.list(`SELECT ` + contactColumns + ` FROM contacts ORDER BY id`)
}

func (r *ContactRepository) list(query string, args ...interface{}) ([]model.Contact, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.FirstName, &c.LastName, &c.Tags); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
