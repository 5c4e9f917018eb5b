package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type MessageRepositoryInterface interface {
	Create(m *model.Message) error
	GetByID(id int) (*model.Message, error)
}

type MessageRepository struct {
	DB *sql.DB
}

func (r *MessageRepository) Create(m *model.Message) error {
	m.CreatedAt = time.Now()
	query := `
        INSERT INTO messages (name, body, media_type, media_url, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRow(query, m.Name, m.Body, m.MediaType, m.MediaURL, m.CreatedAt).Scan(&m.ID)
}

func (r *MessageRepository) GetByID(id int) (*model.Message, error) {
	query := `SELECT id, name, body, media_type, media_url, created_at FROM messages WHERE id=$1`
	var m model.Message
	err := r.DB.QueryRow(query, id).Scan(&m.ID, &m.Name, &m.Body, &m.MediaType, &m.MediaURL, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
