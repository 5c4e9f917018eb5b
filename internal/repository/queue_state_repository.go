package repository

import "database/sql"

// QueueStateRepositoryInterface carries dispatch flags shared across the API
// server and worker processes, which coordinate only through persisted state.
type QueueStateRepositoryInterface interface {
	Paused() (bool, error)
	SetPaused(paused bool) error
}

type QueueStateRepository struct {
	DB *sql.DB
}

func (r *QueueStateRepository) Paused() (bool, error) {
	var paused bool
	err := r.DB.QueryRow(`SELECT paused FROM queue_state WHERE id=1`).Scan(&paused)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return paused, err
}

func (r *QueueStateRepository) SetPaused(paused bool) error {
	_, err := r.DB.Exec(`
        INSERT INTO queue_state (id, paused) VALUES (1, $1)
        ON CONFLICT (id) DO UPDATE SET paused=EXCLUDED.paused`, paused)
	return err
}

var _ QueueStateRepositoryInterface = (*QueueStateRepository)(nil)
