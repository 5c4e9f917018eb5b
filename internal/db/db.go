// internal/db/db.go
package db

import (
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/unclebandit/wacampaign-backend/internal/config"
)

// Open connects to Postgres and verifies the connection. The handle is
// returned to the caller and injected into repositories; there is no
// package-level singleton.
func Open(cfg config.Database) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
