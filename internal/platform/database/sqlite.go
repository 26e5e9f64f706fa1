package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"chatrelay/internal/platform/config"
)

// New opens the sqlite database backing the notification queue, the message
// store, and the credential table. WAL keeps webhook writes from blocking the
// worker's reads; the busy timeout covers the rest.
func New(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
