package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Import postgres driver
)

func Connect(dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify the connection with a timeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database within %v: %w (close also failed: %v)", timeout, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}

	return db, nil
}

// schema создаётся идемпотентно при каждом старте.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS linked_accounts (
		username_key TEXT PRIMARY KEY,
		username     TEXT NOT NULL,
		owner_id     BIGINT NOT NULL,
		account_type TEXT NOT NULL,
		emoji        TEXT,
		linked_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_linked_accounts_owner ON linked_accounts (owner_id)`,
	`CREATE TABLE IF NOT EXISTS score_records (
		username_key    TEXT PRIMARY KEY
			REFERENCES linked_accounts (username_key) ON DELETE CASCADE ON UPDATE CASCADE,
		total           INTEGER NOT NULL DEFAULT 0 CHECK (total >= 0),
		hiscore_rank    INTEGER NOT NULL DEFAULT -1,
		below_threshold BOOLEAN NOT NULL DEFAULT FALSE,
		observed_at     TIMESTAMPTZ,
		status          TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE TABLE IF NOT EXISTS score_overrides (
		owner_id BIGINT PRIMARY KEY,
		total    INTEGER NOT NULL CHECK (total >= 0 AND total < 500),
		set_by   BIGINT NOT NULL,
		set_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bot_settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// Migrate applies the schema. Every statement is safe to re-run.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
