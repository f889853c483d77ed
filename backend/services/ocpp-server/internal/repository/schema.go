package repository

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS charging_stations (
		id TEXT PRIMARY KEY,
		vendor TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		serial_number TEXT NOT NULL DEFAULT '',
		firmware_version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		last_heartbeat TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ocpp_messages (
		id BIGSERIAL PRIMARY KEY,
		station_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		message_type TEXT NOT NULL,
		payload BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ocpp_messages_station_idx ON ocpp_messages (station_id, created_at)`,
}

// EnsureSchema creates the tables used by the repositories when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: ensure schema: %w", err)
		}
	}
	return nil
}
