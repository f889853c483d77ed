package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// ErrStationNotFound is returned by Get for unknown stations.
var ErrStationNotFound = errors.New("repository: station not found")

// StationRepository manages charging station persistence.
type StationRepository struct {
	db *sql.DB
}

// NewStationRepository returns repository.
func NewStationRepository(db *sql.DB) *StationRepository {
	return &StationRepository{db: db}
}

// Upsert stores or updates station metadata.
func (r *StationRepository) Upsert(ctx context.Context, station *models.Station) error {
	const query = `
		INSERT INTO charging_stations (id, vendor, model, serial_number, firmware_version, status, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			vendor = EXCLUDED.vendor,
			model = EXCLUDED.model,
			serial_number = EXCLUDED.serial_number,
			firmware_version = EXCLUDED.firmware_version,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = NOW()
	`
	if station.LastHeartbeat.IsZero() {
		station.LastHeartbeat = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		station.ID,
		station.Vendor,
		station.Model,
		station.SerialNumber,
		station.FirmwareVersion,
		station.Status,
		station.LastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("repository: upsert station %s: %w", station.ID, err)
	}
	return nil
}

// UpdateStatus changes station status and heartbeat.
func (r *StationRepository) UpdateStatus(ctx context.Context, stationID, status string) error {
	const query = `
		UPDATE charging_stations
		SET status = $2,
		    last_heartbeat = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, stationID, status)
	return err
}

// TouchHeartbeat refreshes last_heartbeat only.
func (r *StationRepository) TouchHeartbeat(ctx context.Context, stationID string) error {
	const query = `UPDATE charging_stations SET last_heartbeat = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, stationID)
	return err
}

// Get loads one station.
func (r *StationRepository) Get(ctx context.Context, stationID string) (*models.Station, error) {
	const query = `
		SELECT id, vendor, model, serial_number, firmware_version, status, last_heartbeat, created_at, updated_at
		FROM charging_stations
		WHERE id = $1
	`
	var (
		st            models.Station
		lastHeartbeat sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, stationID).Scan(
		&st.ID, &st.Vendor, &st.Model, &st.SerialNumber, &st.FirmwareVersion,
		&st.Status, &lastHeartbeat, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStationNotFound
	}
	if err != nil {
		return nil, err
	}
	st.LastHeartbeat = lastHeartbeat.Time
	return &st, nil
}
