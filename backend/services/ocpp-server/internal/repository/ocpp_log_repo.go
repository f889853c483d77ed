package repository

import (
	"context"
	"database/sql"

	"ocpphub/backend/services/ocpp-server/internal/models"
)

// OCPPLogRepository stores raw OCPP messages in postgres.
type OCPPLogRepository struct {
	db *sql.DB
}

// NewOCPPLogRepository ctor.
func NewOCPPLogRepository(db *sql.DB) *OCPPLogRepository {
	return &OCPPLogRepository{db: db}
}

// Save stores log entry.
func (r *OCPPLogRepository) Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, message_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, stationID, direction, messageType, payload)
	return err
}

// Recent returns up to limit frames of stationID, newest first.
func (r *OCPPLogRepository) Recent(ctx context.Context, stationID string, limit int) ([]models.Frame, error) {
	const query = `
		SELECT station_id, direction, message_type, payload, created_at
		FROM ocpp_messages
		WHERE station_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.StationID, &f.Direction, &f.MessageType, &f.Payload, &f.CreatedAt); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}
