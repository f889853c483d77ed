package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// NewStatusNotificationHandler records connector status and publishes it. It never issues
// commands itself; automatic reactions subscribe to the status event.
func NewStatusNotificationHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(ctx context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.Status == "" {
			req.Status = protocol.ConnectorAvailable
		}

		if deps.Stations != nil && req.ConnectorID == 0 {
			if err := deps.Stations.UpdateStatus(ctx, sess.Identity(), req.Status); err != nil {
				deps.Logger.Warn("failed to update station status", zap.String("station_id", sess.Identity()), zap.Error(err))
			}
		}

		deps.Events.Publish(events.Event{
			Type:        events.TypeStatus,
			StationID:   sess.Identity(),
			Time:        deps.Clock.Now().UTC(),
			ConnectorID: req.ConnectorID,
			Status:      req.Status,
			ErrorCode:   req.ErrorCode,
		})

		return protocol.StatusNotificationResponse{}, nil
	}
}
