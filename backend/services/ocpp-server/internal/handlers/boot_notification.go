package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// NewBootNotificationHandler accepts every charger and records its metadata when a station store
// is configured.
func NewBootNotificationHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(ctx context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		now := deps.Clock.Now().UTC()

		if deps.Stations != nil {
			station := &models.Station{
				ID:              sess.Identity(),
				Vendor:          req.ChargePointVendor,
				Model:           req.ChargePointModel,
				SerialNumber:    req.ChargePointSerialNumber,
				FirmwareVersion: req.FirmwareVersion,
				Status:          protocol.ConnectorAvailable,
				LastHeartbeat:   now,
			}
			if err := deps.Stations.Upsert(ctx, station); err != nil {
				deps.Logger.Warn("failed to upsert station", zap.String("station_id", sess.Identity()), zap.Error(err))
			}
		}

		deps.Events.Publish(events.Event{Type: events.TypeBoot, StationID: sess.Identity(), Time: now})

		return protocol.BootNotificationResponse{
			CurrentTime: now,
			Interval:    int(deps.HeartbeatInterval.Seconds()),
			Status:      protocol.RegistrationAccepted,
		}, nil
	}
}
