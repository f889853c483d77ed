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

// NewHeartbeatHandler returns ack with current time.
func NewHeartbeatHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(ctx context.Context, sess *session.Session, _ json.RawMessage) (interface{}, error) {
		now := deps.Clock.Now().UTC()
		if deps.Stations != nil {
			if err := deps.Stations.TouchHeartbeat(ctx, sess.Identity()); err != nil {
				deps.Logger.Debug("heartbeat touch failed", zap.String("station_id", sess.Identity()), zap.Error(err))
			}
		}
		deps.Events.Publish(events.Event{Type: events.TypeHeartbeat, StationID: sess.Identity(), Time: now})
		return protocol.HeartbeatResponse{CurrentTime: now}, nil
	}
}
