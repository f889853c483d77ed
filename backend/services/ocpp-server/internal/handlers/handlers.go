package handlers

import (
	"context"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// StationStore persists charger metadata. It is optional.
type StationStore interface {
	Upsert(ctx context.Context, station *models.Station) error
	UpdateStatus(ctx context.Context, stationID, status string) error
	TouchHeartbeat(ctx context.Context, stationID string) error
}

// AutoStopFunc is called when a transaction outlived the configured forced stop delay.
type AutoStopFunc func(stationID string, transactionID int)

// Deps groups what the charger action handlers need.
type Deps struct {
	Clock             clock.Clock
	Sequence          *session.Sequence
	Stations          StationStore
	Events            events.Publisher
	HeartbeatInterval time.Duration
	AutoStopAfter     time.Duration
	OnAutoStop        AutoStopFunc
	Logger            *zap.Logger
}

func (d *Deps) defaults() {
	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
	if d.Sequence == nil {
		d.Sequence = session.NewSequence(d.Clock)
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.HeartbeatInterval <= 0 {
		d.HeartbeatInterval = 60 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

// Register installs the handler for every charger-initiated action.
func Register(router *ocpp.Router, deps Deps) {
	deps.defaults()
	router.Register(protocol.ActionBootNotification, NewBootNotificationHandler(deps))
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(deps))
	router.Register(protocol.ActionAuthorize, NewAuthorizeHandler())
	router.Register(protocol.ActionStatusNotification, NewStatusNotificationHandler(deps))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(deps))
	router.Register(protocol.ActionStopTransaction, NewStopTransactionHandler(deps))
	router.Register(protocol.ActionMeterValues, NewMeterValuesHandler(deps))
}

func accepted() protocol.IdTagInfo {
	return protocol.IdTagInfo{Status: protocol.AuthorizationAccepted}
}
