// Package policy holds optional automatic reactions to charger events. Every policy reacts off the
// charger's read loop and reaches the charger only through the command dispatcher.
package policy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/dispatch"
	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Starter issues RemoteStartTransaction.
type Starter interface {
	RemoteStartTransaction(ctx context.Context, identity string, connectorID int, idTag string, timeout time.Duration) dispatch.Result
}

// Stopper issues RemoteStopTransaction.
type Stopper interface {
	RemoteStopTransaction(ctx context.Context, identity string, transactionID int, timeout time.Duration) dispatch.Result
}

// AutoStart remote-starts a transaction whenever a connector reports Preparing.
type AutoStart struct {
	starter     Starter
	idTag       string
	connectorID int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewAutoStart builds the policy. A zero connectorID starts on the connector that reported.
func NewAutoStart(starter Starter, idTag string, connectorID int, logger *zap.Logger) *AutoStart {
	return &AutoStart{
		starter:     starter,
		idTag:       idTag,
		connectorID: connectorID,
		logger:      logger.Named("autostart"),
	}
}

// Handle is an events.Handler.
func (a *AutoStart) Handle(ctx context.Context, ev events.Event) {
	if ev.Type != events.TypeStatus || ev.Status != protocol.ConnectorPreparing {
		return
	}
	connectorID := a.connectorID
	if connectorID == 0 {
		connectorID = ev.ConnectorID
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res := a.starter.RemoteStartTransaction(ctx, ev.StationID, connectorID, a.idTag, 0)
		a.logger.Info("auto remote start",
			zap.String("station_id", ev.StationID),
			zap.Int("connector_id", connectorID),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Reason))
	}()
}

// Wait blocks until every command started by Handle finished.
func (a *AutoStart) Wait() {
	a.wg.Wait()
}

// AutoStop remote-stops transactions that outlived their allowed duration.
type AutoStop struct {
	stopper Stopper
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewAutoStop builds the policy.
func NewAutoStop(stopper Stopper, logger *zap.Logger) *AutoStop {
	return &AutoStop{stopper: stopper, logger: logger.Named("autostop")}
}

// Stop matches handlers.AutoStopFunc. It returns immediately.
func (a *AutoStop) Stop(stationID string, transactionID int) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res := a.stopper.RemoteStopTransaction(context.Background(), stationID, transactionID, 0)
		a.logger.Info("forced remote stop",
			zap.String("station_id", stationID),
			zap.Int("transaction_id", transactionID),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.Reason))
	}()
}

// Wait blocks until every command started by Stop finished.
func (a *AutoStop) Wait() {
	a.wg.Wait()
}
