package dispatch

import (
	"context"
	"time"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// RemoteStartTransaction asks the charger to start charging for idTag. Acceptance does not
// create the transaction; the charger's own StartTransaction does.
func (d *Dispatcher) RemoteStartTransaction(ctx context.Context, identity string, connectorID int, idTag string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionRemoteStartTransaction, protocol.RemoteStartTransactionRequest{
		ConnectorID: connectorID,
		IdTag:       idTag,
	}, timeout)
}

// RemoteStopTransaction asks the charger to stop transactionID, which must be the session's
// current transaction.
func (d *Dispatcher) RemoteStopTransaction(ctx context.Context, identity string, transactionID int, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionRemoteStopTransaction, protocol.RemoteStopTransactionRequest{
		TransactionID: transactionID,
	}, timeout)
}

// GetLocalListVersion reads the version of the charger's local authorization list.
func (d *Dispatcher) GetLocalListVersion(ctx context.Context, identity string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionGetLocalListVersion, protocol.GetLocalListVersionRequest{}, timeout)
}

// SendLocalList replaces or patches the charger's local authorization list.
func (d *Dispatcher) SendLocalList(ctx context.Context, identity string, req protocol.SendLocalListRequest, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionSendLocalList, req, timeout)
}

// TriggerMessage asks the charger to send requestedMessage, optionally for one connector.
func (d *Dispatcher) TriggerMessage(ctx context.Context, identity, requestedMessage string, connectorID *int, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionTriggerMessage, protocol.TriggerMessageRequest{
		RequestedMessage: requestedMessage,
		ConnectorID:      connectorID,
	}, timeout)
}

// ClearCache clears the charger's authorization cache.
func (d *Dispatcher) ClearCache(ctx context.Context, identity string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionClearCache, protocol.ClearCacheRequest{}, timeout)
}

// Reset restarts the charger; resetType is Hard or Soft.
func (d *Dispatcher) Reset(ctx context.Context, identity, resetType string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionReset, protocol.ResetRequest{Type: resetType}, timeout)
}

// ChangeConfiguration sets one configuration key on the charger.
func (d *Dispatcher) ChangeConfiguration(ctx context.Context, identity, key, value string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionChangeConfiguration, protocol.ChangeConfigurationRequest{
		Key:   key,
		Value: value,
	}, timeout)
}

// ReserveNow reserves connectorID for idTag. The reservation id is minted here and returned in
// Result.ReservationID; the reservation expires after the configured TTL.
func (d *Dispatcher) ReserveNow(ctx context.Context, identity string, connectorID int, idTag string, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionReserveNow, protocol.ReserveNowRequest{
		ConnectorID: connectorID,
		IdTag:       idTag,
	}, timeout)
}

// CancelReservation cancels a reservation previously made through ReserveNow.
func (d *Dispatcher) CancelReservation(ctx context.Context, identity string, reservationID int, timeout time.Duration) Result {
	return d.Issue(ctx, identity, protocol.ActionCancelReservation, protocol.CancelReservationRequest{
		ReservationID: reservationID,
	}, timeout)
}
