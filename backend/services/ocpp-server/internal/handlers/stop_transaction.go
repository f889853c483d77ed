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

// NewStopTransactionHandler clears the session's transaction whatever id the charger reports and
// cancels a pending forced stop.
func NewStopTransactionHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(_ context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		var previous *session.Transaction
		err = sess.Update(func(tx *session.Tx) error {
			previous = tx.Transaction
			tx.Transaction = nil
			tx.CancelSchedule()
			return nil
		})
		if err != nil {
			return nil, err
		}

		if previous != nil && previous.TransactionID != req.TransactionID {
			deps.Logger.Warn("stop for unexpected transaction",
				zap.String("station_id", sess.Identity()),
				zap.Int("known", previous.TransactionID),
				zap.Int("reported", req.TransactionID))
		}

		deps.Events.Publish(events.Event{
			Type:          events.TypeTransactionStopped,
			StationID:     sess.Identity(),
			Time:          deps.Clock.Now().UTC(),
			TransactionID: req.TransactionID,
			IDTag:         req.IdTag,
		})

		info := accepted()
		return protocol.StopTransactionResponse{IdTagInfo: &info}, nil
	}
}
