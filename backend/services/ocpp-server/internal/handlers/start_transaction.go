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

// NewStartTransactionHandler records the charger's transaction. A repeated StartTransaction while
// one is active gets the same transaction id back.
func NewStartTransactionHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(_ context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		var (
			transactionID int
			started       bool
		)
		err = sess.Update(func(tx *session.Tx) error {
			if req.ReservationID != nil {
				delete(tx.Reservations, *req.ReservationID)
			}
			if tx.Transaction != nil {
				transactionID = tx.Transaction.TransactionID
				return nil
			}

			transactionID = deps.Sequence.Next()
			tx.Transaction = &session.Transaction{
				TransactionID: transactionID,
				ConnectorID:   req.ConnectorID,
				IDTag:         req.IdTag,
				StartedAt:     tx.Now(),
			}
			started = true

			if deps.AutoStopAfter > 0 && deps.OnAutoStop != nil {
				stationID, id := tx.Identity(), transactionID
				tx.Schedule(deps.AutoStopAfter, func() { deps.OnAutoStop(stationID, id) })
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		if started {
			deps.Logger.Info("transaction started",
				zap.String("station_id", sess.Identity()),
				zap.Int("transaction_id", transactionID),
				zap.Int("connector_id", req.ConnectorID))
			deps.Events.Publish(events.Event{
				Type:          events.TypeTransactionStarted,
				StationID:     sess.Identity(),
				Time:          deps.Clock.Now().UTC(),
				ConnectorID:   req.ConnectorID,
				TransactionID: transactionID,
				IDTag:         req.IdTag,
			})
		}

		return protocol.StartTransactionResponse{
			IdTagInfo:     accepted(),
			TransactionID: transactionID,
		}, nil
	}
}
