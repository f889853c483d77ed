package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// NewMeterValuesHandler adopts the reported transaction id when the session knows of none, which
// covers transactions started before the central system restarted.
func NewMeterValuesHandler(deps Deps) ocpp.HandlerFunc {
	deps.defaults()
	return func(_ context.Context, sess *session.Session, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.TransactionID == nil {
			return protocol.MeterValuesResponse{}, nil
		}

		adopted := false
		err = sess.Update(func(tx *session.Tx) error {
			if tx.Transaction != nil {
				return nil
			}
			tx.Transaction = &session.Transaction{
				TransactionID: *req.TransactionID,
				ConnectorID:   req.ConnectorID,
				StartedAt:     tx.Now(),
			}
			adopted = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		if adopted {
			deps.Logger.Info("adopted transaction from meter values",
				zap.String("station_id", sess.Identity()),
				zap.Int("transaction_id", *req.TransactionID))
		}
		return protocol.MeterValuesResponse{}, nil
	}
}
