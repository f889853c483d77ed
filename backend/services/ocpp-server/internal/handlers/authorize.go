package handlers

import (
	"context"
	"encoding/json"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// NewAuthorizeHandler accepts every id tag.
func NewAuthorizeHandler() ocpp.HandlerFunc {
	return func(_ context.Context, _ *session.Session, payload json.RawMessage) (interface{}, error) {
		if _, err := ocpp.Decode[protocol.AuthorizeRequest](payload); err != nil {
			return nil, err
		}
		return protocol.AuthorizeResponse{IdTagInfo: accepted()}, nil
	}
}
