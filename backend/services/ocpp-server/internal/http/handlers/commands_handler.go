package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/dispatch"
)

const maxBodyBytes = 1 << 20

// Executor issues a validated operator command.
type Executor interface {
	Execute(ctx context.Context, action string, body json.RawMessage) (dispatch.Result, error)
}

// CommandHandlers exposes the command dispatcher over HTTP.
type CommandHandlers struct {
	executor Executor
	logger   *zap.Logger
}

// NewCommandHandlers returns handler.
func NewCommandHandlers(executor Executor, logger *zap.Logger) *CommandHandlers {
	return &CommandHandlers{executor: executor, logger: logger}
}

type commandResponse struct {
	Action string `json:"action"`
	dispatch.Result
}

// Handle returns the handler for action. The request is a JSON body; GET requests may name the
// charger with the charger_identity query parameter instead.
func (h *CommandHandlers) Handle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := requestBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := h.executor.Execute(r.Context(), action, body)
		switch {
		case errors.Is(err, dispatch.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			h.logger.Error("command failed", zap.String("action", action), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "command failed")
			return
		}

		writeJSON(w, StatusCode(res.Status), commandResponse{Action: action, Result: res})
	}
}

// StatusCode maps a command status to its HTTP status.
func StatusCode(status dispatch.Status) int {
	switch status {
	case dispatch.StatusAccepted:
		return http.StatusOK
	case dispatch.StatusRejected:
		return http.StatusBadRequest
	case dispatch.StatusUnavailable:
		return http.StatusNotFound
	case dispatch.StatusTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestBody(r *http.Request) (json.RawMessage, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("charger_identity")); id != "" {
		return json.Marshal(map[string]string{"charger_identity": id})
	}
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}
