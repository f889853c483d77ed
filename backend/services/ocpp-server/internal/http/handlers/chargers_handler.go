package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/repository"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

const defaultFrameLimit = 50

// SessionLister lists connected chargers.
type SessionLister interface {
	Snapshots() []session.Snapshot
}

// FrameReader reads back logged frames.
type FrameReader interface {
	Recent(ctx context.Context, stationID string, limit int) ([]models.Frame, error)
}

// PresenceReader lists chargers seen recently by any central system instance.
type PresenceReader interface {
	Connected(ctx context.Context) ([]string, error)
}

// StationReader loads stored charger metadata.
type StationReader interface {
	Get(ctx context.Context, stationID string) (*models.Station, error)
}

// ChargersDeps groups the read models. Everything except Sessions is optional.
type ChargersDeps struct {
	Sessions SessionLister
	Frames   FrameReader
	Presence PresenceReader
	Stations StationReader
}

// ChargersHandlers serves charger state for operators.
type ChargersHandlers struct {
	deps   ChargersDeps
	logger *zap.Logger
}

// NewChargersHandlers returns handler.
func NewChargersHandlers(deps ChargersDeps, logger *zap.Logger) *ChargersHandlers {
	return &ChargersHandlers{deps: deps, logger: logger}
}

// List handles GET /chargers.
func (h *ChargersHandlers) List(w http.ResponseWriter, r *http.Request) {
	snapshots := h.deps.Sessions.Snapshots()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(snapshots),
		"chargers": snapshots,
	})
}

// Station handles GET /stations?charger_identity=.
func (h *ChargersHandlers) Station(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stations == nil {
		writeError(w, http.StatusNotFound, "station store is not enabled")
		return
	}
	stationID, ok := chargerIdentity(w, r)
	if !ok {
		return
	}
	station, err := h.deps.Stations.Get(r.Context(), stationID)
	if errors.Is(err, repository.ErrStationNotFound) {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}
	if err != nil {
		h.logger.Error("read station failed", zap.String("station_id", stationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "station store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, station)
}

// Presence handles GET /presence.
func (h *ChargersHandlers) Presence(w http.ResponseWriter, r *http.Request) {
	if h.deps.Presence == nil {
		writeError(w, http.StatusNotFound, "presence tracking is not enabled")
		return
	}
	ids, err := h.deps.Presence.Connected(r.Context())
	if err != nil {
		h.logger.Error("read presence failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "presence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(ids),
		"chargers": ids,
	})
}

type frameView struct {
	Direction   string `json:"direction"`
	MessageType string `json:"messageType"`
	Payload     string `json:"payload"`
	CreatedAt   string `json:"createdAt"`
}

// Frames handles GET /frames?charger_identity=&limit=.
func (h *ChargersHandlers) Frames(w http.ResponseWriter, r *http.Request) {
	if h.deps.Frames == nil {
		writeError(w, http.StatusNotFound, "frame log is not enabled")
		return
	}
	stationID, ok := chargerIdentity(w, r)
	if !ok {
		return
	}
	limit := defaultFrameLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	frames, err := h.deps.Frames.Recent(r.Context(), stationID, limit)
	if err != nil {
		h.logger.Error("read frames failed", zap.String("station_id", stationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "frame log unavailable")
		return
	}

	out := make([]frameView, 0, len(frames))
	for _, f := range frames {
		out = append(out, frameView{
			Direction:   f.Direction,
			MessageType: f.MessageType,
			Payload:     string(f.Payload),
			CreatedAt:   f.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"charger_identity": stationID,
		"frames":           out,
	})
}

func chargerIdentity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("charger_identity"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "charger_identity is required")
		return "", false
	}
	return id, true
}
