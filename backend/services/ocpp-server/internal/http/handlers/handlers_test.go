package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/dispatch"
	"ocpphub/backend/services/ocpp-server/internal/models"
	"ocpphub/backend/services/ocpp-server/internal/repository"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

type fakeExecutor struct {
	action string
	body   string
	result dispatch.Result
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, action string, body json.RawMessage) (dispatch.Result, error) {
	f.action, f.body = action, string(body)
	return f.result, f.err
}

func TestCommandStatusMapping(t *testing.T) {
	cases := []struct {
		status dispatch.Status
		code   int
	}{
		{dispatch.StatusAccepted, http.StatusOK},
		{dispatch.StatusRejected, http.StatusBadRequest},
		{dispatch.StatusUnavailable, http.StatusNotFound},
		{dispatch.StatusTimedOut, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			exec := &fakeExecutor{result: dispatch.Result{Status: tc.status, Reason: "r"}}
			h := NewCommandHandlers(exec, zap.NewNop())

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/remote-start", strings.NewReader(`{"charger_identity":"CP001"}`))
			h.Handle("RemoteStartTransaction").ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, "RemoteStartTransaction", exec.action)
			assert.JSONEq(t, `{"charger_identity":"CP001"}`, exec.body)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "RemoteStartTransaction", body["action"])
			assert.Equal(t, string(tc.status), body["status"])
		})
	}
}

func TestCommandInvalidRequest(t *testing.T) {
	exec := &fakeExecutor{err: errors.Join(dispatch.ErrInvalidRequest, errors.New("charger_identity required"))}
	h := NewCommandHandlers(exec, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Handle("Reset").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestCommandUnexpectedError(t *testing.T) {
	exec := &fakeExecutor{err: dispatch.ErrUnknownCommand}
	h := NewCommandHandlers(exec, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Handle("Nope").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nope", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCommandIdentityFromQuery(t *testing.T) {
	exec := &fakeExecutor{result: dispatch.Result{Status: dispatch.StatusAccepted, Payload: json.RawMessage(`{"listVersion":3}`)}}
	h := NewCommandHandlers(exec, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Handle("GetLocalListVersion").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get-local-list?charger_identity=CP001", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"charger_identity":"CP001"}`, exec.body)
	assert.JSONEq(t, `{"action":"GetLocalListVersion","status":"Accepted","payload":{"listVersion":3}}`, rec.Body.String())
}

type fakeSessions []session.Snapshot

func (f fakeSessions) Snapshots() []session.Snapshot { return f }

type fakeFrames struct {
	frames []models.Frame
}

func (f *fakeFrames) Recent(_ context.Context, stationID string, limit int) ([]models.Frame, error) {
	var out []models.Frame
	for _, fr := range f.frames {
		if fr.StationID == stationID && len(out) < limit {
			out = append(out, fr)
		}
	}
	return out, nil
}

func TestChargersList(t *testing.T) {
	h := NewChargersHandlers(ChargersDeps{Sessions: fakeSessions{{Identity: "CP001", Reservations: []session.Reservation{}}}}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/chargers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int                `json:"count"`
		Chargers []session.Snapshot `json:"chargers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "CP001", body.Chargers[0].Identity)
}

func TestChargersFrames(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	frames := &fakeFrames{frames: []models.Frame{
		{StationID: "CP001", Direction: "incoming", MessageType: "Heartbeat", Payload: []byte(`[2,"1","Heartbeat",{}]`), CreatedAt: at},
		{StationID: "CP001", Direction: "outgoing", MessageType: "CallResult", Payload: []byte(`[3,"1",{}]`), CreatedAt: at},
		{StationID: "CP002", Direction: "incoming", MessageType: "Heartbeat", Payload: []byte(`[2,"2","Heartbeat",{}]`), CreatedAt: at},
	}}
	h := NewChargersHandlers(ChargersDeps{Sessions: fakeSessions{}, Frames: frames}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Frames(rec, httptest.NewRequest(http.MethodGet, "/frames?charger_identity=CP001&limit=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"charger_identity":"CP001","frames":[{"direction":"incoming","messageType":"Heartbeat","payload":"[2,\"1\",\"Heartbeat\",{}]","createdAt":"2024-05-01T12:00:00Z"}]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Frames(rec, httptest.NewRequest(http.MethodGet, "/frames?charger_identity=CP001&limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Frames(rec, httptest.NewRequest(http.MethodGet, "/frames", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	NewChargersHandlers(ChargersDeps{Sessions: fakeSessions{}}, zap.NewNop()).Frames(rec, httptest.NewRequest(http.MethodGet, "/frames?charger_identity=CP001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakePresence []string

func (f fakePresence) Connected(context.Context) ([]string, error) { return f, nil }

func TestChargersPresence(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChargersHandlers(ChargersDeps{Sessions: fakeSessions{}, Presence: fakePresence{"CP001", "CP002"}}, zap.NewNop()).
		Presence(rec, httptest.NewRequest(http.MethodGet, "/presence", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"chargers":["CP001","CP002"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewChargersHandlers(ChargersDeps{Sessions: fakeSessions{}}, zap.NewNop()).
		Presence(rec, httptest.NewRequest(http.MethodGet, "/presence", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeStations map[string]models.Station

func (f fakeStations) Get(_ context.Context, id string) (*models.Station, error) {
	st, ok := f[id]
	if !ok {
		return nil, repository.ErrStationNotFound
	}
	return &st, nil
}

func TestChargersStation(t *testing.T) {
	h := NewChargersHandlers(ChargersDeps{
		Sessions: fakeSessions{},
		Stations: fakeStations{"CP001": {ID: "CP001", Vendor: "Acme", Model: "X1"}},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Station(rec, httptest.NewRequest(http.MethodGet, "/stations?charger_identity=CP001", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"vendor":"Acme"`)

	rec = httptest.NewRecorder()
	h.Station(rec, httptest.NewRequest(http.MethodGet, "/stations?charger_identity=CP404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Station(rec, httptest.NewRequest(http.MethodGet, "/stations", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(func() int { return 3 }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","chargers":3}`, rec.Body.String())
}
