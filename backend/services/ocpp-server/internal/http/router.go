package httpserver

import (
	"net/http"

	"ocpphub/backend/services/ocpp-server/internal/http/handlers"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

// APIPrefix is the root of the operator API.
const APIPrefix = "/ocpp/1.6/api/v1"

// RouterDeps collects handler dependencies. Metrics and ChargerSocket are optional.
type RouterDeps struct {
	Commands      *handlers.CommandHandlers
	Chargers      *handlers.ChargersHandlers
	HealthHandler http.HandlerFunc
	ChargerSocket http.HandlerFunc
	SocketPath    string
	Metrics       http.Handler
}

// NewRouter wires HTTP routes.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))
	if deps.Metrics != nil {
		mux.Handle("/metrics", method(http.MethodGet, deps.Metrics))
	}
	if deps.ChargerSocket != nil {
		mux.Handle(deps.SocketPath, method(http.MethodGet, deps.ChargerSocket))
	}

	commands := map[string]string{
		"/remote-start":         protocol.ActionRemoteStartTransaction,
		"/remote-stop":          protocol.ActionRemoteStopTransaction,
		"/send-local-list":      protocol.ActionSendLocalList,
		"/trigger-message":      protocol.ActionTriggerMessage,
		"/clear-cache":          protocol.ActionClearCache,
		"/reset":                protocol.ActionReset,
		"/change-configuration": protocol.ActionChangeConfiguration,
		"/reserve-now":          protocol.ActionReserveNow,
		"/cancel-reservation":   protocol.ActionCancelReservation,
	}
	for path, action := range commands {
		mux.Handle(APIPrefix+path, method(http.MethodPost, deps.Commands.Handle(action)))
	}
	mux.Handle(APIPrefix+"/get-local-list", method(http.MethodGet, deps.Commands.Handle(protocol.ActionGetLocalListVersion)))

	mux.Handle(APIPrefix+"/chargers", method(http.MethodGet, http.HandlerFunc(deps.Chargers.List)))
	mux.Handle(APIPrefix+"/frames", method(http.MethodGet, http.HandlerFunc(deps.Chargers.Frames)))
	mux.Handle(APIPrefix+"/stations", method(http.MethodGet, http.HandlerFunc(deps.Chargers.Station)))
	mux.Handle(APIPrefix+"/presence", method(http.MethodGet, http.HandlerFunc(deps.Chargers.Presence)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
