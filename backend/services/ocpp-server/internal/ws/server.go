package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// Subprotocol is the websocket subprotocol negotiated with OCPP 1.6-J chargers.
const Subprotocol = "ocpp1.6"

// PathPrefix is where chargers connect: PathPrefix + identity.
const PathPrefix = "/ocpp/"

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	manager   *Manager
	registry  *session.Registry
	processor MessageProcessor
	events    events.Publisher
	logger    *zap.Logger
	opts      ConnectionOptions
	upgrader  websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, registry *session.Registry, processor MessageProcessor, publisher events.Publisher, opts ConnectionOptions, logger *zap.Logger) *Server {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Server{
		manager:   manager,
		registry:  registry,
		processor: processor,
		events:    publisher,
		logger:    logger,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// StationID extracts the charger identity from /ocpp/{identity}, falling back to the
// station_id query parameter.
func StationID(r *http.Request) string {
	if id, ok := strings.CutPrefix(r.URL.Path, PathPrefix); ok {
		if id = strings.Trim(id, "/"); id != "" && !strings.Contains(id, "/") {
			return id
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("station_id"))
}

// HandleWS is HTTP handler for the charger endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	stationID := StationID(r)
	if stationID == "" {
		http.Error(w, "charger identity is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("station_id", stationID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(stationID, conn, s.processor, s.opts, s.logger, func(c *Connection) {
		s.registry.OnDisconnect(c.StationID(), c)
		s.manager.Remove(c)
		s.events.Publish(events.Event{Type: events.TypeDisconnected, StationID: c.StationID(), Time: time.Now().UTC()})
		s.logger.Info("station disconnected", zap.String("station_id", c.StationID()))
		cancel()
	})

	connection.Attach(s.registry.OnConnect(stationID, connection))
	if previous := s.manager.Add(connection); previous != nil {
		s.logger.Info("closing superseded connection", zap.String("station_id", stationID))
		_ = previous.Close()
	}
	s.events.Publish(events.Event{Type: events.TypeConnected, StationID: stationID, Time: time.Now().UTC()})

	go connection.Start(ctx)
	s.logger.Info("station connected",
		zap.String("station_id", stationID),
		zap.String("subprotocol", conn.Subprotocol()))
}
