package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libredis "ocpphub/backend/libs/redis"
	"ocpphub/backend/services/ocpp-server/internal/config"
	"ocpphub/backend/services/ocpp-server/internal/db"
	"ocpphub/backend/services/ocpp-server/internal/dispatch"
	"ocpphub/backend/services/ocpp-server/internal/events"
	ocpphandlers "ocpphub/backend/services/ocpp-server/internal/handlers"
	httpserver "ocpphub/backend/services/ocpp-server/internal/http"
	httphandlers "ocpphub/backend/services/ocpp-server/internal/http/handlers"
	"ocpphub/backend/services/ocpp-server/internal/metrics"
	"ocpphub/backend/services/ocpp-server/internal/natsapi"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/policy"
	"ocpphub/backend/services/ocpp-server/internal/presence"
	"ocpphub/backend/services/ocpp-server/internal/repository"
	"ocpphub/backend/services/ocpp-server/internal/session"
	"ocpphub/backend/services/ocpp-server/internal/ws"
)

// App wires all dependencies for the OCPP server.
type App struct {
	cfg        *config.Config
	httpServer *httpserver.Server
	bus        *events.Bus
	manager    *ws.Manager
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	nats       *natsapi.Service
	autoStart  *policy.AutoStart
	autoStop   *policy.AutoStop

	db     *sql.DB
	redis  *redis.Client
	badger *repository.BadgerFrameLog
	logger *zap.Logger
}

// New builds the application graph. Postgres, redis, badger and NATS are only used when
// configured.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx := context.Background()
	clk := clock.WallClock

	a := &App{cfg: cfg, logger: logger}

	registry := session.NewRegistry(clk, logger)
	engine := session.NewEngine(clk, cfg.CommandTimeout(), logger)
	sequence := session.NewSequence(clk)
	bus := events.NewBus(0, logger)
	m := metrics.New(cfg.Metrics.Namespace, func() float64 { return float64(registry.Len()) })
	a.registry, a.bus = registry, bus

	var (
		sinks    repository.Tee
		chargers = httphandlers.ChargersDeps{Sessions: registry}
		stations ocpphandlers.StationStore
	)

	if cfg.Database.DSN != "" {
		sqlDB, err := db.NewPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.db = sqlDB
		stationRepo := repository.NewStationRepository(sqlDB)
		logRepo := repository.NewOCPPLogRepository(sqlDB)
		stations = stationRepo
		chargers.Stations = stationRepo
		chargers.Frames = logRepo
		sinks = append(sinks, logRepo)
	}

	if cfg.Audit.BadgerPath != "" {
		frameLog, err := repository.OpenBadgerFrameLog(cfg.Audit.BadgerPath, cfg.AuditRetention())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.badger = frameLog
		chargers.Frames = frameLog
		sinks = append(sinks, frameLog)
	}

	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.redis = client
		tracker := presence.NewTracker(client, cfg.PresenceTTL(), logger)
		chargers.Presence = tracker
		bus.Subscribe(tracker.Handle)
		bus.Subscribe(events.NewRedisSink(client, cfg.Redis.EventsChannel, logger).Handle)
	}

	var frameLog ocpp.FrameLog
	if len(sinks) > 0 {
		frameLog = sinks
	}

	router := ocpp.NewRouter()
	processor := ocpp.NewProcessor(ocpp.NewParser(cfg.OCPP.Base64Frames), router, engine, frameLog, m, logger)

	a.dispatcher = dispatch.New(registry, engine, dispatch.Options{
		Clock:          clk,
		Sequence:       sequence,
		ReservationTTL: cfg.ReservationTTL(),
		Recorder:       processor,
		Observer:       m,
		Logger:         logger,
	})

	deps := ocpphandlers.Deps{
		Clock:             clk,
		Sequence:          sequence,
		Stations:          stations,
		Events:            bus,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Logger:            logger,
	}
	if after := cfg.AutoStopAfter(); after > 0 {
		a.autoStop = policy.NewAutoStop(a.dispatcher, logger)
		deps.AutoStopAfter = after
		deps.OnAutoStop = a.autoStop.Stop
	}
	ocpphandlers.Register(router, deps)

	if cfg.Policy.AutoStart.Enabled {
		a.autoStart = policy.NewAutoStart(a.dispatcher, cfg.Policy.AutoStart.IDTag, cfg.Policy.AutoStart.ConnectorID, logger)
		bus.Subscribe(a.autoStart.Handle)
	}

	a.manager = ws.NewManager(cfg.PingInterval())
	wsServer := ws.NewServer(a.manager, registry, processor, bus, ws.ConnectionOptions{
		WriteTimeout: cfg.WriteTimeout(),
		ReadTimeout:  2*cfg.PingInterval() + cfg.WriteTimeout(),
		SendBuffer:   cfg.SendBufferSize(),
	}, logger)

	handler := httpserver.NewRouter(httpserver.RouterDeps{
		Commands:      httphandlers.NewCommandHandlers(a.dispatcher, logger),
		Chargers:      httphandlers.NewChargersHandlers(chargers, logger),
		HealthHandler: httphandlers.NewHealthHandler(registry.Len),
		ChargerSocket: wsServer.HandleWS,
		SocketPath:    ws.PathPrefix,
		Metrics:       m.Handler(),
	})
	a.httpServer = httpserver.NewServer(cfg.HTTPAddress(), handler, logger)

	if cfg.NATS.URL != "" {
		a.nats = natsapi.New(a.dispatcher, cfg.NATS.Subject, logger)
	}

	logger.Info("ocpp server configured",
		zap.Bool("postgres", a.db != nil),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("badger", a.badger != nil),
		zap.Bool("nats", a.nats != nil),
		zap.Bool("auto_start", a.autoStart != nil),
		zap.Bool("auto_stop", a.autoStop != nil),
		zap.Strings("actions", router.Actions()))
	return a, nil
}

// Dispatcher exposes the command dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Registry exposes the session registry.
func (a *App) Registry() *session.Registry {
	return a.registry
}

// Run starts the event bus, websocket keepalive, NATS and the HTTP server, and blocks until ctx
// is done or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	go a.bus.Run(ctx)
	go a.manager.Start(ctx)

	if a.nats != nil {
		if err := a.nats.Start(ctx, a.cfg.NATS.URL); err != nil {
			return err
		}
	}

	return a.httpServer.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.autoStart != nil {
		a.autoStart.Wait()
	}
	if a.autoStop != nil {
		a.autoStop.Wait()
	}
	if a.badger != nil {
		if err := a.badger.Close(); err != nil {
			a.logger.Warn("failed to close badger", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
