package config

import (
	"fmt"
	"strings"
	"time"

	libconfig "ocpphub/backend/libs/config"
)

// Config defines OCPP server configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Audit     AuditConfig     `yaml:"audit"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	OCPP      OCPPConfig      `yaml:"ocpp"`
	Policy    PolicyConfig    `yaml:"policy"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// HTTPConfig is the listener shared by the websocket endpoint and the control plane.
type HTTPConfig struct {
	Port string `yaml:"port" env:"OCPP_HTTP_PORT"`
}

// DatabaseConfig enables the postgres frame log and station repository when DSN is set.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
}

// RedisConfig enables presence tracking and event mirroring when Addr is set.
type RedisConfig struct {
	Addr          string `yaml:"addr" env:"OCPP_REDIS_ADDR"`
	Password      string `yaml:"password" env:"OCPP_REDIS_PASSWORD"`
	DB            int    `yaml:"db" env:"OCPP_REDIS_DB"`
	EventsChannel string `yaml:"eventsChannel" env:"OCPP_REDIS_EVENTS_CHANNEL"`
}

// NATSConfig enables the NATS command surface when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url" env:"OCPP_NATS_URL"`
	Subject string `yaml:"subject" env:"OCPP_NATS_SUBJECT"`
}

// AuditConfig enables the embedded badger frame log when BadgerPath is set. ":memory:" keeps
// it in memory.
type AuditConfig struct {
	BadgerPath     string `yaml:"badgerPath" env:"OCPP_AUDIT_BADGER_PATH"`
	RetentionHours int    `yaml:"retentionHours" env:"OCPP_AUDIT_RETENTION_HOURS"`
}

// WebSocketConfig tunes charger connections.
type WebSocketConfig struct {
	PingIntervalSeconds int `yaml:"pingIntervalSeconds" env:"OCPP_PING_INTERVAL"`
	WriteTimeoutSeconds int `yaml:"writeTimeoutSeconds" env:"OCPP_WRITE_TIMEOUT"`
	SendBufferSize      int `yaml:"sendBufferSize" env:"OCPP_SEND_BUFFER"`
}

// OCPPConfig holds protocol level settings.
type OCPPConfig struct {
	HeartbeatIntervalSeconds int  `yaml:"heartbeatIntervalSeconds" env:"OCPP_HEARTBEAT_INTERVAL"`
	CommandTimeoutSeconds    int  `yaml:"commandTimeoutSeconds" env:"OCPP_COMMAND_TIMEOUT"`
	ReservationTTLSeconds    int  `yaml:"reservationTTLSeconds" env:"OCPP_RESERVATION_TTL"`
	Base64Frames             bool `yaml:"base64Frames" env:"OCPP_BASE64_FRAMES"`
}

// PolicyConfig holds the optional automatic behaviours.
type PolicyConfig struct {
	AutoStart            AutoStartConfig `yaml:"autoStart"`
	AutoStopAfterSeconds int             `yaml:"autoStopAfterSeconds" env:"OCPP_AUTO_STOP_AFTER"`
}

// AutoStartConfig issues RemoteStartTransaction when a connector reports Preparing.
type AutoStartConfig struct {
	Enabled     bool   `yaml:"enabled" env:"OCPP_AUTO_START"`
	IDTag       string `yaml:"idTag" env:"OCPP_AUTO_START_ID_TAG"`
	ConnectorID int    `yaml:"connectorId" env:"OCPP_AUTO_START_CONNECTOR"`
}

// MetricsConfig configures prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"OCPP_METRICS_NAMESPACE"`
}

// Default returns configuration with every default applied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: "8081"},
		WebSocket: WebSocketConfig{
			PingIntervalSeconds: 30,
			WriteTimeoutSeconds: 15,
			SendBufferSize:      16,
		},
		OCPP: OCPPConfig{
			HeartbeatIntervalSeconds: 60,
			CommandTimeoutSeconds:    30,
			ReservationTTLSeconds:    60,
		},
		Audit:   AuditConfig{RetentionHours: 72},
		NATS:    NATSConfig{Subject: "ocpp.commands"},
		Metrics: MetricsConfig{Namespace: "ocpphub"},
	}
}

// Load uses shared config loader and validates the result.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Policy.AutoStart.Enabled && strings.TrimSpace(c.Policy.AutoStart.IDTag) == "" {
		return fmt.Errorf("config: policy.autoStart.idTag is required when auto start is enabled")
	}
	if c.OCPP.CommandTimeoutSeconds < 0 || c.OCPP.ReservationTTLSeconds < 0 || c.Policy.AutoStopAfterSeconds < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	return nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8081"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.WebSocket.PingIntervalSeconds, 30*time.Second)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.WebSocket.WriteTimeoutSeconds, 15*time.Second)
}

// SendBufferSize returns the per-connection outbound queue length.
func (c *Config) SendBufferSize() int {
	if c.WebSocket.SendBufferSize <= 0 {
		return 16
	}
	return c.WebSocket.SendBufferSize
}

// HeartbeatInterval is the interval announced in BootNotification replies.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.OCPP.HeartbeatIntervalSeconds, 60*time.Second)
}

// CommandTimeout bounds the wait for a charger reply.
func (c *Config) CommandTimeout() time.Duration {
	return seconds(c.OCPP.CommandTimeoutSeconds, 30*time.Second)
}

// ReservationTTL is how long a ReserveNow holds the connector.
func (c *Config) ReservationTTL() time.Duration {
	return seconds(c.OCPP.ReservationTTLSeconds, time.Minute)
}

// AutoStopAfter returns the forced stop delay, zero when disabled.
func (c *Config) AutoStopAfter() time.Duration {
	if c.Policy.AutoStopAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Policy.AutoStopAfterSeconds) * time.Second
}

// AuditRetention is how long the embedded frame log keeps entries, zero meaning forever.
func (c *Config) AuditRetention() time.Duration {
	if c.Audit.RetentionHours <= 0 {
		return 0
	}
	return time.Duration(c.Audit.RetentionHours) * time.Hour
}

// PresenceTTL keeps a charger visible for a few missed heartbeats.
func (c *Config) PresenceTTL() time.Duration {
	return 3 * c.HeartbeatInterval()
}

func seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}
