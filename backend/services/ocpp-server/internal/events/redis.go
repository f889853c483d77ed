package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the redis pub/sub channel events are mirrored to.
const DefaultChannel = "ocpp:events"

const publishTimeout = 2 * time.Second

// RedisSink mirrors bus events to a redis pub/sub channel for out-of-process consumers.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisSink returns sink publishing to channel.
func NewRedisSink(client *redis.Client, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel, logger: logger.Named("events.redis")}
}

// Handle publishes ev. It is meant to be subscribed to a Bus.
func (s *RedisSink) Handle(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("encode event failed", zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.client.Publish(pubCtx, s.channel, data).Err(); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.String("station_id", ev.StationID),
			zap.Error(err))
	}
}
