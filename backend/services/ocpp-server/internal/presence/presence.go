package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/events"
)

const keyPrefix = "chargers:connected:"

// Tracker keeps a TTL'd redis key per connected charger so other processes can see who is
// online. Keys are refreshed by boot and heartbeat traffic and dropped on disconnect.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewTracker returns tracker. ttl should exceed the heartbeat interval.
func NewTracker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Tracker{client: client, ttl: ttl, logger: logger.Named("presence")}
}

func (t *Tracker) key(stationID string) string {
	return fmt.Sprintf("%s%s", keyPrefix, stationID)
}

// Touch marks stationID online until the TTL runs out.
func (t *Tracker) Touch(ctx context.Context, stationID string, at time.Time) error {
	return t.client.Set(ctx, t.key(stationID), at.UTC().Format(time.RFC3339), t.ttl).Err()
}

// Remove marks stationID offline.
func (t *Tracker) Remove(ctx context.Context, stationID string) error {
	return t.client.Del(ctx, t.key(stationID)).Err()
}

// LastSeen returns when stationID was last touched.
func (t *Tracker) LastSeen(ctx context.Context, stationID string) (time.Time, bool, error) {
	value, err := t.client.Get(ctx, t.key(stationID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: parse last seen: %w", err)
	}
	return ts, true, nil
}

// Connected lists charger identities with a live presence key.
func (t *Tracker) Connected(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, keyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(ids)
	return ids, nil
}

// Handle updates presence from bus events.
func (t *Tracker) Handle(ctx context.Context, ev events.Event) {
	var err error
	switch ev.Type {
	case events.TypeConnected, events.TypeBoot, events.TypeHeartbeat:
		err = t.Touch(ctx, ev.StationID, ev.Time)
	case events.TypeDisconnected:
		err = t.Remove(ctx, ev.StationID)
	default:
		return
	}
	if err != nil {
		t.logger.Warn("presence update failed",
			zap.String("station_id", ev.StationID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
