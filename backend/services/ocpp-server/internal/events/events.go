package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type names a charger lifecycle event.
type Type string

const (
	TypeConnected          Type = "connected"
	TypeDisconnected       Type = "disconnected"
	TypeBoot               Type = "boot"
	TypeHeartbeat          Type = "heartbeat"
	TypeStatus             Type = "status"
	TypeTransactionStarted Type = "transaction_started"
	TypeTransactionStopped Type = "transaction_stopped"
)

const defaultQueueSize = 256

// Event is published whenever something observable happens on a charger session.
type Event struct {
	Type          Type      `json:"type"`
	StationID     string    `json:"stationId"`
	Time          time.Time `json:"time"`
	ConnectorID   int       `json:"connectorId,omitempty"`
	Status        string    `json:"status,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	TransactionID int       `json:"transactionId,omitempty"`
	IDTag         string    `json:"idTag,omitempty"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Handler consumes events delivered by the bus.
type Handler func(ctx context.Context, ev Event)

// Bus is an in-process fan-out. Publish only enqueues; Run delivers to subscribers in order on
// its own goroutine so connection read loops never wait on consumers.
type Bus struct {
	mu     sync.RWMutex
	subs   []Handler
	queue  chan Event
	logger *zap.Logger
}

// NewBus builds a bus with a bounded queue.
func NewBus(size int, logger *zap.Logger) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{
		queue:  make(chan Event, size),
		logger: logger.Named("events"),
	}
}

// Subscribe registers h for every event published afterwards.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish enqueues ev. Events are dropped when the queue is full.
func (b *Bus) Publish(ev Event) {
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("dropping event, queue full",
			zap.String("type", string(ev.Type)),
			zap.String("station_id", ev.StationID))
	}
}

// Run delivers queued events until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]Handler, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, h := range subs {
		h(ctx, ev)
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}
