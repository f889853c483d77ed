package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	got := make(chan Event, 8)
	bus.Subscribe(func(_ context.Context, ev Event) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(Event{Type: TypeConnected, StationID: "CP001"})
	bus.Publish(Event{Type: TypeStatus, StationID: "CP001", Status: "Preparing"})

	for _, want := range []Type{TypeConnected, TypeStatus} {
		select {
		case ev := <-got:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("event %s not delivered", want)
		}
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1, zap.NewNop())
	bus.Publish(Event{Type: TypeHeartbeat})
	bus.Publish(Event{Type: TypeHeartbeat})
	assert.Len(t, bus.queue, 1)
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sink := NewRedisSink(client, "", zap.NewNop())
	sink.Handle(ctx, Event{Type: TypeTransactionStarted, StationID: "CP001", TransactionID: 42})

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, TypeTransactionStarted, ev.Type)
		assert.Equal(t, 42, ev.TransactionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
