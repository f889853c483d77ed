package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveMatchesExactCorrelationID(t *testing.T) {
	registry, engine, _ := newTestRegistry(t)
	sess := registry.OnConnect("CP001", &fakeConn{})
	first := registerPending(t, engine, sess, "id-1", "Reset")
	second := registerPending(t, engine, sess, "id-2", "ClearCache")

	assert.False(t, engine.Resolve(sess, "id-3", ResultOutcome(json.RawMessage(`{"status":"Accepted"}`))))
	assert.Equal(t, 2, sess.PendingCount())

	require.True(t, engine.Resolve(sess, "id-2", ResultOutcome(json.RawMessage(`{"status":"Rejected"}`))))
	o := engine.Await(context.Background(), second, time.Hour)
	assert.Equal(t, OutcomeResult, o.Kind)
	assert.JSONEq(t, `{"status":"Rejected"}`, string(o.Payload))

	// A duplicate delivery for the same id is a no-op.
	assert.False(t, engine.Resolve(sess, "id-2", ResultOutcome(nil)))

	require.True(t, engine.Resolve(sess, "id-1", ErrorOutcome("NotSupported", "nope", json.RawMessage(`{}`))))
	o = engine.Await(context.Background(), first, time.Hour)
	assert.Equal(t, OutcomeError, o.Kind)
	assert.Equal(t, "NotSupported", o.ErrorCode)
	assert.Equal(t, 0, sess.PendingCount())
}

func TestRegisterRejectsDuplicateCorrelationID(t *testing.T) {
	registry, engine, _ := newTestRegistry(t)
	sess := registry.OnConnect("CP001", &fakeConn{})
	registerPending(t, engine, sess, "dup", "Reset")

	err := sess.Update(func(tx *Tx) error {
		_, err := engine.Register(tx, "dup", "Reset")
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicateCorrelationID)
	assert.Equal(t, 1, sess.PendingCount())
}

func TestAwaitTimesOutAndEvicts(t *testing.T) {
	registry, engine, clk := newTestRegistry(t)
	sess := registry.OnConnect("CP001", &fakeConn{})
	pc := registerPending(t, engine, sess, "late", "Reset")

	outcomes := make(chan Outcome, 1)
	go func() {
		outcomes <- engine.Await(context.Background(), pc, 5*time.Second)
	}()

	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))

	select {
	case o := <-outcomes:
		assert.Equal(t, OutcomeTimeout, o.Kind)
		assert.ErrorIs(t, o.Err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("await did not time out")
	}

	assert.Equal(t, 0, sess.PendingCount())
	assert.False(t, engine.Resolve(sess, "late", ResultOutcome(nil)))
}

func TestAwaitHonoursContext(t *testing.T) {
	registry, engine, _ := newTestRegistry(t)
	sess := registry.OnConnect("CP001", &fakeConn{})
	pc := registerPending(t, engine, sess, "ctx", "Reset")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := engine.Await(ctx, pc, time.Hour)
	assert.Equal(t, OutcomeTimeout, o.Kind)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.Equal(t, 0, sess.PendingCount())
}

func TestForgetDropsWithoutDelivery(t *testing.T) {
	registry, engine, _ := newTestRegistry(t)
	sess := registry.OnConnect("CP001", &fakeConn{})

	require.NoError(t, sess.Update(func(tx *Tx) error {
		pc, err := engine.Register(tx, "x", "Reset")
		if err != nil {
			return err
		}
		engine.Forget(tx, pc)
		return nil
	}))
	assert.Equal(t, 0, sess.PendingCount())
}

// A reply racing the deadline must produce exactly one outcome, and it must agree with whether
// Resolve found a waiter.
func TestReplyAndTimeoutAreExclusive(t *testing.T) {
	registry := NewRegistry(clock.WallClock, zap.NewNop())
	engine := NewEngine(clock.WallClock, time.Second, zap.NewNop())
	sess := registry.OnConnect("CP001", &fakeConn{})

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("race-%d", i)
		pc := registerPending(t, engine, sess, id, "Reset")

		var (
			wg       sync.WaitGroup
			resolved bool
			outcome  Outcome
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			outcome = engine.Await(context.Background(), pc, time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i%3) * time.Millisecond)
			resolved = engine.Resolve(sess, id, ResultOutcome(json.RawMessage(`{}`)))
		}()
		wg.Wait()

		if resolved {
			assert.Equal(t, OutcomeResult, outcome.Kind, "iteration %d", i)
		} else {
			assert.Equal(t, OutcomeTimeout, outcome.Kind, "iteration %d", i)
		}
		assert.Empty(t, pc.done, "iteration %d", i)
	}
	assert.Equal(t, 0, sess.PendingCount())
}
