package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/handlers"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

const waitTimeout = 2 * time.Second

// chargerConn stands in for a charger's websocket: frames written by the central system land
// in a channel the test reads from.
type chargerConn struct {
	frames  chan []byte
	mu      sync.Mutex
	sendErr error
}

func newChargerConn() *chargerConn {
	return &chargerConn{frames: make(chan []byte, 32)}
}

func (c *chargerConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames <- append([]byte(nil), msg...)
	return nil
}

type harness struct {
	clock      *testclock.Clock
	registry   *session.Registry
	engine     *session.Engine
	processor  *ocpp.Processor
	parser     *ocpp.Parser
	dispatcher *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	registry := session.NewRegistry(clk, zap.NewNop())
	engine := session.NewEngine(clk, 30*time.Second, zap.NewNop())
	seq := session.NewSequence(clk)

	router := ocpp.NewRouter()
	handlers.Register(router, handlers.Deps{Clock: clk, Sequence: seq, Logger: zap.NewNop()})
	processor := ocpp.NewProcessor(ocpp.NewParser(false), router, engine, nil, nil, zap.NewNop())

	return &harness{
		clock:      clk,
		registry:   registry,
		engine:     engine,
		processor:  processor,
		parser:     ocpp.NewParser(false),
		dispatcher: New(registry, engine, Options{Clock: clk, Sequence: seq, ReservationTTL: time.Minute}),
	}
}

// charger feeds a raw frame from the charger through the processor.
func (h *harness) charger(t *testing.T, sess *session.Session, frame string) []byte {
	t.Helper()
	resp, err := h.processor.Process(context.Background(), sess, []byte(frame))
	require.NoError(t, err)
	return resp
}

// nextCall waits for the central system to write a Call.
func (h *harness) nextCall(t *testing.T, conn *chargerConn) *ocpp.Message {
	t.Helper()
	select {
	case raw := <-conn.frames:
		msg, err := h.parser.Parse(raw)
		require.NoError(t, err)
		require.True(t, msg.IsCall())
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("no call written to charger")
		return nil
	}
}

func (h *harness) issueAsync(fn func() Result) <-chan Result {
	out := make(chan Result, 1)
	go func() { out <- fn() }()
	return out
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("command did not finish")
		return Result{}
	}
}

func TestIssueUnavailableWithoutSession(t *testing.T) {
	h := newHarness(t)
	res := h.dispatcher.ClearCache(context.Background(), "CP404", time.Second)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, ReasonNotConnected, res.Reason)
}

func TestEndToEndRemoteStartScenario(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	boot := h.charger(t, sess, `[2,"b1","BootNotification",{"chargePointVendor":"V","chargePointModel":"M"}]`)
	reply, err := h.parser.Parse(boot)
	require.NoError(t, err)
	resp, err := ocpp.Decode[protocol.BootNotificationResponse](reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.RegistrationAccepted, resp.Status)
	assert.Equal(t, 60, resp.Interval)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.Issue(context.Background(), "CP001", protocol.ActionRemoteStartTransaction,
			protocol.RemoteStartTransactionRequest{ConnectorID: 1, IdTag: "TAG1"}, 5*time.Second)
	})

	call := h.nextCall(t, conn)
	assert.Equal(t, protocol.ActionRemoteStartTransaction, call.Action)
	assert.JSONEq(t, `{"connectorId":1,"idTag":"TAG1"}`, string(call.Payload))
	assert.Nil(t, h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"Accepted"}]`))

	res := waitResult(t, pending)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(res.Payload))
	assert.Nil(t, sess.Snapshot().Transaction, "acceptance must not create the transaction")

	h.charger(t, sess, `[2,"s1","StartTransaction",{"connectorId":1,"idTag":"TAG1","meterStart":0,"timestamp":"2024-05-01T12:00:00Z"}]`)
	tx := sess.Snapshot().Transaction
	require.NotNil(t, tx)
	assert.Equal(t, 1, tx.ConnectorID)
	assert.Equal(t, "TAG1", tx.IDTag)

	again := h.dispatcher.RemoteStartTransaction(context.Background(), "CP001", 1, "TAG2", 5*time.Second)
	assert.Equal(t, StatusRejected, again.Status)
	assert.Equal(t, ReasonTransactionInProgress, again.Reason)
	assert.Empty(t, conn.frames, "a rejected command must not be sent")
}

func TestConcurrentRemoteStartsSendOnce(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	h.registry.OnConnect("CP001", conn)

	const callers = 8
	results := make(chan Result, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			results <- h.dispatcher.RemoteStartTransaction(context.Background(), "CP001", 1, "TAG", 10*time.Second)
		}()
	}
	start.Done()

	rejected := 0
	for rejected < callers-1 {
		res := waitResult(t, results)
		require.Equal(t, StatusRejected, res.Status)
		assert.Equal(t, ReasonRemoteStartInProgress, res.Reason)
		rejected++
	}

	h.nextCall(t, conn)
	assert.Empty(t, conn.frames)

	require.NoError(t, h.clock.WaitAdvance(10*time.Second, time.Second, 1))
	assert.Equal(t, StatusTimedOut, waitResult(t, results).Status)
}

func TestRemoteStopRequiresMatchingTransaction(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	res := h.dispatcher.RemoteStopTransaction(context.Background(), "CP001", 7, time.Second)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonTransactionMismatch, res.Reason)

	h.charger(t, sess, `[2,"s1","StartTransaction",{"connectorId":1,"idTag":"A","meterStart":0,"timestamp":"2024-05-01T12:00:00Z"}]`)
	txID := sess.Snapshot().Transaction.TransactionID

	res = h.dispatcher.RemoteStopTransaction(context.Background(), "CP001", txID+1, time.Second)
	assert.Equal(t, ReasonTransactionMismatch, res.Reason)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.RemoteStopTransaction(context.Background(), "CP001", txID, time.Second)
	})
	call := h.nextCall(t, conn)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"Accepted"}]`)
	assert.Equal(t, StatusAccepted, waitResult(t, pending).Status)
}

func TestReserveNowRollsBackOnTimeout(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.ReserveNow(context.Background(), "CP001", 1, "TAG", 5*time.Second)
	})

	call := h.nextCall(t, conn)
	req, err := ocpp.Decode[protocol.ReserveNowRequest](call.Payload)
	require.NoError(t, err)
	assert.NotZero(t, req.ReservationID)
	assert.True(t, h.clock.Now().Add(time.Minute).Equal(req.ExpiryDate))
	assert.Len(t, sess.Snapshot().Reservations, 1, "reservation is stored before the reply")

	require.NoError(t, h.clock.WaitAdvance(5*time.Second, time.Second, 1))
	res := waitResult(t, pending)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, req.ReservationID, res.ReservationID)
	assert.Empty(t, sess.Snapshot().Reservations)
}

func TestReserveNowRollsBackOnRejection(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.ReserveNow(context.Background(), "CP001", 1, "TAG", 5*time.Second)
	})
	call := h.nextCall(t, conn)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"Occupied"}]`)

	res := waitResult(t, pending)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, "Occupied", res.Reason)
	assert.Empty(t, sess.Snapshot().Reservations)
}

func TestReservationLifecycle(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	res := h.dispatcher.CancelReservation(context.Background(), "CP001", 99, time.Second)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, ReasonUnknownReservation, res.Reason)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.ReserveNow(context.Background(), "CP001", 2, "TAG", 5*time.Second)
	})
	call := h.nextCall(t, conn)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"Accepted"}]`)
	reserved := waitResult(t, pending)
	require.Equal(t, StatusAccepted, reserved.Status)

	snap := sess.Snapshot()
	require.Len(t, snap.Reservations, 1)
	assert.Equal(t, reserved.ReservationID, snap.Reservations[0].ReservationID)
	assert.Equal(t, 2, snap.Reservations[0].ConnectorID)

	pending = h.issueAsync(func() Result {
		return h.dispatcher.CancelReservation(context.Background(), "CP001", reserved.ReservationID, 5*time.Second)
	})
	call = h.nextCall(t, conn)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"Accepted"}]`)
	assert.Equal(t, StatusAccepted, waitResult(t, pending).Status)
	assert.Empty(t, sess.Snapshot().Reservations)
}

func TestOutcomeTranslation(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	cases := []struct {
		name   string
		reply  func(id string) string
		status Status
		reason string
	}{
		{"accepted", func(id string) string { return `[3,"` + id + `",{"status":"Accepted"}]` }, StatusAccepted, ""},
		{"rejected status", func(id string) string { return `[3,"` + id + `",{"status":"Rejected"}]` }, StatusRejected, "Rejected"},
		{"not supported", func(id string) string { return `[3,"` + id + `",{"status":"NotSupported"}]` }, StatusRejected, "NotSupported"},
		{"no status", func(id string) string { return `[3,"` + id + `",{"listVersion":4}]` }, StatusAccepted, ""},
		{"call error", func(id string) string { return `[4,"` + id + `","NotImplemented","no reset",{"hint":1}]` }, StatusRejected, "NotImplemented: no reset"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pending := h.issueAsync(func() Result {
				return h.dispatcher.Reset(context.Background(), "CP001", "Soft", 5*time.Second)
			})
			call := h.nextCall(t, conn)
			assert.JSONEq(t, `{"type":"Soft"}`, string(call.Payload))
			h.charger(t, sess, tc.reply(call.UniqueID))

			res := waitResult(t, pending)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestCallErrorKeepsDetails(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.ChangeConfiguration(context.Background(), "CP001", "HeartbeatInterval", "30", 5*time.Second)
	})
	call := h.nextCall(t, conn)
	h.charger(t, sess, `[4,"`+call.UniqueID+`","PropertyConstraintViolation","bad value",{"key":"HeartbeatInterval"}]`)

	res := waitResult(t, pending)
	assert.Equal(t, StatusRejected, res.Status)
	assert.JSONEq(t, `{"key":"HeartbeatInterval"}`, string(res.Details))
}

func TestSendFailureIsUnavailable(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	conn.sendErr = errors.New("buffer full")
	sess := h.registry.OnConnect("CP001", conn)

	res := h.dispatcher.ReserveNow(context.Background(), "CP001", 1, "TAG", time.Second)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Contains(t, res.Reason, "buffer full")
	assert.Equal(t, 0, sess.PendingCount())
	assert.Empty(t, sess.Snapshot().Reservations)
}

func TestReconnectDuringWaitIsUnavailable(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	h.registry.OnConnect("CP001", conn)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.TriggerMessage(context.Background(), "CP001", protocol.ActionHeartbeat, nil, 5*time.Second)
	})
	h.nextCall(t, conn)

	h.registry.OnConnect("CP001", newChargerConn())

	res := waitResult(t, pending)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, session.ErrSessionReplaced.Error(), res.Reason)
}

func TestIssueRejectsInvalidRawPayload(t *testing.T) {
	h := newHarness(t)
	h.registry.OnConnect("CP001", newChargerConn())

	res := h.dispatcher.Issue(context.Background(), "CP001", protocol.ActionReset, json.RawMessage("{"), time.Second)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestGetLocalListVersionAndSendLocalList(t *testing.T) {
	h := newHarness(t)
	conn := newChargerConn()
	sess := h.registry.OnConnect("CP001", conn)

	pending := h.issueAsync(func() Result {
		return h.dispatcher.GetLocalListVersion(context.Background(), "CP001", 5*time.Second)
	})
	call := h.nextCall(t, conn)
	assert.Equal(t, protocol.ActionGetLocalListVersion, call.Action)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"listVersion":3}]`)
	res := waitResult(t, pending)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.JSONEq(t, `{"listVersion":3}`, string(res.Payload))

	pending = h.issueAsync(func() Result {
		return h.dispatcher.SendLocalList(context.Background(), "CP001", protocol.SendLocalListRequest{
			ListVersion: 4,
			UpdateType:  "Full",
			LocalAuthorizationList: []protocol.AuthorizationData{
				{IdTag: "TAG", IdTagInfo: &protocol.IdTagInfo{Status: protocol.AuthorizationAccepted}},
			},
		}, 5*time.Second)
	})
	call = h.nextCall(t, conn)
	h.charger(t, sess, `[3,"`+call.UniqueID+`",{"status":"VersionMismatch"}]`)
	res = waitResult(t, pending)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, "VersionMismatch", res.Reason)
}
