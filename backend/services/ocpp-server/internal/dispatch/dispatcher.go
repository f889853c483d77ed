package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
	"ocpphub/backend/services/ocpp-server/internal/session"
)

// Status is the operator-facing outcome of a command.
type Status string

const (
	StatusAccepted    Status = "Accepted"
	StatusRejected    Status = "Rejected"
	StatusUnavailable Status = "Unavailable"
	StatusTimedOut    Status = "TimedOut"
)

// Rejection and unavailability reasons produced before anything is sent.
const (
	ReasonNotConnected          = "charger not connected"
	ReasonTransactionInProgress = "transaction in progress"
	ReasonRemoteStartInProgress = "remote start in progress"
	ReasonTransactionMismatch   = "transaction id does not match"
	ReasonUnknownReservation    = "unknown reservation"
	ReasonReservationInUse      = "reservation id already in use"
)

// Result is what Issue returns to the control plane.
type Result struct {
	Status        Status          `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	ReservationID int             `json:"reservationId,omitempty"`
}

// Recorder receives every Call frame written to a charger.
type Recorder interface {
	Record(ctx context.Context, stationID, direction, messageType, action string, frame []byte)
}

// Observer tracks command counts and latency.
type Observer interface {
	CommandStart(action string)
	CommandDone(action, status string, since time.Time)
}

// Options carries the optional collaborators of a Dispatcher.
type Options struct {
	Clock          clock.Clock
	Sequence       *session.Sequence
	ReservationTTL time.Duration
	Recorder       Recorder
	Observer       Observer
	Logger         *zap.Logger
}

// Dispatcher issues central-system commands to connected chargers and waits for their answer.
type Dispatcher struct {
	registry       *session.Registry
	engine         *session.Engine
	sequence       *session.Sequence
	reservationTTL time.Duration
	recorder       Recorder
	observer       Observer
	newID          func() string
	logger         *zap.Logger
}

// New builds a dispatcher over registry and engine.
func New(registry *session.Registry, engine *session.Engine, opts Options) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Sequence == nil {
		opts.Sequence = session.NewSequence(opts.Clock)
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Dispatcher{
		registry:       registry,
		engine:         engine,
		sequence:       opts.Sequence,
		reservationTTL: opts.ReservationTTL,
		recorder:       opts.Recorder,
		observer:       opts.Observer,
		newID:          uuid.NewString,
		logger:         opts.Logger.Named("dispatch"),
	}
}

// command is one Issue call as it moves through its hooks.
type command struct {
	action        string
	payload       json.RawMessage
	reservationID int
}

// Issue sends action with payload to the charger registered as identity and waits up to timeout
// (the engine default when zero) for its reply.
func (d *Dispatcher) Issue(ctx context.Context, identity, action string, payload interface{}, timeout time.Duration) Result {
	started := time.Now()
	if d.observer != nil {
		d.observer.CommandStart(action)
	}

	res := d.issue(ctx, identity, action, payload, timeout)

	if d.observer != nil {
		d.observer.CommandDone(action, string(res.Status), started)
	}
	d.logger.Info("command finished",
		zap.String("station_id", identity),
		zap.String("action", action),
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Duration("elapsed", time.Since(started)))
	return res
}

func (d *Dispatcher) issue(ctx context.Context, identity, action string, payload interface{}, timeout time.Duration) Result {
	raw, err := marshal(payload)
	if err != nil {
		return Result{Status: StatusRejected, Reason: err.Error()}
	}

	sess, ok := d.registry.Get(identity)
	if !ok {
		return Result{Status: StatusUnavailable, Reason: ReasonNotConnected}
	}

	cmd := &command{action: action, payload: raw}
	correlationID := d.newID()
	var (
		pc       *session.PendingCommand
		frame    []byte
		rejected string
	)

	err = sess.Update(func(tx *session.Tx) error {
		if rejected = d.prepare(tx, cmd); rejected != "" {
			return nil
		}

		var err error
		frame, err = ocpp.BuildCall(correlationID, action, cmd.payload)
		if err != nil {
			d.rollback(tx, cmd)
			return err
		}
		// Registered before the write so a fast reply always finds its waiter.
		pc, err = d.engine.Register(tx, correlationID, action)
		if err != nil {
			d.rollback(tx, cmd)
			return err
		}
		if err := tx.Send(frame); err != nil {
			d.engine.Forget(tx, pc)
			d.rollback(tx, cmd)
			return fmt.Errorf("dispatch: send %s: %w", action, err)
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("command not sent",
			zap.String("station_id", identity),
			zap.String("action", action),
			zap.Error(err))
		return Result{Status: StatusUnavailable, Reason: err.Error()}
	}
	if rejected != "" {
		return Result{Status: StatusRejected, Reason: rejected}
	}

	if d.recorder != nil {
		d.recorder.Record(ctx, identity, ocpp.DirectionOutgoing, action, action, frame)
	}

	res := translate(d.engine.Await(ctx, pc, timeout))
	res.ReservationID = cmd.reservationID
	d.settle(sess, cmd, res)
	return res
}

// prepare runs the action's preconditions inside the session lock and returns a rejection reason
// when the command must not be sent.
func (d *Dispatcher) prepare(tx *session.Tx, cmd *command) string {
	switch cmd.action {
	case protocol.ActionRemoteStartTransaction:
		if tx.Transaction != nil {
			return ReasonTransactionInProgress
		}
		if tx.HasPending(protocol.ActionRemoteStartTransaction) {
			return ReasonRemoteStartInProgress
		}

	case protocol.ActionRemoteStopTransaction:
		req, err := ocpp.Decode[protocol.RemoteStopTransactionRequest](cmd.payload)
		if err != nil {
			return err.Error()
		}
		if tx.Transaction == nil || tx.Transaction.TransactionID != req.TransactionID {
			return ReasonTransactionMismatch
		}

	case protocol.ActionCancelReservation:
		req, err := ocpp.Decode[protocol.CancelReservationRequest](cmd.payload)
		if err != nil {
			return err.Error()
		}
		if _, ok := tx.Reservations[req.ReservationID]; !ok {
			return ReasonUnknownReservation
		}

	case protocol.ActionReserveNow:
		req, err := ocpp.Decode[protocol.ReserveNowRequest](cmd.payload)
		if err != nil {
			return err.Error()
		}
		if req.ReservationID == 0 {
			req.ReservationID = d.sequence.Next()
		}
		if _, exists := tx.Reservations[req.ReservationID]; exists {
			return ReasonReservationInUse
		}
		if req.ExpiryDate.IsZero() {
			req.ExpiryDate = tx.Now().Add(d.reservationTTL).UTC()
		}
		body, err := json.Marshal(req)
		if err != nil {
			return err.Error()
		}
		tx.Reservations[req.ReservationID] = session.Reservation{
			ReservationID: req.ReservationID,
			ConnectorID:   req.ConnectorID,
			IDTag:         req.IdTag,
			ExpiresAt:     req.ExpiryDate,
		}
		cmd.payload = body
		cmd.reservationID = req.ReservationID
	}
	return ""
}

// rollback undoes what prepare stored optimistically.
func (d *Dispatcher) rollback(tx *session.Tx, cmd *command) {
	if cmd.reservationID != 0 {
		delete(tx.Reservations, cmd.reservationID)
	}
}

// settle applies the state change an outcome implies.
func (d *Dispatcher) settle(sess *session.Session, cmd *command, res Result) {
	var change func(tx *session.Tx)
	switch {
	case cmd.action == protocol.ActionReserveNow && res.Status != StatusAccepted:
		change = func(tx *session.Tx) { d.rollback(tx, cmd) }
	case cmd.action == protocol.ActionCancelReservation && res.Status == StatusAccepted:
		req, err := ocpp.Decode[protocol.CancelReservationRequest](cmd.payload)
		if err != nil {
			return
		}
		change = func(tx *session.Tx) { delete(tx.Reservations, req.ReservationID) }
	default:
		return
	}

	// A session that went away took its reservations with it.
	_ = sess.Update(func(tx *session.Tx) error {
		change(tx)
		return nil
	})
}

func translate(o session.Outcome) Result {
	switch o.Kind {
	case session.OutcomeResult:
		if status := statusOf(o.Payload); protocol.IsRejection(status) {
			return Result{Status: StatusRejected, Reason: status, Payload: o.Payload}
		}
		return Result{Status: StatusAccepted, Payload: o.Payload}
	case session.OutcomeError:
		return Result{
			Status:  StatusRejected,
			Reason:  fmt.Sprintf("%s: %s", o.ErrorCode, o.ErrorDescription),
			Details: o.ErrorDetails,
		}
	case session.OutcomeTimeout:
		return Result{Status: StatusTimedOut, Reason: errReason(o.Err)}
	default:
		return Result{Status: StatusUnavailable, Reason: errReason(o.Err)}
	}
}

func statusOf(payload json.RawMessage) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return body.Status
}

func errReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func marshal(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("dispatch: payload is not valid JSON")
		}
		return p, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode payload: %w", err)
	}
	return body, nil
}
