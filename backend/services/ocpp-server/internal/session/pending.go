package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateCorrelationID is returned when a correlation id is already pending on a session.
	ErrDuplicateCorrelationID = errors.New("session: duplicate correlation id")
	// ErrTimeout is carried by outcomes of commands the charger never answered.
	ErrTimeout = errors.New("session: command timed out")
)

// OutcomeKind tells how a pending command ended.
type OutcomeKind int

const (
	// OutcomeResult is a CALLRESULT from the charger.
	OutcomeResult OutcomeKind = iota + 1
	// OutcomeError is a CALLERROR from the charger.
	OutcomeError
	// OutcomeTimeout means the wait ended before any reply.
	OutcomeTimeout
	// OutcomeFailed means the session went away before any reply.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeResult:
		return "result"
	case OutcomeError:
		return "error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is what a waiter receives for a pending command.
type Outcome struct {
	Kind             OutcomeKind
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
	Err              error
}

// ResultOutcome wraps a CALLRESULT payload.
func ResultOutcome(payload json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeResult, Payload: payload}
}

// ErrorOutcome wraps a CALLERROR.
func ErrorOutcome(code, description string, details json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeError, ErrorCode: code, ErrorDescription: description, ErrorDetails: details}
}

// PendingCommand is one central-system call awaiting the charger's reply.
type PendingCommand struct {
	CorrelationID string
	Action        string
	IssuedAt      time.Time

	session *Session
	done    chan Outcome
}

// deliver must be called with the session lock held and only after the command was removed
// from the pending set, which makes it the single write to done.
func (pc *PendingCommand) deliver(o Outcome) {
	pc.done <- o
}

// Engine matches charger replies to pending commands and bounds the wait for them.
type Engine struct {
	clock          clock.Clock
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// NewEngine builds the correlation engine.
func NewEngine(clk clock.Clock, defaultTimeout time.Duration, logger *zap.Logger) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Engine{
		clock:          clk,
		defaultTimeout: defaultTimeout,
		logger:         logger.Named("correlation"),
	}
}

// DefaultTimeout is used by Await when no timeout is given.
func (e *Engine) DefaultTimeout() time.Duration {
	return e.defaultTimeout
}

// Register stores a pending command on the session owning tx.
func (e *Engine) Register(tx *Tx, correlationID, action string) (*PendingCommand, error) {
	s := tx.s
	if _, exists := s.pending[correlationID]; exists {
		return nil, ErrDuplicateCorrelationID
	}
	pc := &PendingCommand{
		CorrelationID: correlationID,
		Action:        action,
		IssuedAt:      e.clock.Now(),
		session:       s,
		done:          make(chan Outcome, 1),
	}
	s.pending[correlationID] = pc
	return pc, nil
}

// Forget drops a pending command without delivering anything, used when the call could not be
// written.
func (e *Engine) Forget(tx *Tx, pc *PendingCommand) {
	if cur, ok := tx.s.pending[pc.CorrelationID]; ok && cur == pc {
		delete(tx.s.pending, pc.CorrelationID)
	}
}

// Resolve hands outcome to the command waiting on correlationID. Replies nobody waits for any
// more are dropped; it reports whether a waiter was found.
func (e *Engine) Resolve(s *Session, correlationID string, outcome Outcome) bool {
	s.mu.Lock()
	pc, ok := s.pending[correlationID]
	if ok {
		delete(s.pending, correlationID)
		pc.deliver(outcome)
	}
	s.mu.Unlock()

	if !ok {
		e.logger.Debug("dropping unmatched reply",
			zap.String("station_id", s.identity),
			zap.String("unique_id", correlationID),
			zap.Stringer("kind", outcome.Kind))
		return false
	}
	return true
}

// Await blocks until the command is resolved, timeout elapses or ctx is done. Exactly one
// outcome is ever returned for a command.
func (e *Engine) Await(ctx context.Context, pc *PendingCommand, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	timer := e.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-pc.done:
		return o
	case <-timer.Chan():
		return e.expire(pc, ErrTimeout)
	case <-ctx.Done():
		return e.expire(pc, ctx.Err())
	}
}

func (e *Engine) expire(pc *PendingCommand, cause error) Outcome {
	s := pc.session
	s.mu.Lock()
	cur, ok := s.pending[pc.CorrelationID]
	if ok && cur == pc {
		delete(s.pending, pc.CorrelationID)
		s.mu.Unlock()
		e.logger.Info("command expired",
			zap.String("station_id", s.identity),
			zap.String("action", pc.Action),
			zap.String("unique_id", pc.CorrelationID),
			zap.Error(cause))
		return Outcome{Kind: OutcomeTimeout, Err: cause}
	}
	s.mu.Unlock()

	// Resolved concurrently; the outcome is already buffered.
	return <-pc.done
}
