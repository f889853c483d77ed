package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
)

var (
	// ErrSessionReplaced fails commands of a session superseded by a reconnect.
	ErrSessionReplaced = errors.New("session: replaced by a new connection")
	// ErrConnectionClosed fails commands of a session whose connection went away.
	ErrConnectionClosed = errors.New("session: connection closed")
	// ErrSessionClosed is returned when mutating a session that is no longer registered.
	ErrSessionClosed = errors.New("session: session closed")
)

// Conn is the live transport a session writes to.
type Conn interface {
	Send(msg []byte) error
}

// Transaction is the charging transaction currently running on a charger.
type Transaction struct {
	TransactionID int       `json:"transactionId"`
	ConnectorID   int       `json:"connectorId"`
	IDTag         string    `json:"idTag,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
}

// Reservation holds a connector for an id tag until ExpiresAt.
type Reservation struct {
	ReservationID int       `json:"reservationId"`
	ConnectorID   int       `json:"connectorId"`
	IDTag         string    `json:"idTag"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// State is the protocol state of a session. It is only reachable through Tx while the session
// lock is held.
type State struct {
	LastInboundID string
	Transaction   *Transaction
	Reservations  map[int]Reservation
}

// Snapshot is a point-in-time copy of a session for read-only consumers.
type Snapshot struct {
	Identity      string        `json:"identity"`
	ConnectedAt   time.Time     `json:"connectedAt"`
	LastInboundID string        `json:"lastInboundId,omitempty"`
	Transaction   *Transaction  `json:"transaction,omitempty"`
	Reservations  []Reservation `json:"reservations"`
	Pending       int           `json:"pending"`
	Closed        bool          `json:"closed"`
}

// Session is one charger's current connection and protocol state.
type Session struct {
	identity    string
	conn        Conn
	connectedAt time.Time
	clock       clock.Clock

	mu      sync.Mutex
	closed  bool
	state   State
	pending map[string]*PendingCommand
	task    clock.Timer
}

func newSession(identity string, conn Conn, clk clock.Clock) *Session {
	return &Session{
		identity:    identity,
		conn:        conn,
		connectedAt: clk.Now(),
		clock:       clk,
		state:       State{Reservations: make(map[int]Reservation)},
		pending:     make(map[string]*PendingCommand),
	}
}

// Identity returns the charger identity.
func (s *Session) Identity() string {
	return s.identity
}

// Conn returns the connection the session was created for.
func (s *Session) Conn() Conn {
	return s.conn
}

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Closed reports whether the session was replaced or disconnected.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Tx is the view handed to Update callbacks. It must not escape the callback.
type Tx struct {
	*State
	s   *Session
	now time.Time
}

// Now is the time the exclusive section was entered.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Identity returns the charger identity.
func (tx *Tx) Identity() string {
	return tx.s.identity
}

// Send writes a frame on the session's connection.
func (tx *Tx) Send(msg []byte) error {
	return tx.s.conn.Send(msg)
}

// HasPending reports whether a command for action is still awaiting the charger's reply.
func (tx *Tx) HasPending(action string) bool {
	for _, pc := range tx.s.pending {
		if pc.Action == action {
			return true
		}
	}
	return false
}

// Schedule arms the session-owned task, replacing any previous one. The task is cancelled when
// the session terminates.
func (tx *Tx) Schedule(after time.Duration, fn func()) {
	if tx.s.task != nil {
		tx.s.task.Stop()
	}
	tx.s.task = tx.s.clock.AfterFunc(after, fn)
}

// CancelSchedule stops the session-owned task if one is armed.
func (tx *Tx) CancelSchedule() bool {
	if tx.s.task == nil {
		return false
	}
	stopped := tx.s.task.Stop()
	tx.s.task = nil
	return stopped
}

// Update runs fn inside the session's exclusion scope. Expired reservations are dropped first.
// A closed session is never mutated.
func (s *Session) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	now := s.clock.Now()
	s.pruneReservationsLocked(now)
	return fn(&Tx{State: &s.state, s: s, now: now})
}

// SetLastInboundID records the most recent correlation id received from the charger.
func (s *Session) SetLastInboundID(id string) {
	s.mu.Lock()
	s.state.LastInboundID = id
	s.mu.Unlock()
}

// PendingCount returns the number of commands awaiting a reply.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Snapshot copies the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Identity:      s.identity,
		ConnectedAt:   s.connectedAt,
		LastInboundID: s.state.LastInboundID,
		Reservations:  make([]Reservation, 0, len(s.state.Reservations)),
		Pending:       len(s.pending),
		Closed:        s.closed,
	}
	if s.state.Transaction != nil {
		tx := *s.state.Transaction
		snap.Transaction = &tx
	}
	now := s.clock.Now()
	for _, r := range s.state.Reservations {
		if r.ExpiresAt.IsZero() || r.ExpiresAt.After(now) {
			snap.Reservations = append(snap.Reservations, r)
		}
	}
	sort.Slice(snap.Reservations, func(i, j int) bool {
		return snap.Reservations[i].ReservationID < snap.Reservations[j].ReservationID
	})
	return snap
}

func (s *Session) pruneReservationsLocked(now time.Time) {
	for id, r := range s.state.Reservations {
		if !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
			delete(s.state.Reservations, id)
		}
	}
}

// terminate closes the session and fails every pending command with reason. It returns the
// number of commands that were failed.
func (s *Session) terminate(reason error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	s.closed = true
	if s.task != nil {
		s.task.Stop()
		s.task = nil
	}

	failed := 0
	for id, pc := range s.pending {
		delete(s.pending, id)
		pc.deliver(Outcome{Kind: OutcomeFailed, Err: reason})
		failed++
	}
	return failed
}
