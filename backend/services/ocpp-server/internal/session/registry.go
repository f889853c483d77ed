package session

import (
	"sort"
	"sync"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Registry tracks one session per charger identity.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	clock    clock.Clock
	logger   *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(clk clock.Clock, logger *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    clk,
		logger:   logger.Named("registry"),
	}
}

// OnConnect installs a fresh session for identity. A previous session for the same identity is
// terminated, failing its pending commands, before the new one becomes visible. Its connection
// is left alone.
func (r *Registry) OnConnect(identity string, conn Conn) *Session {
	sess := newSession(identity, conn, r.clock)

	r.mu.Lock()
	old := r.sessions[identity]
	failed := 0
	if old != nil {
		failed = old.terminate(ErrSessionReplaced)
	}
	r.sessions[identity] = sess
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("session replaced",
			zap.String("station_id", identity),
			zap.Int("failed_commands", failed))
	}
	return sess
}

// Get returns the current session for identity.
func (r *Registry) Get(identity string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[identity]
	return sess, ok
}

// OnDisconnect removes the session for identity if it still owns conn. Close events that arrive
// after a reconnect already replaced the session are ignored.
func (r *Registry) OnDisconnect(identity string, conn Conn) bool {
	r.mu.Lock()
	sess, ok := r.sessions[identity]
	if !ok || sess.conn != conn {
		r.mu.Unlock()
		r.logger.Debug("ignoring stale disconnect", zap.String("station_id", identity))
		return false
	}
	delete(r.sessions, identity)
	failed := sess.terminate(ErrConnectionClosed)
	r.mu.Unlock()

	r.logger.Info("session removed",
		zap.String("station_id", identity),
		zap.Int("failed_commands", failed))
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Identities returns registered identities in lexical order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshots copies every registered session, ordered by identity.
func (r *Registry) Snapshots() []Snapshot {
	ids := r.Identities()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if sess, ok := r.Get(id); ok {
			out = append(out, sess.Snapshot())
		}
	}
	return out
}
