package session

import (
	"sync"

	"github.com/juju/clock"
)

// Sequence mints process-unique integer ids derived from the clock: the next id is the current
// unix second, or one past the previous id when that is larger.
type Sequence struct {
	mu    sync.Mutex
	clock clock.Clock
	last  int
}

// NewSequence returns a time-seeded id sequence.
func NewSequence(clk clock.Clock) *Sequence {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sequence{clock: clk}
}

// Next returns a fresh id.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := int(s.clock.Now().Unix())
	if next <= s.last {
		next = s.last + 1
	}
	s.last = next
	return next
}
