package pool

import (
	"sync"
	"time"

	"github.com/BranchIntl/windup/mailbox"
)

// Restart records one crash that was followed by a restart
type Restart struct {
	At  time.Time
	Err error
}

// Slot is the supervisor's handle for one pool position. Its identity and
// mailbox survive restarts; only the worker instance is replaced.
type Slot struct {
	id      string
	own     *mailbox.Base
	mailbox mailbox.Mailbox

	mu      sync.Mutex
	history []Restart
}

// SlotInfo is a snapshot of a slot
type SlotInfo struct {
	ID       string
	Restarts int
	History  []Restart
}

func (s *Slot) restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Slot) recordRestart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Restart{At: time.Now(), Err: err})
}

func (s *Slot) info() SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]Restart, len(s.history))
	copy(history, s.history)
	return SlotInfo{ID: s.id, Restarts: len(history), History: history}
}
