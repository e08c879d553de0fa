package mailbox

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/BranchIntl/windup/errors"
)

// DefaultPollInterval bounds each wait on a slave's master
const DefaultPollInterval = 100 * time.Millisecond

// Slave wraps a mailbox with a read-only fallback to a master mailbox.
// Messages in the slave's own queue always win over the master's.
type Slave struct {
	Mailbox
	master Mailbox
	poll   time.Duration
}

// NewSlave wraps own so that Receive falls back to master. The master is
// never shut down by the slave.
func NewSlave(own, master Mailbox) *Slave {
	return &Slave{Mailbox: own, master: master, poll: DefaultPollInterval}
}

// WithPollInterval sets the bounded sub-timeout used on the master
func (s *Slave) WithPollInterval(d time.Duration) *Slave {
	s.poll = d
	return s
}

// Master returns the fallback mailbox
func (s *Slave) Master() Mailbox {
	return s.master
}

// Receive tries the own queue without blocking, then waits briefly on the
// master, repeating until timeout elapses.
func (s *Slave) Receive(ctx context.Context, timeout time.Duration) (any, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		msg, err := s.Mailbox.Receive(ctx, 0)
		if err == nil || !errors.IsTimeout(err) {
			return msg, err
		}
		if timeout == 0 {
			return s.tryMaster(ctx)
		}

		wait := s.poll
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, errors.ErrTimeout
			}
			if remaining < wait {
				wait = remaining
			}
		}

		if s.master != nil && s.master.Alive() {
			msg, err = s.master.Receive(ctx, wait)
		} else {
			msg, err = s.Mailbox.Receive(ctx, wait)
		}
		switch {
		case err == nil:
			return msg, nil
		case errors.IsTimeout(err), stderrors.Is(err, errors.ErrMailboxDead) && s.Mailbox.Alive():
			continue
		default:
			return nil, err
		}
	}
}

func (s *Slave) tryMaster(ctx context.Context) (any, error) {
	if s.master == nil || !s.master.Alive() {
		return nil, errors.ErrTimeout
	}
	msg, err := s.master.Receive(ctx, 0)
	if stderrors.Is(err, errors.ErrMailboxDead) {
		return nil, errors.ErrTimeout
	}
	return msg, err
}
