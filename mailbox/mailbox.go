// Package mailbox provides thread-safe message boxes with blocking receive,
// a priority side-channel for control messages, and decorators that add
// master fallback and publish/subscribe signalling.
package mailbox

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/BranchIntl/windup/errors"
)

// Mailbox is a FIFO message box shared between goroutines.
//
// Receive blocks for at most timeout. A negative timeout waits until a
// message arrives, the mailbox dies or ctx is done; zero never blocks.
type Mailbox interface {
	Send(msg any) error
	Receive(ctx context.Context, timeout time.Duration) (any, error)
	Shutdown()
	Alive() bool
	Size() int
}

// Base is the plain mailbox the decorators wrap.
type Base struct {
	mu       sync.Mutex
	messages *list.List
	control  *list.List
	dead     bool

	// changed is closed and replaced whenever a message arrives or the
	// mailbox dies, waking every blocked receiver.
	changed chan struct{}
}

// New creates an empty live mailbox
func New() *Base {
	return &Base{
		messages: list.New(),
		control:  list.New(),
		changed:  make(chan struct{}),
	}
}

// Send enqueues msg. Control messages go ahead of ordinary ones and are
// dropped without error once the mailbox is dead; ordinary messages to a
// dead mailbox fail with ErrDeadRecipient.
func (b *Base) Send(msg any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dead {
		if IsControl(msg) {
			return nil
		}
		return errors.ErrDeadRecipient
	}

	if IsControl(msg) {
		b.control.PushBack(msg)
	} else {
		b.messages.PushBack(msg)
	}
	b.broadcast()
	return nil
}

// Receive returns the oldest control message, else the oldest ordinary
// message, waiting up to timeout for one to arrive
func (b *Base) Receive(ctx context.Context, timeout time.Duration) (any, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			return nil, errors.ErrMailboxDead
		}
		if msg, ok := b.next(); ok {
			b.mu.Unlock()
			return msg, nil
		}
		changed := b.changed
		b.mu.Unlock()

		if timeout == 0 {
			return nil, errors.ErrTimeout
		}

		select {
		case <-changed:
		case <-timer:
			return nil, errors.ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Shutdown marks the mailbox dead and discards pending messages, calling
// Cleanup on those that implement Cleaner. Blocked receivers return
// ErrMailboxDead.
func (b *Base) Shutdown() {
	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		return
	}
	b.dead = true

	pending := make([]any, 0, b.control.Len()+b.messages.Len())
	for msg, ok := b.next(); ok; msg, ok = b.next() {
		pending = append(pending, msg)
	}
	b.broadcast()
	b.mu.Unlock()

	for _, msg := range pending {
		if c, ok := msg.(Cleaner); ok {
			c.Cleanup()
		}
	}
}

// Alive reports whether Shutdown has not been called
func (b *Base) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.dead
}

// Size returns the number of pending messages of both kinds
func (b *Base) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control.Len() + b.messages.Len()
}

// next pops the head message. Callers hold b.mu.
func (b *Base) next() (any, bool) {
	if e := b.control.Front(); e != nil {
		return b.control.Remove(e), true
	}
	if e := b.messages.Front(); e != nil {
		return b.messages.Remove(e), true
	}
	return nil, false
}

func (b *Base) broadcast() {
	close(b.changed)
	b.changed = make(chan struct{})
}
