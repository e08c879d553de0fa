package mailbox

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/BranchIntl/windup/errors"
)

// DefaultClaimTimeout bounds how long a subscriber waits to pull the real
// message after a signal
const DefaultClaimTimeout = 100 * time.Millisecond

// Signal tells a subscriber that Origin has new work. It carries no
// payload; the subscriber has to claim the message from Origin.
type Signal struct {
	Origin Mailbox

	from *Publisher
	to   Mailbox
}

// Claim pulls the next message from the origin. Only one of the
// subscribers notified for a message can succeed. Claiming re-arms the
// subscriber for the origin's next signal.
func (s *Signal) Claim(ctx context.Context, timeout time.Duration) (any, error) {
	if s.from != nil {
		s.from.release(s.to)
	}

	msg, err := s.Origin.Receive(ctx, timeout)
	if err == nil && s.from != nil && s.Origin.Size() > 0 {
		// work left behind while signals were coalesced
		s.from.notify()
	}
	return msg, err
}

// Publisher notifies its subscribers after every successful send. A
// subscriber holds at most one unclaimed signal per publisher; sends
// made meanwhile are covered by that signal. Subscribers are not owned;
// dead ones are dropped on the next send.
type Publisher struct {
	Mailbox

	mu          sync.Mutex
	subscribers []Mailbox
	pending     map[Mailbox]bool
}

// NewPublisher wraps m with subscriber notification
func NewPublisher(m Mailbox) *Publisher {
	return &Publisher{Mailbox: m, pending: make(map[Mailbox]bool)}
}

// Subscribe registers m. Registering the same mailbox twice is a no-op.
func (p *Publisher) Subscribe(m Mailbox) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.subscribers {
		if s == m {
			return
		}
	}
	p.subscribers = append(p.subscribers, m)
}

// Unsubscribe removes m
func (p *Publisher) Unsubscribe(m Mailbox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remove(m)
}

// Subscribers returns a snapshot of the subscriber set
func (p *Publisher) Subscribers() []Mailbox {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Mailbox, len(p.subscribers))
	copy(out, p.subscribers)
	return out
}

// Send enqueues msg and then signals every subscriber
func (p *Publisher) Send(msg any) error {
	if err := p.Mailbox.Send(msg); err != nil {
		return err
	}
	p.notify()
	return nil
}

func (p *Publisher) notify() {
	for _, s := range p.Subscribers() {
		if !p.arm(s) {
			continue
		}
		if err := s.Send(&Signal{Origin: p, from: p, to: s}); err != nil {
			p.Unsubscribe(s)
		}
	}
}

// arm marks s as holding a signal, reporting false when it already does
func (p *Publisher) arm(s Mailbox) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending[s] {
		return false
	}
	p.pending[s] = true
	return true
}

func (p *Publisher) release(s Mailbox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, s)
}

// Pending reports whether s holds an unclaimed signal
func (p *Publisher) Pending(s Mailbox) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[s]
}

func (p *Publisher) remove(m Mailbox) {
	delete(p.pending, m)
	for i, s := range p.subscribers {
		if s == m {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

// Subscriber resolves signals into the messages they announce.
type Subscriber struct {
	Mailbox
	claim time.Duration
}

// NewSubscriber wraps m so that Receive claims signalled messages
func NewSubscriber(m Mailbox) *Subscriber {
	return &Subscriber{Mailbox: m, claim: DefaultClaimTimeout}
}

// WithClaimTimeout sets how long a claim may wait on the origin
func (s *Subscriber) WithClaimTimeout(d time.Duration) *Subscriber {
	s.claim = d
	return s
}

// Receive returns the next message. A signal is claimed from its origin;
// when another subscriber got there first the wait goes on until timeout.
func (s *Subscriber) Receive(ctx context.Context, timeout time.Duration) (any, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	wait := timeout
	for {
		msg, err := s.Mailbox.Receive(ctx, wait)
		if err != nil {
			return nil, err
		}

		signal, ok := msg.(*Signal)
		if !ok {
			return msg, nil
		}

		claim := s.claim
		switch {
		case timeout == 0:
			claim = 0
		case timeout > 0:
			claim = min(claim, max(time.Until(deadline), 0))
		}

		claimed, err := signal.Claim(ctx, claim)
		if err == nil {
			return claimed, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.IsTimeout(err) && !stderrors.Is(err, errors.ErrMailboxDead) {
			return nil, err
		}

		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, errors.ErrTimeout
			}
		} else if timeout == 0 {
			return nil, errors.ErrTimeout
		}
	}
}
