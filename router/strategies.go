package router

import (
	"math/rand/v2"
	"sync"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/mailbox"
)

// RoundRobin visits every subscriber once per full cycle.
type RoundRobin struct {
	subscribers
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Route rotates the subscriber list by one and sends to the new tail
func (r *RoundRobin) Route(msg any) error {
	return r.route(msg, func(boxes []mailbox.Mailbox) mailbox.Mailbox {
		first := boxes[0]
		copy(boxes, boxes[1:])
		boxes[len(boxes)-1] = first
		return first
	})
}

// Random picks a subscriber uniformly.
type Random struct {
	subscribers

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRandom creates a random router. A nil rng uses the global source.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Route(msg any) error {
	return r.route(msg, func(boxes []mailbox.Mailbox) mailbox.Mailbox {
		return boxes[r.intN(len(boxes))]
	})
}

func (r *Random) intN(n int) int {
	if r.rng == nil {
		return rand.IntN(n)
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng.IntN(n)
}

// SmallestMailbox sends to the subscriber with the fewest pending
// messages. Ties go to the earliest subscriber.
type SmallestMailbox struct {
	subscribers
}

func NewSmallestMailbox() *SmallestMailbox {
	return &SmallestMailbox{}
}

func (r *SmallestMailbox) Route(msg any) error {
	return r.route(msg, func(boxes []mailbox.Mailbox) mailbox.Mailbox {
		best, size := boxes[0], boxes[0].Size()
		for _, b := range boxes[1:] {
			if n := b.Size(); n < size {
				best, size = b, n
			}
		}
		return best
	})
}

// ScatterGather places each message once in a shared mailbox and signals
// every subscriber. Exactly one of them claims it.
type ScatterGather struct {
	shared *mailbox.Publisher
}

func NewScatterGather() *ScatterGather {
	return &ScatterGather{shared: mailbox.NewPublisher(mailbox.New())}
}

// Route enqueues msg in the shared mailbox and signals all subscribers
func (r *ScatterGather) Route(msg any) error {
	if len(r.shared.Subscribers()) == 0 {
		return errors.ErrNoSubscribers
	}
	return r.shared.Send(msg)
}

func (r *ScatterGather) Broadcast(msg any) error {
	for _, m := range r.shared.Subscribers() {
		if err := m.Send(msg); err != nil {
			r.shared.Unsubscribe(m)
		}
	}
	return nil
}

func (r *ScatterGather) Subscribe(m mailbox.Mailbox)   { r.shared.Subscribe(m) }
func (r *ScatterGather) Unsubscribe(m mailbox.Mailbox) { r.shared.Unsubscribe(m) }

func (r *ScatterGather) Subscribers() []mailbox.Mailbox {
	return r.shared.Subscribers()
}

// Pending returns the number of unclaimed messages in the shared mailbox
func (r *ScatterGather) Pending() int {
	return r.shared.Size()
}
