// Package router picks which subscriber mailbox receives a routed message.
//
// Every router prunes subscribers whose mailbox has died when a delivery
// to them fails. Broadcast bypasses the strategy and reaches every live
// subscriber.
package router

import (
	stderrors "errors"
	"strings"
	"sync"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/mailbox"
)

// Router delivers messages to one of its subscribers
type Router interface {
	Route(msg any) error
	Broadcast(msg any) error
	Subscribe(m mailbox.Mailbox)
	Unsubscribe(m mailbox.Mailbox)
	Subscribers() []mailbox.Mailbox
}

// Router names accepted by New
const (
	NameScatterGather   = "scattergather"
	NameRoundRobin      = "roundrobin"
	NameRandom          = "random"
	NameSmallestMailbox = "smallestmailbox"
)

// New returns the router registered under name. Unknown names fall back
// to scatter-gather.
func New(name string) Router {
	switch normalize(name) {
	case NameRoundRobin:
		return NewRoundRobin()
	case NameRandom:
		return NewRandom(nil)
	case NameSmallestMailbox:
		return NewSmallestMailbox()
	default:
		return NewScatterGather()
	}
}

func normalize(name string) string {
	name = strings.ToLower(name)
	name = strings.NewReplacer("_", "", "-", "", " ", "").Replace(name)
	return strings.TrimSuffix(name, "firstcompleted")
}

// subscribers is the membership list shared by the strategies
type subscribers struct {
	mu    sync.Mutex
	boxes []mailbox.Mailbox
}

func (s *subscribers) Subscribe(m mailbox.Mailbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.boxes {
		if b == m {
			return
		}
	}
	s.boxes = append(s.boxes, m)
}

func (s *subscribers) Unsubscribe(m mailbox.Mailbox) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.boxes {
		if b == m {
			s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
			return
		}
	}
}

func (s *subscribers) Subscribers() []mailbox.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]mailbox.Mailbox, len(s.boxes))
	copy(out, s.boxes)
	return out
}

func (s *subscribers) Broadcast(msg any) error {
	for _, m := range s.Subscribers() {
		if err := s.deliver(m, msg); err != nil {
			return err
		}
	}
	return nil
}

// deliver sends msg to m, pruning m when its mailbox is dead
func (s *subscribers) deliver(m mailbox.Mailbox, msg any) error {
	err := m.Send(msg)
	if stderrors.Is(err, errors.ErrDeadRecipient) {
		s.Unsubscribe(m)
		return nil
	}
	return err
}

// route sends msg to the subscriber chosen by pick, retrying with a fresh
// pick while chosen subscribers turn out to be dead
func (s *subscribers) route(msg any, pick func([]mailbox.Mailbox) mailbox.Mailbox) error {
	for {
		s.mu.Lock()
		if len(s.boxes) == 0 {
			s.mu.Unlock()
			return errors.ErrNoSubscribers
		}
		target := pick(s.boxes)
		s.mu.Unlock()

		err := target.Send(msg)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, errors.ErrDeadRecipient) {
			return err
		}
		s.Unsubscribe(target)
	}
}
