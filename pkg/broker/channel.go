package broker

import (
	"sync/atomic"

	"github.com/odvcencio/crossbar/pkg/object"
)

// MessageHandler processes one delivery. The envelope is only valid for
// the duration of the call; a handler that needs another round invokes
// Message.Defer and returns promptly.
type MessageHandler func(msg *Message)

// UnsubscribeHandler is invoked exactly once per accepted subscription,
// after the unsubscribe is ordered in the broker. A rejected Subscribe
// call also fires it once, synchronously, if it was supplied.
type UnsubscribeHandler func(udata1, udata2 any)

// channel is a named routing endpoint owning its subscribers as an
// intrusive doubly-linked list. All fields are guarded by the broker
// lock; a channel exists in its index exactly while the list is
// non-empty.
type channel struct {
	name    *object.Bytes
	pattern bool
	head    *Subscription
	tail    *Subscription
	size    int
}

func (ch *channel) push(s *Subscription) {
	s.prev = ch.tail
	s.next = nil
	if ch.tail != nil {
		ch.tail.next = s
	} else {
		ch.head = s
	}
	ch.tail = s
	ch.size++
}

func (ch *channel) remove(s *Subscription) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		ch.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		ch.tail = s.prev
	}
	s.prev, s.next = nil, nil
	ch.size--
}

func (ch *channel) empty() bool { return ch.head == nil }

// Subscription is one registered handler bound to one channel.
//
// Its refcount is 1 for list membership plus one per in-flight delivery
// plus one while the unsubscribe callback is pending; the subscription
// is reclaimed when the count reaches zero. The channel back-pointer is
// only followed under the broker lock and never extends the channel's
// lifetime.
type Subscription struct {
	broker        *Broker
	channel       *channel
	key           subKey
	onMessage     MessageHandler
	onUnsubscribe UnsubscribeHandler
	udata1        any
	udata2        any

	prev *Subscription
	next *Subscription
	ref  atomic.Int64
}

// Channel returns the channel name — or pattern — this subscription is
// bound to.
func (s *Subscription) Channel() string { return s.key.channel }

// Pattern reports whether the subscription is pattern-matched.
func (s *Subscription) Pattern() bool { return s.key.pattern }

func (s *Subscription) retain() { s.ref.Add(1) }

func (s *Subscription) release() {
	switch n := s.ref.Add(-1); {
	case n == 0:
		s.broker.liveSubs.Add(-1)
		s.broker.met.subscriptions.Dec()
	case n < 0:
		panic("broker: subscription released below zero")
	}
}

// Message is the transient envelope handed to a MessageHandler. It
// references the in-flight wrapper's channel and payload; neither may
// be retained past the callback except via Defer.
type Message struct {
	// Channel is the name the message was published under, which for a
	// pattern subscription differs from the subscription's pattern.
	Channel *object.Bytes

	// Payload is the published payload, shared zero-copy across the
	// fan-out.
	Payload *object.Bytes

	// Subscription is the registration this delivery belongs to.
	Subscription *Subscription

	// UData1 and UData2 are the opaque slots supplied at Subscribe.
	UData1 any
	UData2 any

	wrap *wrapper
}

// Defer re-queues this delivery for exactly one additional handler
// invocation. Only valid while the handler that received the envelope
// is running; the handler should return promptly after calling it.
func (m *Message) Defer() {
	m.wrap.retain()
	m.Subscription.retain()
	m.Subscription.broker.submitDelivery(m.Subscription, m.wrap)
}
