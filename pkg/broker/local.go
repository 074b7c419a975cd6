package broker

import (
	"sync/atomic"

	"github.com/odvcencio/crossbar/pkg/glob"
	"github.com/odvcencio/crossbar/pkg/object"
)

// wrapper is the shared state of one in-flight local publish: one
// refcounted hold on the channel name and payload, shared zero-copy by
// every delivery task fanned out for it. Its refcount is 1 for the
// publisher plus one per scheduled delivery; the holds are released
// when the last delivery finishes.
type wrapper struct {
	ref     atomic.Int64
	channel *object.Bytes
	payload *object.Bytes
	broker  *Broker
}

func newWrapper(b *Broker, ch, payload *object.Bytes) *wrapper {
	w := &wrapper{
		channel: ch.Dup(),
		payload: payload.Dup(),
		broker:  b,
	}
	w.ref.Store(1)
	b.liveWraps.Add(1)
	b.met.inflight.Inc()
	return w
}

func (w *wrapper) retain() { w.ref.Add(1) }

func (w *wrapper) release() {
	switch n := w.ref.Add(-1); {
	case n == 0:
		w.channel.Free()
		w.payload.Free()
		w.broker.liveWraps.Add(-1)
		w.broker.met.inflight.Dec()
	case n < 0:
		panic("broker: message wrapper released below zero")
	}
}

// LocalEngine routes publishes within the process: exact-index lookup,
// then a glob run over every pattern channel, deferring one delivery
// task per matching subscription. Subscribe and Unsubscribe are no-ops
// — all local state lives in the broker indexes.
type LocalEngine struct {
	b *Broker
}

func (e *LocalEngine) Subscribe(name *object.Bytes, pattern bool) {}

func (e *LocalEngine) Unsubscribe(name *object.Bytes, pattern bool) {}

// Publish fans payload out to every subscription matching the channel
// at the moment the broker lock is acquired. Deliveries are submitted
// in exact-list order, then pattern-index order; once submitted the
// runner may execute them in any order, in parallel.
func (e *LocalEngine) Publish(ch, payload *object.Bytes) error {
	b := e.b
	w := newWrapper(b, ch, payload)
	scheduled := 0

	b.mu.Lock()
	if c, ok := b.channels[ch.String()]; ok {
		scheduled += b.fanOut(c, w)
	}
	data := ch.Bytes()
	for _, c := range b.patterns {
		if glob.Match(data, c.name.Bytes()) {
			scheduled += b.fanOut(c, w)
		}
	}
	b.mu.Unlock()

	w.release()
	if scheduled == 0 {
		b.met.misses.Inc()
		return ErrNoSubscribers
	}
	b.met.deliveries.Add(float64(scheduled))
	return nil
}

// fanOut schedules one delivery per subscriber of c. Caller holds the
// broker lock; each delivery takes its own wrapper and subscription
// references so it can run safely after unlock.
func (b *Broker) fanOut(c *channel, w *wrapper) int {
	n := 0
	for s := c.head; s != nil; s = s.next {
		w.retain()
		s.retain()
		b.submitDelivery(s, w)
		n++
	}
	return n
}

// deliver runs on the task runner, outside the broker lock. It builds
// the transient envelope, invokes the handler synchronously, then drops
// the references taken at fan-out.
func deliver(arg1, arg2 any) {
	s := arg1.(*Subscription)
	w := arg2.(*wrapper)
	msg := &Message{
		Channel:      w.channel,
		Payload:      w.payload,
		Subscription: s,
		UData1:       s.udata1,
		UData2:       s.udata2,
		wrap:         w,
	}
	s.onMessage(msg)
	w.release()
	s.release()
}
