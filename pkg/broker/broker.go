// Package broker is the core of an in-process publish/subscribe fabric:
// a concurrency-safe router that accepts subscriptions on named
// channels — exact or glob-matched — and delivers each publication to
// every matching subscriber exactly once per subscription,
// asynchronously, sharing the payload zero-copy across the fan-out.
//
// One broker is shared by cooperating producers, consumers, and
// pluggable transport engines. Message and unsubscribe callbacks of
// accepted subscriptions run on a task runner, outside the broker lock;
// engine lifecycle notifications run with the lock held.
package broker

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/odvcencio/crossbar/pkg/object"
	"github.com/odvcencio/crossbar/pkg/runner"
)

var (
	// ErrClosed is returned when operating on a closed broker or engine.
	ErrClosed = errors.New("broker closed")

	// ErrMissingChannel is returned by Subscribe and Publish when no
	// channel name was supplied.
	ErrMissingChannel = errors.New("channel name required")

	// ErrMissingHandler is returned by Subscribe when no message
	// handler was supplied.
	ErrMissingHandler = errors.New("message handler required")

	// ErrNilSubscription is returned by Unsubscribe on a nil handle.
	ErrNilSubscription = errors.New("nil subscription")

	// ErrNoSubscribers is returned by Publish when no delivery was
	// scheduled. Non-fatal; the caller decides what to do.
	ErrNoSubscribers = errors.New("no matching subscribers")

	// ErrClusterUnavailable is returned by every Publish on the cluster
	// placeholder, which has no transport of its own.
	ErrClusterUnavailable = errors.New("cluster transport not configured")
)

// subKey identifies a subscription for deduplication: same channel,
// same mode, same handlers, same user data collide. The channel name
// keeps otherwise identical registrations on different channels apart.
type subKey struct {
	channel   string
	pattern   bool
	onMessage uintptr
	onUnsub   uintptr
	udata1    any
	udata2    any
}

// Broker is the routing fabric. Construct with New; the zero value is
// not usable.
type Broker struct {
	mu       sync.Mutex
	channels map[string]*channel
	patterns map[string]*channel
	clients  map[subKey]*Subscription
	engines  map[Engine]struct{}
	def      Engine

	local   *LocalEngine
	cluster *ClusterEngine

	run    runner.TaskRunner
	ownRun *runner.Pool
	log    *zap.Logger
	met    *metrics
	closed atomic.Bool

	liveSubs  atomic.Int64
	liveWraps atomic.Int64
}

// New constructs a broker. A zero Config is valid: the broker starts
// its own worker pool, logs nowhere, and registers no metrics.
func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b := &Broker{
		channels: make(map[string]*channel),
		patterns: make(map[string]*channel),
		clients:  make(map[subKey]*Subscription),
		engines:  make(map[Engine]struct{}),
		run:      cfg.Runner,
		log:      cfg.Logger,
		met:      newMetrics(cfg.Registerer),
	}
	if b.run == nil {
		b.ownRun = runner.NewPool(cfg.Workers, cfg.QueueDepth, cfg.Logger)
		b.run = b.ownRun
	}
	b.local = &LocalEngine{b: b}
	b.cluster = &ClusterEngine{}
	b.def = b.local
	return b
}

// Local returns the in-process routing engine.
func (b *Broker) Local() *LocalEngine { return b.local }

// Cluster returns the cluster placeholder engine.
func (b *Broker) Cluster() *ClusterEngine { return b.cluster }

// Subscribe registers a handler on a channel. With pattern set, the
// channel name is a glob and the subscription receives every publish
// whose channel matches it.
//
// onMessage and a non-empty channel name are required; a rejected call
// fires a supplied onUnsubscribe once, synchronously, and returns an
// error. udata1 and udata2 are opaque slots handed back on every
// delivery; they take part in subscription identity and must be
// comparable. Handler identity is the function's code pointer, so
// closures built from the same literal count as the same handler —
// state that distinguishes registrations belongs in the user data, not
// in captures.
//
// Subscribing twice with identical channel, mode, handlers, and user
// data returns the existing handle — one Unsubscribe still dismantles
// the single registration. Callers needing multiplicity vary the user
// data.
func (b *Broker) Subscribe(ch *object.Bytes, pattern bool, onMessage MessageHandler, onUnsubscribe UnsubscribeHandler, udata1, udata2 any) (*Subscription, error) {
	if ch == nil || ch.Len() == 0 {
		return nil, rejectSubscribe(onUnsubscribe, udata1, udata2, ErrMissingChannel)
	}
	if onMessage == nil {
		return nil, rejectSubscribe(onUnsubscribe, udata1, udata2, ErrMissingHandler)
	}
	if b.closed.Load() {
		return nil, rejectSubscribe(onUnsubscribe, udata1, udata2, ErrClosed)
	}

	key := newSubKey(ch, pattern, onMessage, onUnsubscribe, udata1, udata2)

	b.mu.Lock()
	if s, ok := b.clients[key]; ok {
		b.mu.Unlock()
		return s, nil
	}

	s := &Subscription{
		broker:        b,
		key:           key,
		onMessage:     onMessage,
		onUnsubscribe: onUnsubscribe,
		udata1:        udata1,
		udata2:        udata2,
	}
	s.ref.Store(1)
	b.clients[key] = s

	idx := b.channels
	if pattern {
		idx = b.patterns
	}
	c, ok := idx[key.channel]
	if !ok {
		c = &channel{name: ch.Dup(), pattern: pattern}
		idx[key.channel] = c
		b.channelGauge(pattern).Inc()
		b.log.Debug("channel created",
			zap.String("channel", key.channel),
			zap.Bool("pattern", pattern))
		for e := range b.engines {
			e.Subscribe(c.name, pattern)
		}
	}
	c.push(s)
	s.channel = c
	b.liveSubs.Add(1)
	b.met.subscriptions.Inc()
	b.mu.Unlock()
	return s, nil
}

func rejectSubscribe(onUnsubscribe UnsubscribeHandler, udata1, udata2 any, err error) error {
	if onUnsubscribe != nil {
		onUnsubscribe(udata1, udata2)
	}
	return err
}

// Find returns the existing subscription matching the arguments, or
// nil. It is lookup-only: callers must not Unsubscribe more times than
// they subscribed.
func (b *Broker) Find(ch *object.Bytes, pattern bool, onMessage MessageHandler, onUnsubscribe UnsubscribeHandler, udata1, udata2 any) *Subscription {
	if ch == nil || ch.Len() == 0 || onMessage == nil {
		return nil
	}
	key := newSubKey(ch, pattern, onMessage, onUnsubscribe, udata1, udata2)
	b.mu.Lock()
	s := b.clients[key]
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a registration. In-flight deliveries are not
// cancelled; they run to completion holding their own references. The
// unsubscribe callback, if any, is scheduled on the task runner after
// the removal is ordered. Unsubscribing the same handle twice is a
// caller bug.
func (b *Broker) Unsubscribe(s *Subscription) error {
	if s == nil {
		return ErrNilSubscription
	}

	b.mu.Lock()
	c := s.channel
	c.remove(s)
	delete(b.clients, s.key)
	emptied := c.empty()
	if emptied {
		idx := b.channels
		if c.pattern {
			idx = b.patterns
		}
		if got := idx[s.key.channel]; got != c {
			panic("broker: channel index corrupted")
		}
		delete(idx, s.key.channel)
		b.channelGauge(c.pattern).Dec()
		b.log.Debug("channel destroyed",
			zap.String("channel", s.key.channel),
			zap.Bool("pattern", c.pattern))
		for e := range b.engines {
			e.Unsubscribe(c.name, c.pattern)
		}
	}
	b.mu.Unlock()

	if s.onUnsubscribe != nil {
		s.retain()
		b.run.Defer(func(u1, u2 any) {
			s.onUnsubscribe(u1, u2)
			s.release()
		}, s.udata1, s.udata2)
	}
	s.release()

	if emptied {
		c.name.Free()
	}
	return nil
}

// Publish routes payload to every subscriber matching the channel name.
// Engine selection: explicit argument, then the process default, then
// the cluster placeholder. Returns the selected engine's error: the
// local engine reports ErrNoSubscribers when it scheduled no delivery,
// the cluster placeholder ErrClusterUnavailable.
func (b *Broker) Publish(ch, payload *object.Bytes, e Engine) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if ch == nil || ch.Len() == 0 {
		return ErrMissingChannel
	}
	if e == nil {
		b.mu.Lock()
		e = b.def
		b.mu.Unlock()
		if e == nil {
			e = b.cluster
		}
	}
	b.met.publishes.Inc()
	return e.Publish(ch, payload)
}

// RegisterEngine adds an engine to the registry. It will be notified of
// every subsequent channel creation and destruction; channels that
// already exist are not replayed.
func (b *Broker) RegisterEngine(e Engine) {
	b.mu.Lock()
	b.engines[e] = struct{}{}
	b.mu.Unlock()
	b.log.Info("engine registered")
}

// DeregisterEngine removes an engine. If it was the process default,
// the default resets to the cluster placeholder; install a new default
// afterwards if desired.
func (b *Broker) DeregisterEngine(e Engine) {
	b.mu.Lock()
	delete(b.engines, e)
	if b.def == e {
		b.def = b.cluster
	}
	b.mu.Unlock()
	b.log.Info("engine deregistered")
}

// SetDefaultEngine installs the engine used by Publish when none is
// given. A nil argument resets to the cluster placeholder.
func (b *Broker) SetDefaultEngine(e Engine) {
	if e == nil {
		e = b.cluster
	}
	b.mu.Lock()
	b.def = e
	b.mu.Unlock()
}

// Channels returns a snapshot of the exact-match channel names.
func (b *Broker) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.channels))
	for name := range b.channels {
		out = append(out, name)
	}
	return out
}

// Patterns returns a snapshot of the pattern channel names.
func (b *Broker) Patterns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.patterns))
	for name := range b.patterns {
		out = append(out, name)
	}
	return out
}

// Subscriptions returns the number of live subscription objects,
// including detached ones still referenced by in-flight deliveries.
func (b *Broker) Subscriptions() int64 { return b.liveSubs.Load() }

// InFlight returns the number of publishes whose fan-out has not fully
// completed.
func (b *Broker) InFlight() int64 { return b.liveWraps.Load() }

// Close tears the broker down: every remaining subscription is removed
// (each still sees exactly one unsubscribe callback) and, when the
// broker owns its worker pool, pending tasks are drained. Not safe to
// race with concurrent Unsubscribe of the same handles.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.clients))
	for _, s := range b.clients {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = b.Unsubscribe(s)
	}
	if b.ownRun != nil {
		b.ownRun.Close()
	}
	return nil
}

// Drain blocks until the broker-owned worker pool has no outstanding
// tasks. A no-op when a custom runner was supplied.
func (b *Broker) Drain() {
	if b.ownRun != nil {
		b.ownRun.Drain()
	}
}

func (b *Broker) channelGauge(pattern bool) interface{ Inc(); Dec() } {
	if pattern {
		return b.met.patternChannels
	}
	return b.met.channels
}

func (b *Broker) submitDelivery(s *Subscription, w *wrapper) {
	b.run.Defer(deliver, s, w)
}

func newSubKey(ch *object.Bytes, pattern bool, onMessage MessageHandler, onUnsubscribe UnsubscribeHandler, udata1, udata2 any) subKey {
	return subKey{
		channel:   ch.String(),
		pattern:   pattern,
		onMessage: reflect.ValueOf(onMessage).Pointer(),
		onUnsub:   handlerPointer(onUnsubscribe),
		udata1:    udata1,
		udata2:    udata2,
	}
}

func handlerPointer(h UnsubscribeHandler) uintptr {
	if h == nil {
		return 0
	}
	return reflect.ValueOf(h).Pointer()
}
