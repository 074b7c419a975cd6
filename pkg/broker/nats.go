package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/odvcencio/crossbar/pkg/object"
)

// NATSEngine bridges a broker into a NATS-backed cluster. Every bridged
// broker shares one broadcast subject: a publish through the engine is
// delivered locally and broadcast as an envelope tagged with the
// engine's instance id; remote envelopes are republished through the
// local engine, with the engine's own broadcasts filtered out by id.
//
// Channel lifecycle notifications are no-ops — the bridge carries all
// traffic on the shared subject, so per-channel NATS subscriptions are
// unnecessary and glob patterns need no mapping onto NATS wildcards.
type NATSEngine struct {
	broker  *Broker
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	id      string
	ownConn bool
	closed  atomic.Bool
	log     *zap.Logger
}

// natsEnvelope is the bridge wire format.
type natsEnvelope struct {
	Origin  string `json:"origin"`
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// NewNATSEngine connects to NATS and starts the bridge. The returned
// engine is not yet registered; callers typically follow with
// b.RegisterEngine(e) and, for transparent clustering,
// b.SetDefaultEngine(e).
func NewNATSEngine(b *Broker, cfg NATSConfig) (*NATSEngine, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	e, err := newNATSEngine(b, conn, cfg.Subject)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.ownConn = true
	return e, nil
}

// NewNATSEngineFromConn starts the bridge on an existing connection.
// Useful for testing with an embedded NATS server; the connection is
// not closed by Close.
func NewNATSEngineFromConn(b *Broker, conn *nats.Conn) (*NATSEngine, error) {
	return newNATSEngine(b, conn, "")
}

func newNATSEngine(b *Broker, conn *nats.Conn, subject string) (*NATSEngine, error) {
	if subject == "" {
		subject = DefaultConfig().NATS.Subject
	}
	e := &NATSEngine{
		broker:  b,
		conn:    conn,
		subject: subject,
		id:      ulid.Make().String(),
		log:     b.log,
	}
	sub, err := conn.Subscribe(subject, e.onRemote)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	e.sub = sub
	return e, nil
}

func (e *NATSEngine) Subscribe(name *object.Bytes, pattern bool) {}

func (e *NATSEngine) Unsubscribe(name *object.Bytes, pattern bool) {}

// Publish delivers locally and broadcasts to the cluster. Local
// delivery finding no subscriber is not an error here — a remote
// broker may still match.
func (e *NATSEngine) Publish(ch, payload *object.Bytes) error {
	if e.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(natsEnvelope{
		Origin:  e.id,
		Channel: ch.String(),
		Payload: payload.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := e.conn.Publish(e.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := e.broker.Local().Publish(ch, payload); err != nil && !errors.Is(err, ErrNoSubscribers) {
		return err
	}
	return nil
}

// onRemote runs on a NATS goroutine, never under the broker lock.
func (e *NATSEngine) onRemote(msg *nats.Msg) {
	var env natsEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		e.log.Warn("dropping malformed cluster envelope", zap.Error(err))
		return
	}
	if env.Origin == e.id || env.Channel == "" {
		return
	}
	ch := object.NewString(env.Channel)
	payload := object.New(env.Payload)
	if err := e.broker.Publish(ch, payload, e.broker.Local()); err != nil && !errors.Is(err, ErrNoSubscribers) {
		e.log.Warn("cluster republish failed",
			zap.String("channel", env.Channel),
			zap.Error(err))
	}
	ch.Free()
	payload.Free()
}

// Close stops the bridge. The connection is closed only when the engine
// opened it. Deregistering from the broker is the caller's job.
func (e *NATSEngine) Close() error {
	if e.closed.Swap(true) {
		return ErrClosed
	}
	if err := e.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	if e.ownConn {
		e.conn.Close()
	}
	return nil
}
