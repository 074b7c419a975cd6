package broker

import "github.com/odvcencio/crossbar/pkg/object"

// Engine is a pluggable transport deciding where published messages
// actually go: in-process, a cluster peer, or an external bus.
//
// Subscribe and Unsubscribe are channel lifecycle notifications. They
// are invoked with the broker lock held, once per channel creation and
// destruction, and must not call back into broker APIs that take the
// lock; an engine that needs to react by mutating subscriptions must
// defer that work. Publish is invoked without the lock.
type Engine interface {
	// Subscribe notifies the engine that a channel gained its first
	// subscriber.
	Subscribe(name *object.Bytes, pattern bool)

	// Unsubscribe notifies the engine that a channel lost its last
	// subscriber.
	Unsubscribe(name *object.Bytes, pattern bool)

	// Publish routes one message. It returns an error when the engine
	// could not schedule any delivery.
	Publish(channel, payload *object.Bytes) error
}
