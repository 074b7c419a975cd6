package broker

import "github.com/odvcencio/crossbar/pkg/object"

// ClusterEngine is the cross-process transport placeholder. It
// terminates the default-engine fallback chain with a well-defined
// object: lifecycle notifications are no-ops and Publish reports that
// no transport is configured. Real cluster transports — the NATS
// engine, or an external implementation — plug in via RegisterEngine.
type ClusterEngine struct{}

func (e *ClusterEngine) Subscribe(name *object.Bytes, pattern bool) {}

func (e *ClusterEngine) Unsubscribe(name *object.Bytes, pattern bool) {}

func (e *ClusterEngine) Publish(channel, payload *object.Bytes) error {
	return ErrClusterUnavailable
}
