package bus

import "context"

// NoopBus discards every publish and never delivers to a subscriber. It
// satisfies Bus so callers never need a nil check; used whenever NATS is
// not configured.
type NoopBus struct{}

// New returns a no-op Bus.
func New() *NoopBus { return &NoopBus{} }

var _ Bus = (*NoopBus)(nil)

func (b *NoopBus) Publish(context.Context, string, *Event) error { return nil }

func (b *NoopBus) Subscribe(string, Handler) (Subscription, error) {
	return noopSubscription{}, nil
}

func (b *NoopBus) Close() {}

func (b *NoopBus) IsConnected() bool { return false }

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
func (noopSubscription) IsValid() bool      { return false }
