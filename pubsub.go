package live

// PubSub is a publish/subscribe messaging backend.
// The livenats sub-package provides an embedded NATS implementation.
type PubSub interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	Close() error
}

// Subscription is an active subscription that can be released manually.
type Subscription interface {
	Unsubscribe() error
}
