package bus

import "context"

// Handler consumes a single delivered message.
// It is invoked sequentially per subscription; a slow handler delays the destination.
type Handler func(ctx context.Context, msg Message)

// Subscription is a live registration on a destination.
type Subscription interface {
	Unsubscribe() error
}

// Subscriber abstracts consuming messages from a named destination.
// The subscription lives until Unsubscribe is called or ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, destination string, h Handler) (Subscription, error)
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
