package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

// MsgHandler receives a raw NATS-like delivery.
type MsgHandler func(subject string, data []byte, headers map[string]string)

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe registers h on subject. A non-empty queue joins a queue group so that
	// each message reaches a single member. The returned func unsubscribes.
	Subscribe(subject, queue string, h MsgHandler) (func() error, error)
	Close()
}

// Adapter implements cbus.Transport using an injected NATS-like Client.
type Adapter struct {
	Client Client
	// Queue is the queue group subscriptions join; empty means plain subscribe.
	Queue string
	// Shared reports whether a destination joins Queue. Nil means every destination does.
	// Per-instance destinations such as reply subjects must not be shared.
	Shared func(destination string) bool
}

// Ensure Adapter implements the contract.
var _ cbus.Transport = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c} }

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := a.ready(ctx, berr.ErrTransport, "publish"); err != nil {
		return err
	}

	args := &publishArgs{
		subject: msg.Destination,
		body:    msg.Payload,
		headers: publishHeaders(msg),
		wrap:    berr.ErrTransport,
		label:   "publish",
	}

	return a.publish(ctx, args)
}

func (a *Adapter) Subscribe(ctx context.Context, destination string, h cbus.Handler) (cbus.Subscription, error) {
	if err := a.ready(ctx, berr.ErrSubscribeFailed, "subscribe"); err != nil {
		return nil, err
	}

	queue := a.Queue
	if a.Shared != nil && !a.Shared(destination) {
		queue = ""
	}

	unsub, err := a.Client.Subscribe(destination, queue, func(subject string, data []byte, headers map[string]string) {
		h(ctx, toMessage(subject, data, headers))
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", destination, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return watch(ctx, unsub), nil
}

func (a *Adapter) Close() error {
	if a.Client != nil {
		a.Client.Close()
	}

	return nil
}

type publishArgs struct {
	subject string
	body    []byte
	headers map[string]string
	wrap    error
	label   string
}

func (a *Adapter) publish(_ context.Context, args *publishArgs) error {
	if err := a.Client.Publish(args.subject, args.body, args.headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats %s %s: %w", args.label, args.subject, errors.Join(args.wrap, err))
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

// helpers

// watch ties a subscription to ctx: it unsubscribes once, on ctx cancellation or explicit call.
func watch(ctx context.Context, unsub func() error) cbus.Subscription {
	var (
		once sync.Once
		err  error
	)

	done := make(chan struct{})
	stop := func() error {
		once.Do(func() {
			close(done)
			err = unsub()
		})

		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = stop()
		case <-done:
		}
	}()

	return cbus.SubscriptionFunc(stop)
}

func publishHeaders(m cbus.Message) map[string]string {
	h := m.CloneHeaders()
	if m.Key != "" {
		h[cbus.HeaderKey] = m.Key
	}

	return h
}

func toMessage(subject string, data []byte, headers map[string]string) cbus.Message {
	if headers == nil {
		headers = map[string]string{}
	}

	return cbus.Message{
		Destination: subject,
		Key:         headers[cbus.HeaderKey],
		Payload:     data,
		Headers:     headers,
	}
}
