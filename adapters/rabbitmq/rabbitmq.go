package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

// PubMsg is an AMQP publishing or delivery stripped to what the bus needs.
type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Consumer streams deliveries of queue until ctx is done, then closes the channel.
type Consumer interface {
	Consume(ctx context.Context, queue string) (<-chan PubMsg, error)
}

// Adapter implements cbus.Transport. A destination is a queue name; messages are
// published with the destination as routing key on Exchange ("" is the default exchange).
type Adapter struct {
	Publisher Publisher
	Consumer  Consumer
	Exchange  string

	closeFn func()
}

var _ cbus.Transport = (*Adapter)(nil)

func New(p Publisher, c Consumer) *Adapter { return &Adapter{Publisher: p, Consumer: c} }

func (a *Adapter) Publish(ctx context.Context, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrTransport)
	}

	args := &publishArgs{
		exchange:   a.Exchange,
		routingKey: msg.Destination,
		body:       msg.Payload,
		headers:    publishHeaders(msg),
		wrap:       berr.ErrTransport,
		label:      "publish",
	}

	return a.publish(ctx, args)
}

func (a *Adapter) Subscribe(ctx context.Context, destination string, h cbus.Handler) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Consumer == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrSubscribeFailed)
	}

	subCtx, cancel := context.WithCancel(ctx)

	deliveries, err := a.Consumer.Consume(subCtx, destination)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("rabbitmq subscribe %s: %w", destination, errors.Join(berr.ErrSubscribeFailed, err))
	}

	go func() {
		for d := range deliveries {
			h(subCtx, toMessage(destination, d))
		}
	}()

	var once sync.Once

	return cbus.SubscriptionFunc(func() error {
		once.Do(cancel)
		return nil
	}), nil
}

func (a *Adapter) Close() error {
	if a.closeFn != nil {
		a.closeFn()
	}

	return nil
}

// internal helpers

type publishArgs struct {
	exchange   string
	routingKey string
	body       []byte
	headers    map[string]string
	wrap       error
	label      string
}

func (a *Adapter) publish(ctx context.Context, args *publishArgs) error {
	msg := PubMsg{
		Exchange:   args.exchange,
		RoutingKey: args.routingKey,
		Body:       args.body,
		Headers:    args.headers,
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq %s %s: %w", args.label, args.routingKey, errors.Join(args.wrap, err))
	}

	return nil
}

// publishHeaders copies the caller's headers so that the key survives the trip; AMQP has no record key.
func publishHeaders(m cbus.Message) map[string]string {
	h := m.CloneHeaders()
	if m.Key != "" {
		h[cbus.HeaderKey] = m.Key
	}

	return h
}

func toMessage(queue string, d PubMsg) cbus.Message {
	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	return cbus.Message{
		Destination: queue,
		Key:         headers[cbus.HeaderKey],
		Payload:     d.Body,
		Headers:     headers,
	}
}
