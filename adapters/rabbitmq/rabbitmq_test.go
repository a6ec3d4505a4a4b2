package rabbitmq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-parking-bus/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, m rabbitmq.PubMsg) error {
	f.calls = append(f.calls, m)

	return f.err
}

// fakeConsumer hands out a channel per queue and closes it when ctx ends.
type fakeConsumer struct {
	queues map[string]chan rabbitmq.PubMsg
	err    error
}

func (f *fakeConsumer) Consume(ctx context.Context, queue string) (<-chan rabbitmq.PubMsg, error) {
	if f.err != nil {
		return nil, f.err
	}

	in := make(chan rabbitmq.PubMsg, 4)
	out := make(chan rabbitmq.PubMsg)
	f.queues[queue] = in

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func TestRabbitMQ_PublishRoutesByDestination(t *testing.T) {
	fp := &fakePublisher{}
	ad := rabbitmq.New(fp, nil)
	ad.Exchange = "parking"

	headers := map[string]string{cbus.HeaderCorrelationID: "c-9"}
	msg := cbus.Message{Destination: "parking.request.parking-start", Key: "KW20", Payload: []byte("{}"), Headers: headers}

	if err := ad.Publish(t.Context(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != "parking" || c.RoutingKey != "parking.request.parking-start" {
		t.Fatalf("routing: %+v", c)
	}

	if c.Headers[cbus.HeaderKey] != "KW20" || c.Headers[cbus.HeaderCorrelationID] != "c-9" {
		t.Fatalf("headers: %+v", c.Headers)
	}

	if _, ok := headers[cbus.HeaderKey]; ok {
		t.Fatalf("caller headers mutated")
	}
}

func TestRabbitMQ_PublishErrors(t *testing.T) {
	if err := rabbitmq.New(nil, nil).Publish(t.Context(), cbus.Message{Destination: "q"}); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("nil publisher: %v", err)
	}

	fp := &fakePublisher{err: errors.New("channel closed")}
	ad := rabbitmq.New(fp, nil)

	if err := ad.Publish(t.Context(), cbus.Message{Destination: "q"}); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	fp.err = context.Canceled
	if err := ad.Publish(t.Context(), cbus.Message{Destination: "q"}); errors.Is(err, berr.ErrTransport) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want bare context error, got %v", err)
	}
}

func TestRabbitMQ_SubscribeDeliversWithKey(t *testing.T) {
	fc := &fakeConsumer{queues: map[string]chan rabbitmq.PubMsg{}}
	ad := rabbitmq.New(nil, fc)

	got := make(chan cbus.Message, 1)

	sub, err := ad.Subscribe(t.Context(), "parking.reply.parking-start", func(_ context.Context, m cbus.Message) { got <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	fc.queues["parking.reply.parking-start"] <- rabbitmq.PubMsg{
		RoutingKey: "parking.reply.parking-start",
		Body:       []byte("body"),
		Headers:    map[string]string{cbus.HeaderKey: "KW20"},
	}

	select {
	case m := <-got:
		if m.Destination != "parking.reply.parking-start" || m.Key != "KW20" || string(m.Payload) != "body" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for delivery")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestRabbitMQ_SubscribeErrors(t *testing.T) {
	if _, err := rabbitmq.New(nil, nil).Subscribe(t.Context(), "q", func(context.Context, cbus.Message) {}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("nil consumer: %v", err)
	}

	fc := &fakeConsumer{queues: map[string]chan rabbitmq.PubMsg{}, err: errors.New("access refused")}
	if _, err := rabbitmq.New(nil, fc).Subscribe(t.Context(), "q", func(context.Context, cbus.Message) {}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("consume error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := rabbitmq.New(nil, fc).Subscribe(ctx, "q", func(context.Context, cbus.Message) {}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
