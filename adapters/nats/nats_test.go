package nats_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/next-trace/scg-parking-bus/adapters/nats"
	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []struct {
		subject string
		data    []byte
		headers map[string]string
	}
	subs         map[string]nats.MsgHandler
	queues       []string
	unsubscribed int
	err          error
	subErr       error
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		subject string
		data    []byte
		headers map[string]string
	}{subject, data, headers})
	h := f.subs[subject]
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	if h != nil {
		h(subject, data, headers)
	}

	return nil
}

func (f *fakeClient) Subscribe(subject, queue string, h nats.MsgHandler) (func() error, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = map[string]nats.MsgHandler{}
	}

	f.subs[subject] = h
	f.queues = append(f.queues, queue)

	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.subs, subject)
		f.unsubscribed++

		return nil
	}, nil
}

func (f *fakeClient) Close() {}

func TestNATS_PublishSubscribe_RoundTrip(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.Queue = "inventory"

	got := make(chan cbus.Message, 1)

	sub, err := ad.Subscribe(t.Context(), "parking.request.space-by-id", func(ctx context.Context, m cbus.Message) {
		got <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := cbus.Message{
		Destination: "parking.request.space-by-id",
		Key:         "k1",
		Payload:     []byte(`7`),
		Headers:     map[string]string{cbus.HeaderCorrelationID: "c-1"},
	}
	if err := ad.Publish(t.Context(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := <-got
	if m.Key != "k1" || m.Header(cbus.HeaderCorrelationID) != "c-1" || string(m.Payload) != "7" {
		t.Fatalf("unexpected delivery: %+v", m)
	}

	if fc.queues[0] != "inventory" {
		t.Fatalf("queue group not used: %v", fc.queues)
	}

	// caller headers must not be mutated by the key header
	if _, ok := msg.Headers[cbus.HeaderKey]; ok {
		t.Fatalf("caller headers mutated: %+v", msg.Headers)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	_ = sub.Unsubscribe()

	if fc.unsubscribed != 1 {
		t.Fatalf("want exactly one unsubscribe, got %d", fc.unsubscribed)
	}
}

func TestNATS_SharedLimitsQueueGroup(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)
	ad.Queue = "parkingd"
	ad.Shared = func(d string) bool { return d != "parking.reply.parking-completion" }

	noop := func(context.Context, cbus.Message) {}

	if _, err := ad.Subscribe(t.Context(), "parking.request.parking-completion", noop); err != nil {
		t.Fatalf("subscribe request: %v", err)
	}

	if _, err := ad.Subscribe(t.Context(), "parking.reply.parking-completion", noop); err != nil {
		t.Fatalf("subscribe reply: %v", err)
	}

	if len(fc.queues) != 2 || fc.queues[0] != "parkingd" || fc.queues[1] != "" {
		t.Fatalf("reply subject must not join the queue group: %q", fc.queues)
	}
}

func TestNATS_NilClientError(t *testing.T) {
	ad := nats.New(nil)

	if err := ad.Publish(t.Context(), cbus.Message{Destination: "x"}); !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected ErrTransport for nil client, got %v", err)
	}

	if _, err := ad.Subscribe(t.Context(), "x", func(context.Context, cbus.Message) {}); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("expected ErrSubscribeFailed for nil client, got %v", err)
	}
}

func TestNATS_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	// client returns generic error -> should wrap
	fc := &fakeClient{err: errors.New("boom")}
	ad := nats.New(fc)

	err := ad.Publish(t.Context(), cbus.Message{Destination: "x"})
	if !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("expected wrapped ErrTransport, got %v", err)
	}

	// client returns context.Canceled -> propagate as-is
	fc2 := &fakeClient{err: context.Canceled}
	ad2 := nats.New(fc2)

	err = ad2.Publish(t.Context(), cbus.Message{Destination: "x"})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}
}

func TestNATS_SubscribeError(t *testing.T) {
	fc := &fakeClient{subErr: errors.New("no perms")}
	ad := nats.New(fc)

	_, err := ad.Subscribe(t.Context(), "x", func(context.Context, cbus.Message) {})
	if !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}
}
