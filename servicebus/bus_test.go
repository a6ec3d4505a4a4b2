package servicebus_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-parking-bus/adapters/inmemory"
	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/servicebus"
)

const (
	echoReq   = "test.request.echo"
	echoReply = "test.reply.echo"
)

type echoIn struct{ N int }

type echoOut struct{ N int }

func newBroker(t *testing.T, opts ...servicebus.Option) (*servicebus.Broker, *inmemory.Transport) {
	t.Helper()

	tr := inmemory.New()
	opts = append([]servicebus.Option{servicebus.WithRoutes(map[string]string{echoReq: echoReply})}, opts...)
	b := servicebus.New(tr, opts...)

	t.Cleanup(func() {
		_ = b.Close()
		_ = tr.Close()
	})

	return b, tr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("condition not met in time")
}

func TestBroker_CallRoundTrip(t *testing.T) {
	b, tr := newBroker(t)

	err := servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut{N: in.N * 2}, nil
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "k1", echoIn{N: 21})
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if out.N != 42 {
		t.Fatalf("want 42, got %d", out.N)
	}

	if b.Pending() != 0 {
		t.Fatalf("pending not cleared: %d", b.Pending())
	}

	// the correlation id travels as a header, never as the key
	var req cbus.Message
	for _, m := range tr.Published() {
		if m.Destination == echoReq {
			req = m
		}
	}

	if req.Key != "k1" || req.Header(cbus.HeaderCorrelationID) == "" || req.Header(cbus.HeaderReplyTo) != echoReply {
		t.Fatalf("unexpected request message: %+v", req)
	}
}

func TestBroker_HandleDuplicateBinding(t *testing.T) {
	b, _ := newBroker(t)

	h := func(context.Context, cbus.Message) ([]byte, error) { return nil, nil }
	if err := b.Handle(echoReq, h); err != nil {
		t.Fatalf("first bind: %v", err)
	}

	if err := b.Handle(echoReq, h); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}
}

func TestBroker_CodedErrorsCrossTheBus(t *testing.T) {
	b, _ := newBroker(t)

	_ = servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) {
		switch in.N {
		case 1:
			return echoOut{}, fmt.Errorf("space 1: %w", berr.ErrNotFound)
		case 2:
			return echoOut{}, fmt.Errorf("session 7: %w", berr.ErrInvalidState)
		default:
			return echoOut{}, errors.New("boom")
		}
	})

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	tests := []struct {
		n    int
		want error
		msg  string
	}{
		{1, berr.ErrNotFound, "space 1"},
		{2, berr.ErrInvalidState, "session 7"},
		{3, berr.ErrInternal, "boom"},
	}

	for _, tt := range tests {
		_, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{N: tt.n})
		if !errors.Is(err, tt.want) {
			t.Fatalf("n=%d: want %v, got %v", tt.n, tt.want, err)
		}

		if !strings.Contains(err.Error(), tt.msg) {
			t.Fatalf("n=%d: remote message lost: %v", tt.n, err)
		}

		if n := strings.Count(err.Error(), tt.want.Error()); n != 1 {
			t.Fatalf("n=%d: code should appear once, got %d in %q", tt.n, n, err)
		}
	}
}

func TestBroker_MalformedRequestBody(t *testing.T) {
	b, _ := newBroker(t)

	_ = servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) { return echoOut(in), nil })

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := b.RequestRaw(t.Context(), echoReq, "", []byte("{not json"))
	if !errors.Is(err, berr.ErrMalformedRequest) {
		t.Fatalf("want ErrMalformedRequest, got %v", err)
	}
}

func TestBroker_Timeout(t *testing.T) {
	b, _ := newBroker(t, servicebus.WithTimeout(50*time.Millisecond))

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// nobody serves echoReq
	start := time.Now()

	_, err := b.Request(t.Context(), echoReq, "", echoIn{N: 1})
	if !errors.Is(err, berr.ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}

	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before the deadline")
	}

	if b.Pending() != 0 {
		t.Fatalf("timed out request still pending")
	}
}

func TestBroker_ContextCancel(t *testing.T) {
	b, _ := newBroker(t, servicebus.WithTimeout(time.Minute))

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Request(ctx, echoReq, "", echoIn{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context.DeadlineExceeded, got %v", err)
	}
}

func TestBroker_DuplicateReplyIsDropped(t *testing.T) {
	b, tr := newBroker(t)

	// a misbehaving responder that answers twice
	_, err := tr.Subscribe(t.Context(), echoReq, func(ctx context.Context, m cbus.Message) {
		for _, body := range []string{`{"N":1}`, `{"N":2}`} {
			_ = tr.Publish(ctx, cbus.Message{
				Destination: m.Header(cbus.HeaderReplyTo),
				Payload:     []byte(body),
				Headers:     map[string]string{cbus.HeaderCorrelationID: m.Header(cbus.HeaderCorrelationID)},
			})
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	out, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if out.N != 1 {
		t.Fatalf("first reply must win, got %d", out.N)
	}

	waitFor(t, func() bool {
		n := 0
		for _, m := range tr.Published() {
			if m.Destination == echoReply {
				n++
			}
		}

		return n == 2
	})

	if b.Pending() != 0 {
		t.Fatalf("pending: %d", b.Pending())
	}
}

type failingTransport struct {
	*inmemory.Transport
	err error
}

func (f failingTransport) Publish(context.Context, cbus.Message) error { return f.err }

func TestBroker_TransportError(t *testing.T) {
	tr := failingTransport{Transport: inmemory.New(), err: errors.New("broker unreachable")}
	defer tr.Close()

	b := servicebus.New(tr, servicebus.WithReplyDestination(echoReply))
	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Close()

	_, err := b.Request(t.Context(), echoReq, "", echoIn{})
	if !errors.Is(err, berr.ErrTransport) {
		t.Fatalf("want ErrTransport, got %v", err)
	}

	if b.Pending() != 0 {
		t.Fatalf("pending after publish failure: %d", b.Pending())
	}
}

func TestBroker_NoReplyRoute(t *testing.T) {
	b := servicebus.New(inmemory.New())

	if _, err := b.Request(t.Context(), "unrouted", "", 1); !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}
}

func TestBroker_SerializationError(t *testing.T) {
	b, _ := newBroker(t)

	if _, err := b.Request(t.Context(), echoReq, "", make(chan int)); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}
}

func TestBroker_ConcurrentRequests(t *testing.T) {
	b, _ := newBroker(t)

	_ = servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut(in), nil
	})

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 50

	var wg sync.WaitGroup

	errs := make(chan error, n)

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			out, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{N: i})
			if err != nil {
				errs <- err
				return
			}

			if out.N != i {
				errs <- fmt.Errorf("request %d got reply %d", i, out.N)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
}

func TestBroker_CloseFailsPending(t *testing.T) {
	b, _ := newBroker(t, servicebus.WithTimeout(time.Minute))

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)

	go func() {
		_, err := b.Request(t.Context(), echoReq, "", echoIn{})
		done <- err
	}()

	waitFor(t, func() bool { return b.Pending() == 1 })

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, berr.ErrClosed) {
			t.Fatalf("want ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending request not released by Close")
	}

	if _, err := b.Request(t.Context(), echoReq, "", echoIn{}); !errors.Is(err, berr.ErrClosed) {
		t.Fatalf("request after close: %v", err)
	}
}

func TestBroker_MiddlewareOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)

	mark := func(name string) servicebus.HandlerMiddleware {
		return func(next servicebus.HandlerFunc) servicebus.HandlerFunc {
			return func(ctx context.Context, m cbus.Message) ([]byte, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()

				return next(ctx, m)
			}
		}
	}

	b, _ := newBroker(t, servicebus.WithHandlerMiddleware(mark("a"), mark("b")))

	_ = servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) { return echoOut(in), nil })

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{}); err != nil {
		t.Fatalf("call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if strings.Join(order, ",") != "a,b" {
		t.Fatalf("order: %v", order)
	}
}

type ctxKey struct{}

// stampPropagator writes a fixed trace header and restores it into the context.
type stampPropagator struct{}

func (stampPropagator) Inject(_ context.Context, h map[string]string) { h["x-trace"] = "t-1" }

func (stampPropagator) Extract(ctx context.Context, h map[string]string) context.Context {
	return context.WithValue(ctx, ctxKey{}, h["x-trace"])
}

func TestBroker_PropagatesContextHeaders(t *testing.T) {
	b, _ := newBroker(t, servicebus.WithPropagator(stampPropagator{}))

	seen := make(chan any, 1)

	_ = servicebus.BindFunc(b, echoReq, func(ctx context.Context, in echoIn) (echoOut, error) {
		seen <- ctx.Value(ctxKey{})
		return echoOut(in), nil
	})

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{}); err != nil {
		t.Fatalf("call: %v", err)
	}

	if v := <-seen; v != "t-1" {
		t.Fatalf("extracted %v", v)
	}
}

func TestBroker_HandleAfterStartSubscribes(t *testing.T) {
	b, _ := newBroker(t)

	if err := b.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = servicebus.BindFunc(b, echoReq, func(_ context.Context, in echoIn) (echoOut, error) { return echoOut{N: in.N + 1}, nil })

	out, err := servicebus.Call[echoIn, echoOut](t.Context(), b, echoReq, "", echoIn{N: 1})
	if err != nil || out.N != 2 {
		t.Fatalf("got %+v, %v", out, err)
	}
}
