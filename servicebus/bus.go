package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds the wait for a reply when WithTimeout is not given.
const DefaultTimeout = 5 * time.Second

const tracerName = "github.com/next-trace/scg-parking-bus/servicebus"

// Broker correlates requests with replies over a Transport and dispatches inbound
// requests to bound handlers.
//
// Broker is concurrency-safe: any number of requests may be in flight at once, each
// keyed by its own correlation id.
type Broker struct {
	tr cbus.Transport

	timeout      time.Duration
	routes       map[string]string
	defaultReply string
	prop         cbus.HeaderPropagator
	ext          cbus.HeaderExtractor
	logger       *slog.Logger
	tracer       trace.Tracer
	mw           []HandlerMiddleware

	mu       sync.Mutex
	pending  map[string]chan reply
	handlers map[string]HandlerFunc
	subs     []cbus.Subscription
	runCtx   context.Context //nolint:containedctx // subscriptions registered after Start live as long as it
	started  bool
	closed   bool
}

type reply struct {
	payload []byte
	err     error
}

// New constructs a Broker over tr. Call Start before issuing requests.
func New(tr cbus.Transport, opts ...Option) *Broker {
	b := &Broker{
		tr:       tr,
		timeout:  DefaultTimeout,
		routes:   map[string]string{},
		prop:     cbus.NopHeaderPropagator{},
		ext:      cbus.NopHeaderPropagator{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		pending:  make(map[string]chan reply),
		handlers: make(map[string]HandlerFunc),
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// Start subscribes to every reply destination and to the destinations of handlers
// bound so far. Handlers bound later are subscribed immediately.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("start: %w", berr.ErrClosed)
	}

	if b.started {
		return nil
	}

	for _, dest := range b.replyDestinations() {
		sub, err := b.tr.Subscribe(ctx, dest, b.onReply)
		if err != nil {
			_ = b.unsubscribeLocked()
			return fmt.Errorf("start reply %s: %w", dest, err)
		}

		b.subs = append(b.subs, sub)
	}

	for dest, h := range b.handlers {
		if err := b.subscribeHandlerLocked(ctx, dest, h); err != nil {
			_ = b.unsubscribeLocked()
			return err
		}
	}

	b.runCtx = ctx
	b.started = true

	return nil
}

// Close unsubscribes everything and fails every pending request with ErrClosed.
// It does not close the transport, which the caller owns.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	err := b.unsubscribeLocked()

	for id, ch := range b.pending {
		ch <- reply{err: berr.ErrClosed}

		delete(b.pending, id)
	}

	return err
}

// Request publishes payload as JSON to destination and waits for the correlated reply.
// key selects the partition on transports that have them; the correlation id never does.
func (b *Broker) Request(ctx context.Context, destination, key string, payload any) ([]byte, error) {
	body, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("request %s serialize: %w", destination, errors.Join(berr.ErrSerializationFailed, err))
	}

	return b.RequestRaw(ctx, destination, key, body)
}

// RequestRaw is Request for an already encoded body.
func (b *Broker) RequestRaw(ctx context.Context, destination, key string, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	replyTo := b.replyDestination(destination)
	if replyTo == "" {
		return nil, fmt.Errorf("request %s: no reply destination: %w", destination, berr.ErrHandlerNotFound)
	}

	id := uuid.NewString()

	ch, err := b.register(id)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", destination, err)
	}
	defer b.forget(id)

	ctx, span := b.tracer.Start(ctx, "request "+destination,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", destination),
			attribute.String("messaging.message.conversation_id", id),
		),
	)
	defer span.End()

	headers := map[string]string{
		cbus.HeaderCorrelationID: id,
		cbus.HeaderReplyTo:       replyTo,
		cbus.HeaderContentType:   cbus.ContentTypeJSON,
	}
	b.prop.Inject(ctx, headers)

	msg := cbus.Message{Destination: destination, Key: key, Payload: body, Headers: headers}
	if err := b.tr.Publish(ctx, msg); err != nil {
		fail(span, err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if !errors.Is(err, berr.ErrTransport) {
			err = errors.Join(berr.ErrTransport, err)
		}

		return nil, fmt.Errorf("request %s: %w", destination, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			fail(span, r.err)
			return nil, fmt.Errorf("request %s: %w", destination, r.err)
		}

		return r.payload, nil
	case <-timer.C:
		fail(span, berr.ErrTimeout)
		b.logger.WarnContext(ctx, "request timed out", "destination", destination, "correlation_id", id, "timeout", b.timeout)

		return nil, fmt.Errorf("request %s after %s: %w", destination, b.timeout, berr.ErrTimeout)
	case <-ctx.Done():
		fail(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// Pending reports the number of requests awaiting a reply.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

func (b *Broker) register(id string) (chan reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, berr.ErrClosed
	}

	ch := make(chan reply, 1)
	b.pending[id] = ch

	return ch, nil
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// onReply resolves the pending request named by the reply's correlation id.
// The entry is removed before resolving, so a second reply finds nothing and is dropped.
func (b *Broker) onReply(ctx context.Context, msg cbus.Message) {
	id := msg.Header(cbus.HeaderCorrelationID)

	b.mu.Lock()
	ch, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.DebugContext(ctx, "dropping uncorrelated reply", "destination", msg.Destination, "correlation_id", id)
		return
	}

	r := reply{payload: msg.Payload}
	if code := msg.Header(cbus.HeaderErrorCode); code != "" {
		r.err = remoteError(code, msg.Header(cbus.HeaderErrorMessage))
	}

	ch <- r
}

func (b *Broker) replyDestination(request string) string {
	if r, ok := b.routes[request]; ok {
		return r
	}

	return b.defaultReply
}

func (b *Broker) replyDestinations() []string {
	seen := make(map[string]struct{}, len(b.routes)+1)
	out := make([]string, 0, len(b.routes)+1)

	add := func(d string) {
		if d == "" {
			return
		}

		if _, ok := seen[d]; ok {
			return
		}

		seen[d] = struct{}{}
		out = append(out, d)
	}

	add(b.defaultReply)

	for _, r := range b.routes {
		add(r)
	}

	return out
}

func (b *Broker) unsubscribeLocked() error {
	var errs []error

	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}

	b.subs = nil

	return errors.Join(errs...)
}

// remoteError rebuilds a coded error from reply headers so errors.Is works on the caller side.
// The responder's message usually ends with the code already (errors wrapped with %w, or
// joined ahead of it); that copy is dropped so the code appears once.
func remoteError(code, message string) error {
	message = strings.TrimSuffix(message, ": "+code)
	message = strings.TrimPrefix(message, code+"\n")

	if message == "" || message == code {
		return berr.Code(code)
	}

	return fmt.Errorf("%s: %w", message, berr.Code(code))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
