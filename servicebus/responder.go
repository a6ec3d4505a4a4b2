package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc answers one inbound request with an encoded reply body.
type HandlerFunc func(ctx context.Context, msg cbus.Message) ([]byte, error)

// HandlerMiddleware wraps handler execution.
type HandlerMiddleware func(next HandlerFunc) HandlerFunc

// Handle binds h to destination. Duplicate bindings are rejected.
// Handlers run on the destination's subscription, one request at a time.
func (b *Broker) Handle(destination string, h HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bind %s: %w", destination, berr.ErrClosed)
	}

	if _, exists := b.handlers[destination]; exists {
		return fmt.Errorf("bind %s: %w", destination, berr.ErrHandlerExists)
	}

	// Build chain so the first registered middleware runs first
	final := h
	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	b.handlers[destination] = final

	if b.started {
		if err := b.subscribeHandlerLocked(b.runCtx, destination, final); err != nil {
			delete(b.handlers, destination)
			return err
		}
	}

	return nil
}

// Bind registers a typed handler on destination: the request body is decoded into Req
// and the result is encoded as the reply.
func Bind[Req, Res any](b *Broker, destination string, h cbus.RequestHandler[Req, Res]) error {
	return b.Handle(destination, func(ctx context.Context, msg cbus.Message) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, fmt.Errorf("decode %s: %w", destination, errors.Join(berr.ErrMalformedRequest, err))
		}

		res, err := h.Handle(ctx, req)
		if err != nil {
			return nil, err
		}

		body, err := marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", destination, errors.Join(berr.ErrSerializationFailed, err))
		}

		return body, nil
	})
}

// BindFunc is Bind for a plain function.
func BindFunc[Req, Res any](b *Broker, destination string, f func(ctx context.Context, req Req) (Res, error)) error {
	return Bind[Req, Res](b, destination, cbus.RequestHandlerFunc[Req, Res](f))
}

// Call issues a typed request and decodes the reply into Res.
func Call[Req, Res any](ctx context.Context, b *Broker, destination, key string, req Req) (Res, error) {
	var zero Res

	body, err := b.Request(ctx, destination, key, req)
	if err != nil {
		return zero, err
	}

	var res Res
	if err := json.Unmarshal(body, &res); err != nil {
		return zero, fmt.Errorf("call %s decode: %w", destination, errors.Join(berr.ErrSerializationFailed, err))
	}

	return res, nil
}

func (b *Broker) subscribeHandlerLocked(ctx context.Context, destination string, h HandlerFunc) error {
	sub, err := b.tr.Subscribe(ctx, destination, b.serve(h))
	if err != nil {
		return fmt.Errorf("bind %s: %w", destination, err)
	}

	b.subs = append(b.subs, sub)

	return nil
}

// serve adapts h to a transport handler that replies to the request's reply-to destination.
func (b *Broker) serve(h HandlerFunc) cbus.Handler {
	return func(ctx context.Context, msg cbus.Message) {
		id := msg.Header(cbus.HeaderCorrelationID)
		replyTo := msg.Header(cbus.HeaderReplyTo)

		if id == "" || replyTo == "" {
			b.logger.WarnContext(ctx, "dropping request without correlation", "destination", msg.Destination)
			return
		}

		ctx = b.ext.Extract(ctx, msg.Headers)

		ctx, span := b.tracer.Start(ctx, "handle "+msg.Destination,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("messaging.destination.name", msg.Destination),
				attribute.String("messaging.message.conversation_id", id),
			),
		)
		defer span.End()

		headers := map[string]string{
			cbus.HeaderCorrelationID: id,
			cbus.HeaderContentType:   cbus.ContentTypeJSON,
		}

		payload, err := h(ctx, msg)
		if err != nil {
			fail(span, err)

			code, ok := berr.CodeOf(err)
			if !ok {
				code = berr.ErrCodeInternal
			}

			headers[cbus.HeaderErrorCode] = code
			headers[cbus.HeaderErrorMessage] = err.Error()
			payload = nil

			b.logger.DebugContext(ctx, "request failed", "destination", msg.Destination, "code", code, "err", err)
		}

		b.prop.Inject(ctx, headers)

		out := cbus.Message{Destination: replyTo, Key: msg.Key, Payload: payload, Headers: headers}
		if err := b.tr.Publish(ctx, out); err != nil {
			b.logger.ErrorContext(ctx, "reply publish failed", "destination", replyTo, "correlation_id", id, "err", err)
		}
	}
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return b, nil
}
