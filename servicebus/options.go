package servicebus

import (
	"log/slog"
	"maps"
	"time"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Broker instance.
type Option func(*Broker)

// WithTimeout sets the per-request reply deadline. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRoutes maps request destinations to the reply destination their replies are sent to.
func WithRoutes(routes map[string]string) Option {
	return func(b *Broker) { maps.Copy(b.routes, routes) }
}

// WithReplyDestination sets the reply destination for requests without a route.
func WithReplyDestination(dest string) Option {
	return func(b *Broker) { b.defaultReply = dest }
}

// WithPropagator injects context into outbound headers. When p also implements
// cbus.HeaderExtractor it is used to rebuild the context of inbound requests.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(b *Broker) {
		if p == nil {
			return
		}

		b.prop = p
		if ext, ok := p.(cbus.HeaderExtractor); ok {
			b.ext = ext
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(b *Broker) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithHandlerMiddleware registers global handler middleware. Middlewares are executed in registration order.
func WithHandlerMiddleware(mw ...HandlerMiddleware) Option {
	return func(b *Broker) { b.mw = append(b.mw, mw...) }
}
