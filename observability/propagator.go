package observability

import (
	"context"

	cbus "github.com/next-trace/scg-parking-bus/contract/bus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderPropagator carries trace context through message headers using the global
// OpenTelemetry propagator, so it follows whatever Setup installed.
type HeaderPropagator struct{}

var (
	_ cbus.HeaderPropagator = HeaderPropagator{}
	_ cbus.HeaderExtractor  = HeaderPropagator{}
)

func (HeaderPropagator) Inject(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (HeaderPropagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
