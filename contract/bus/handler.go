package bus

import "context"

// RequestHandler answers requests of type Req with a reply of type Res.
// Implementations must be safe for concurrent use by multiple goroutines.
type RequestHandler[Req, Res any] interface {
	Handle(ctx context.Context, req Req) (Res, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

func (f RequestHandlerFunc[Req, Res]) Handle(ctx context.Context, req Req) (Res, error) {
	return f(ctx, req)
}
