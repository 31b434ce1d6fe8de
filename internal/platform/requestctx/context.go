package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type scopeKey struct{}

var nop = zap.NewNop()

// TraceInfo links a request to its Cloud Trace span.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Scope is the per-request metadata bundle threaded through the service: the
// request-scoped logger, trace linkage, and the shop the request acts on.
type Scope struct {
	Logger *zap.Logger
	Trace  TraceInfo
	ShopID string
}

// FromContext returns the scope stored on the context, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}

// Update applies fn to a copy of the current scope and stores the result, so
// enrichment never mutates a parent context's view.
func Update(ctx context.Context, fn func(*Scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	scope, _ := FromContext(ctx)
	if fn != nil {
		fn(&scope)
	}
	return context.WithValue(ctx, scopeKey{}, scope)
}

// WithLogger stores the request-scoped logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return Update(ctx, func(s *Scope) { s.Logger = logger })
}

// WithTrace records the trace linkage for the request.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return Update(ctx, func(s *Scope) { s.Trace = info })
}

// WithShop records the shop a storefront request acts on so downstream logs
// and events carry the tenant without re-threading it through every call.
func WithShop(ctx context.Context, shopID string) context.Context {
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return Update(ctx, func(s *Scope) { s.ShopID = shopID })
}

// Logger returns the scope logger, defaulting to a shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if scope, ok := FromContext(ctx); ok && scope.Logger != nil {
		return scope.Logger
	}
	return nop
}

// NoopLogger returns the shared no-op logger used when no scope is present.
func NoopLogger() *zap.Logger {
	return nop
}

// Trace returns the trace linkage for the request.
func Trace(ctx context.Context) (TraceInfo, bool) {
	scope, ok := FromContext(ctx)
	return scope.Trace, ok
}

// TraceID returns the trace identifier from the scope, or an empty string.
func TraceID(ctx context.Context) string {
	scope, _ := FromContext(ctx)
	return scope.Trace.TraceID
}

// ShopID returns the shop recorded on the scope, or an empty string.
func ShopID(ctx context.Context) string {
	scope, _ := FromContext(ctx)
	return scope.ShopID
}
