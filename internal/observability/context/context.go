package context

import (
	stdctx "context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type providerKey struct{}

type actor struct {
	Type string
	ID   string
}

func WithRequestID(ctx stdctx.Context, requestID string) stdctx.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActor records who triggered the work: a system job, the gateway, or an API caller.
func WithActor(ctx stdctx.Context, actorType, actorID string) stdctx.Context {
	return stdctx.WithValue(ctx, actorKey{}, actor{
		Type: strings.TrimSpace(actorType),
		ID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx stdctx.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.Type, v.ID
	}
	return "", ""
}

func WithProvider(ctx stdctx.Context, provider string) stdctx.Context {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return ctx
	}
	return stdctx.WithValue(ctx, providerKey{}, provider)
}

func ProviderFromContext(ctx stdctx.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(providerKey{}).(string); ok {
		return v
	}
	return ""
}
