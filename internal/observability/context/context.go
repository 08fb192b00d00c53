package context

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	scopeKey
	actorKey
	clientKey
)

type client struct {
	ip        string
	userAgent string
}

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithScope stores the billing scope ("individual:123") the request acts on.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

func ScopeFromContext(ctx context.Context) string {
	v, _ := ctx.Value(scopeKey).(string)
	return v
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: actorType, id: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	v, _ := ctx.Value(actorKey).(actor)
	return v.kind, v.id
}

// WithClient stores the caller's address and user agent for audit records.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{ip: ip, userAgent: userAgent})
}

func ClientFromContext(ctx context.Context) (string, string) {
	v, _ := ctx.Value(clientKey).(client)
	return v.ip, v.userAgent
}
