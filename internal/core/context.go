package core

import "context"

type contextKey string

const (
	ctxKeyScope     contextKey = "tenant_scope"
	ctxKeyIPAddress contextKey = "client_ip"
	ctxKeyUserAgent contextKey = "client_ua"
)

// ContextWithScope stores the tenant scope resolved by the transport layer.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, ctxKeyScope, scope)
}

// ScopeFromContext returns the tenant scope, if any.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKeyScope).(Scope)
	return s, ok && s.Valid()
}

// ContextWithIPAddress adds the client IP recorded with committed imports.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the client User-Agent recorded with committed imports.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// GetIPAddressFromContext extracts IP address from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetUserAgentFromContext extracts User-Agent from context.
func GetUserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
