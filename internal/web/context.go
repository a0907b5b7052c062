package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/herdbook/internal/core"
)

// WithRequestMetadata adds IP and User-Agent to context for the import record.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// clientIP strips the port from RemoteAddr. TrustedRealIP has already
// replaced it with the forwarded address when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
