package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/core"
)

// Identity headers set by the upstream authenticator.
const (
	headerUserID    = "X-User-Id"
	headerUserEmail = "X-User-Email"
)

// WithRequestMetadata adds IP and User-Agent to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

// actorFromRequest reads the caller identity headers. The values are
// recorded as given.
func actorFromRequest(r *http.Request) core.ActorContext {
	return core.ActorContext{
		UserID: strings.TrimSpace(r.Header.Get(headerUserID)),
		Email:  strings.TrimSpace(r.Header.Get(headerUserEmail)),
	}
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already replaced for proxied requests.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
