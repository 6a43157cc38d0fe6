// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets actor and client metadata on the way in; the revision
// recorder and notification services read it without importing net/http.
// Background jobs run without any of these values set and fall back to the
// documented defaults ("system" actor, "unknown" client metadata).
//
// Usage in services (read values):
//
//	username := requestcontext.Username(ctx)
//	ip := requestcontext.ClientIP(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithActor(ctx, username)
//	ctx = requestcontext.WithClientMetadata(ctx, ip, userAgent)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	usernameKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Defaults used when no request context exists, e.g. maintenance jobs.
const (
	SystemActor     = "system"
	UnknownMetadata = "unknown"
)

// Username retrieves the acting principal from the context.
// Returns SystemActor if not set.
func Username(ctx context.Context) string {
	if u, ok := ctx.Value(usernameKey{}).(string); ok && u != "" {
		return u
	}
	return SystemActor
}

// WithActor injects the acting principal into the context.
func WithActor(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey{}, username)
}

// ClientIP retrieves the client IP address from the context.
// Returns UnknownMetadata if not set.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return UnknownMetadata
}

// UserAgent retrieves the User-Agent from the context.
// Returns UnknownMetadata if not set.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok && ua != "" {
		return ua
	}
	return UnknownMetadata
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts like workers and tests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need a consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
