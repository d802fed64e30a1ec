// Package requestcontext provides HTTP-independent accessors for request-scoped values.
//
// Middleware sets these values after verifying the bearer token; services read
// them without importing net/http. Tests inject them directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithPrincipal(ctx, principal)
package requestcontext

import (
	"context"
	"time"

	id "taskgate/pkg/domain"
)

type (
	principalKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Principal is the authenticated caller. Every field comes from verified
// token claims, never from the request body.
type Principal struct {
	TenantID id.TenantID
	UserID   id.UserID
	Role     string
}

// WithPrincipal injects the authenticated caller.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TenantID returns the caller's tenant or the zero value.
func TenantID(ctx context.Context) id.TenantID {
	p, _ := PrincipalFrom(ctx)
	return p.TenantID
}

// UserID returns the caller's user or the zero value.
func UserID(ctx context.Context) id.UserID {
	p, _ := PrincipalFrom(ctx)
	return p.UserID
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() outside HTTP requests (CLI, tests without injection).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
