// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/crestline/gatekeeper/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.ActorKey, actor)
//   actor, ok := ctx.Value(contextkeys.ActorKey).(*tenants.User)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains the resolved acting user (*tenants.User)
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: all protected API endpoints, authz middleware
	ActorKey Key = "actor"

	// SessionKey contains the *identity.Session the actor was resolved from
	// Set by: middleware.SessionMiddleware
	// Used by: audit trail, sign-out handler
	SessionKey Key = "session"

	// ImpersonatedKey contains a bool: true when the actor was resolved
	// from a preview token rather than the real session
	// Set by: middleware.SessionMiddleware
	// Used by: audit trail, presentation banners
	ImpersonatedKey Key = "impersonated"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: middleware.RequestIDMiddleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: audit middleware (pkg/audit/logger.go)
	// Used by: handlers that record audit events
	AuditLoggerKey Key = "audit_logger"
)

// WithRequestID stores the request ID in the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID retrieves the request ID from the context, or "" when unset
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
