// Package contextkeys provides centralized context key definitions.
//
// All context keys shared between packages are declared here so that the
// middleware that sets a value and the handler that reads it agree on the key.
//
//	ctx = contextkeys.WithIdentity(ctx, ident)
//	ident, ok := ctx.Value(contextkeys.IdentityKey).(*middleware.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *middleware.Identity
	// Set by: middleware.AuthMiddleware
	// Required by: metered endpoints, usage endpoint, checkout, admin routes
	IdentityKey Key = "identity"

	// DecisionKey contains entitlements.Decision
	// Set by: middleware.QuotaMiddleware after a permit
	// Used by: handlers that report remaining quota after the action
	DecisionKey Key = "entitlement_decision"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, webhook diagnostics
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.AuthMiddleware
	// Used by: logger
	UserIDKey Key = "user_id"
)

// WithIdentity adds the authenticated identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithDecision adds an entitlement decision to the context
func WithDecision(ctx context.Context, decision interface{}) context.Context {
	return context.WithValue(ctx, DecisionKey, decision)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
