package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/contextkeys"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/entitlements"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/httputil"
	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// ErrInvalidToken is returned by verifiers for any token they reject
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated caller
type Identity struct {
	UserID    string
	Email     string
	Name      string
	Username  string
	AvatarURL string
	// ExpiresAt is when the presented credential stops being valid
	ExpiresAt time.Time
}

// Profile converts the identity into the fields written at sign-in
func (i *Identity) Profile() entitlements.Profile {
	return entitlements.Profile{
		UserID:    i.UserID,
		Email:     i.Email,
		Username:  i.Username,
		FullName:  i.Name,
		AvatarURL: i.AvatarURL,
	}
}

// TokenVerifier turns a bearer token into an identity
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier TokenVerifier
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier TokenVerifier, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("rejected credentials")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		ctx = observability.WithLogger(ctx, observability.FromContext(ctx).WithUser(identity.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the authenticated identity from the request
func GetIdentity(r *http.Request) *Identity {
	return IdentityFromContext(r.Context())
}

// IdentityFromContext returns the identity set by AuthMiddleware, or nil
func IdentityFromContext(ctx context.Context) *Identity {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequirePrivileged allows only identities the predicate accepts
func RequirePrivileged(privileged entitlements.Privileged) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}
			if identity.Email == "" || !privileged.IsPrivileged(identity.Email) {
				httputil.WriteForbidden(w, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
