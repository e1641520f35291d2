// Package middleware provides HTTP middleware for authentication,
// request tracing and metrics.
package middleware

import (
	"net/http"
	"strings"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/auth"
	"github.com/meterline/billingd/pkg/httputil"
	"github.com/meterline/billingd/pkg/observability"
)

// AuthMiddleware resolves bearer session tokens to a user id on the
// request context.
type AuthMiddleware struct {
	sessions auth.Store
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(sessions auth.Store) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// Handler wraps an HTTP handler with session authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteErrorMessage(w, apierrors.CodeUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteErrorMessage(w, apierrors.CodeUnauthorized, "invalid authorization header format")
			return
		}

		sess, err := m.sessions.Lookup(r.Context(), parts[1])
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		ctx := observability.WithUserID(r.Context(), sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
