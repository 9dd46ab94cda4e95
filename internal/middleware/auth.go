package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/flowerwine/filebounty-backend/internal/auth"
	"go.uber.org/zap"
)

type ctxKey int

const (
	userKey ctxKey = iota
	adminKey
)

// WithUser stores user claims on ctx.
func WithUser(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, userKey, c)
}

// WithAdmin stores admin claims on ctx.
func WithAdmin(ctx context.Context, c *auth.AdminClaims) context.Context {
	return context.WithValue(ctx, adminKey, c)
}

// User returns the authenticated user's claims, if any.
func User(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(userKey).(*auth.Claims)
	return c, ok && c != nil
}

// UserID returns the authenticated user id or 0 for anonymous requests.
func UserID(ctx context.Context) int64 {
	if c, ok := User(ctx); ok {
		return c.UserID
	}
	return 0
}

// Admin returns the authenticated admin's claims, if any.
func Admin(ctx context.Context) (*auth.AdminClaims, bool) {
	c, ok := ctx.Value(adminKey).(*auth.AdminClaims)
	return c, ok && c != nil
}

func authFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, "token has been revoked")
	case errors.Is(err, auth.ErrUserDisabled):
		writeError(w, http.StatusForbidden, "account is disabled")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	default:
		zap.S().Errorf("auth: token check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// RequireUser rejects requests without a valid user bearer token.
func RequireUser(tokens *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			claims, err := tokens.ParseUser(r.Context(), raw)
			if err != nil {
				authFailure(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims)))
		})
	}
}

// OptionalUser attaches the user when a valid token is sent and otherwise
// lets the request through anonymously.
func OptionalUser(tokens *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := auth.BearerToken(r.Header.Get("Authorization")); raw != "" {
				if claims, err := tokens.ParseUser(r.Context(), raw); err == nil {
					r = r.WithContext(WithUser(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects requests without a valid admin token.
func RequireAdmin(tokens *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.BearerToken(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "admin authentication required")
				return
			}
			claims, err := tokens.ParseAdmin(raw)
			if err != nil {
				authFailure(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), claims)))
		})
	}
}
