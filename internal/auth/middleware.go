package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// ErrorResponder writes err to the client.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}

// Middleware resolves the request's bearer token and stores the user in
// the request context. Requests without a valid credential are rejected.
func (r *Resolver) Middleware(onError ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, err := BearerToken(req)
			if err != nil {
				onError(w, req, apperr.Unauthenticated(err))
				return
			}

			user, err := r.Resolve(req.Context(), token)
			if err != nil {
				onError(w, req, err)
				return
			}

			next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
		})
	}
}

// WithUser returns ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

// UserFromContext retrieves the resolved user from the context
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*models.User)
	return u, ok && u != nil
}
