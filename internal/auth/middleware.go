package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
)

type contextKey string

const (
	userIDKey    contextKey = "userID"
	userEmailKey contextKey = "userEmail"
)

// Middleware authenticates requests with bearer tokens.
type Middleware struct {
	tokens *TokenIssuer
}

func NewMiddleware(tokens *TokenIssuer) *Middleware {
	return &Middleware{tokens: tokens}
}

// RequireAuth rejects requests without a valid token with a 401 JSON body.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			msg := "authentication required"
			if errors.Is(err, ErrTokenExpired) {
				msg = "session expired, please sign in again"
			}
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			errs.Write(w, errs.Wrap(errs.Unauthenticated, msg, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject, claims.Email)))
	})
}

// OptionalAuth attaches the user when a valid token is present and
// continues anonymously otherwise.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.Subject, claims.Email)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*TokenClaims, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	return m.tokens.Verify(token)
}

// WithUser stores the authenticated user in ctx and tags log lines with it.
func WithUser(ctx context.Context, userID, emailAddr string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, userEmailKey, emailAddr)
	return obs.WithUserID(ctx, userID)
}

// GetUserID retrieves the user ID from the request context.
// Returns empty string if no user is authenticated.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func GetUserEmail(ctx context.Context) string {
	e, _ := ctx.Value(userEmailKey).(string)
	return e
}

// IsAuthenticated checks if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}
