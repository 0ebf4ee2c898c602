package auth

import (
	"context"
	"errors"
)

var (
	// ErrInvalidState means the callback state does not match the cookie.
	ErrInvalidState = errors.New("invalid state parameter")
	// ErrCodeExchangeFailed covers unknown, reused and expired codes as well
	// as provider-side failures.
	ErrCodeExchangeFailed = errors.New("code exchange failed")
)

// Claims is the identity taken from a verified ID token. Accounts are only
// created or linked when EmailVerified is set.
type Claims struct {
	Sub           string
	Email         string
	Name          string
	EmailVerified bool
}

// OIDCClient is the sign-in provider: Google in production, the local mock
// under --no-oidc.
type OIDCClient interface {
	// GetAuthURL is where the browser goes to sign in. redirectURL may be
	// empty to use the configured callback.
	GetAuthURL(state, redirectURL string) string
	ExchangeCode(ctx context.Context, code, redirectURL string) (*Claims, error)
}
