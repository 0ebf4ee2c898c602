package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	stdtime "time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
)

// AccessTokenCookie carries the bearer token for browser clients.
const AccessTokenCookie = "access_token"

// Token verification errors.
var (
	ErrNoToken          = errors.New("auth: no access token provided")
	ErrMalformedToken   = errors.New("auth: malformed access token")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidIssuer    = errors.New("auth: invalid token issuer")
)

const clockSkew = stdtime.Minute

// TokenClaims are the verified claims of a bearer token.
type TokenClaims struct {
	Subject   string
	Email     string
	ExpiresAt stdtime.Time
	IssuedAt  stdtime.Time
	TokenID   string
}

type accessClaims struct {
	jwt.Claims
	Email string `json:"email,omitempty"`
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    stdtime.Duration
	clock  Clock
}

// NewTokenIssuer returns an issuer; secret must be at least 32 bytes.
func NewTokenIssuer(secret []byte, issuer string, ttl stdtime.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenIssuer{secret: secret, issuer: issuer, ttl: ttl, clock: realClock{}}, nil
}

// SetClock replaces the clock used by the issuer. Intended for testing.
func (t *TokenIssuer) SetClock(c Clock) {
	t.clock = c
}

// Issue signs a token for the user and returns it with its expiry.
func (t *TokenIssuer) Issue(userID, emailAddr string) (string, stdtime.Time, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: t.secret},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", stdtime.Time{}, fmt.Errorf("auth: create signer: %w", err)
	}

	now := t.clock.Now()
	exp := now.Add(t.ttl)
	claims := accessClaims{
		Claims: jwt.Claims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email: emailAddr,
	}
	raw, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", stdtime.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return raw, exp, nil
}

// Verify checks signature, algorithm, issuer and time window.
func (t *TokenIssuer) Verify(raw string) (*TokenClaims, error) {
	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(jose.HS256) {
		return nil, fmt.Errorf("%w: unexpected algorithm", ErrMalformedToken)
	}

	var claims accessClaims
	if err := parsed.Claims(t.secret, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject == "" || claims.Expiry == nil {
		return nil, fmt.Errorf("%w: missing sub or exp", ErrMalformedToken)
	}

	err = claims.ValidateWithLeeway(jwt.Expected{Issuer: t.issuer, Time: t.clock.Now()}, clockSkew)
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return nil, ErrInvalidIssuer
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	out := &TokenClaims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.Expiry.Time(),
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time()
	}
	return out, nil
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the access_token cookie.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return "", fmt.Errorf("%w: expected Bearer scheme", ErrMalformedToken)
		}
		token := strings.TrimSpace(h[len(prefix):])
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrNoToken
}

// SetTokenCookie stores the token in an HttpOnly cookie.
func SetTokenCookie(w http.ResponseWriter, token string, expires stdtime.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearTokenCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
