package auth

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"sync"
	stdtime "time"

	"github.com/kuitang/shastra/internal/urlutil"
)

const mockCodeTTL = 10 * stdtime.Minute

// LocalMockOIDCProvider stands in for Google under --no-oidc. It serves a
// local sign-in page where a developer types the email to sign in as, then
// redirects back to the callback with a one-time code.
type LocalMockOIDCProvider struct {
	baseURL string
	clock   Clock

	mu              sync.Mutex
	codes           map[string]mockGrant
	callbackOrigins map[string]string
}

type mockGrant struct {
	email    string
	name     string
	issuedAt stdtime.Time
}

func NewLocalMockOIDCProvider(baseURL string) *LocalMockOIDCProvider {
	return &LocalMockOIDCProvider{
		baseURL:         strings.TrimRight(baseURL, "/"),
		clock:           realClock{},
		codes:           make(map[string]mockGrant),
		callbackOrigins: make(map[string]string),
	}
}

// SetClock replaces the clock used for code expiry. Intended for testing.
func (p *LocalMockOIDCProvider) SetClock(c Clock) {
	p.clock = c
}

// SetBaseURL is used by tests that learn the server URL after construction.
func (p *LocalMockOIDCProvider) SetBaseURL(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseURL = strings.TrimRight(baseURL, "/")
}

// SetCallbackOrigin remembers where to send the browser back for state.
func (p *LocalMockOIDCProvider) SetCallbackOrigin(state, origin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbackOrigins[strings.TrimSpace(state)] = strings.TrimRight(strings.TrimSpace(origin), "/")
}

func (p *LocalMockOIDCProvider) GetAuthURL(state, redirectURL string) string {
	if redirectURL != "" {
		if u, err := url.Parse(redirectURL); err == nil && u.Scheme != "" && u.Host != "" {
			p.SetCallbackOrigin(state, u.Scheme+"://"+u.Host)
		}
	}
	p.mu.Lock()
	base := p.baseURL
	p.mu.Unlock()
	return urlutil.WithQuery(base, "/auth/mock-oidc/authorize", url.Values{"state": {state}})
}

// ExchangeCode redeems a code issued by the sign-in page exactly once.
func (p *LocalMockOIDCProvider) ExchangeCode(_ context.Context, code, _ string) (*Claims, error) {
	p.mu.Lock()
	grant, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()

	if !ok || p.clock.Now().Sub(grant.issuedAt) > mockCodeTTL {
		return nil, ErrCodeExchangeFailed
	}
	return &Claims{
		Sub:           "mock-" + grant.email,
		Email:         grant.email,
		Name:          grant.name,
		EmailVerified: true,
	}, nil
}

// RegisterRoutes mounts the sign-in page.
func (p *LocalMockOIDCProvider) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /auth/mock-oidc/authorize", p.handleAuthorize)
	mux.HandleFunc("POST /auth/mock-oidc/authorize", p.handleConsent)
}

func (p *LocalMockOIDCProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		http.Error(w, "Missing state parameter", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Shastra mock sign-in</title>
<style>
body { font-family: system-ui; max-width: 420px; margin: 80px auto; padding: 0 20px; color: #3b2a1a; }
.note { background: #fdf3e1; border: 1px solid #e0a84f; border-radius: 8px; padding: 12px; margin: 16px 0; }
input { width: 100%%; padding: 10px; margin-bottom: 10px; box-sizing: border-box; }
button { width: 100%%; padding: 10px; background: #c0641f; color: #fff; border: 0; border-radius: 6px; }
</style></head>
<body>
<h1>Sign in (local mock)</h1>
<div class="note">Google sign-in is mocked on this server.</div>
<form method="POST" action="/auth/mock-oidc/authorize">
<input type="hidden" name="state" value="%s">
<input type="email" name="email" value="seeker@example.com" required autofocus>
<input type="text" name="name" value="Test Seeker">
<button type="submit">Continue</button>
</form>
</body></html>`, html.EscapeString(state))
}

func (p *LocalMockOIDCProvider) handleConsent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	state := r.FormValue("state")
	emailAddr := strings.TrimSpace(r.FormValue("email"))
	if state == "" || emailAddr == "" {
		http.Error(w, "Missing state or email", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = "Test Seeker"
	}

	code, err := GenerateSecureToken(32)
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.codes[code] = mockGrant{email: emailAddr, name: name, issuedAt: p.clock.Now()}
	origin := p.callbackOrigins[state]
	delete(p.callbackOrigins, state)
	p.mu.Unlock()

	if origin == "" {
		origin = urlutil.Origin(r, p.baseURL)
	}
	callback := urlutil.WithQuery(origin, "/auth/google/callback", url.Values{"code": {code}, "state": {state}})
	http.Redirect(w, r, callback, http.StatusFound)
}
