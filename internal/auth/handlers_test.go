package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type authFixture struct {
	mux      *http.ServeMux
	tokens   *TokenIssuer
	provider *LocalMockOIDCProvider
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	users, _ := newUserService(t)
	tokens, err := NewTokenIssuer(testSecret, "https://api.example.com", time.Hour)
	require.NoError(t, err)

	provider := NewLocalMockOIDCProvider("http://api.example.com")
	h := NewHandler(users, tokens, provider, HandlerConfig{
		GoogleRedirectURL: "http://api.example.com/auth/google/callback",
		AppURL:            "https://app.example.com/",
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	provider.RegisterRoutes(mux)
	return &authFixture{mux: mux, tokens: tokens, provider: provider}
}

func (f *authFixture) do(t *testing.T, method, path, body, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandlers_RegisterLoginMeLogout(t *testing.T) {
	f := newAuthFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/register",
		`{"email":"Sita@Example.com","password":"mithila-2025","full_name":"Sita"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var reg TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reg))
	require.Equal(t, "sita@example.com", reg.User.Email)
	require.Equal(t, "Bearer", reg.TokenType)
	require.NotEmpty(t, reg.AccessToken)
	require.NotNil(t, cookieNamed(rr, AccessTokenCookie))

	rr = f.do(t, http.MethodPost, "/auth/register", `{"email":"sita@example.com","password":"mithila-2025"}`, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/register", `{"email":"x@example.com","password":"short"}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/login", `{"email":"sita@example.com","password":"wrong-password"}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/login", `{"email":"sita@example.com","password":"mithila-2025"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var login TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.Equal(t, reg.User.ID, login.User.ID)

	rr = f.do(t, http.MethodGet, "/auth/me", "", login.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code)
	var me User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, "Sita", me.Name)

	rr = f.do(t, http.MethodGet, "/auth/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))

	rr = f.do(t, http.MethodPost, "/auth/logout", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	cleared := cookieNamed(rr, AccessTokenCookie)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)
}

func TestHandlers_MalformedBody(t *testing.T) {
	f := newAuthFixture(t)
	rr := f.do(t, http.MethodPost, "/auth/login", `{"email":`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"invalid_argument"`)
}

func TestHandlers_GoogleFlowThroughLocalProvider(t *testing.T) {
	f := newAuthFixture(t)

	rr := f.do(t, http.MethodGet, "/auth/google", "", "")
	require.Equal(t, http.StatusFound, rr.Code)
	state := cookieNamed(rr, stateCookie)
	require.NotNil(t, state)
	authURL, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/mock-oidc/authorize", authURL.Path)
	require.Equal(t, state.Value, authURL.Query().Get("state"))

	form := url.Values{"state": {state.Value}, "email": {"hanuman@example.com"}, "name": {"Hanuman"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/mock-oidc/authorize", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusFound, rr.Code)
	callback, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/google/callback", callback.Path)

	req = httptest.NewRequest(http.MethodGet, callback.RequestURI(), nil)
	req.AddCookie(state)
	rr = httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())
	require.Equal(t, "https://app.example.com", rr.Header().Get("Location"))

	tok := cookieNamed(rr, AccessTokenCookie)
	require.NotNil(t, tok)
	claims, err := f.tokens.Verify(tok.Value)
	require.NoError(t, err)
	require.Equal(t, "hanuman@example.com", claims.Email)
}

func TestHandlers_GoogleCallbackRejectsStateMismatch(t *testing.T) {
	f := newAuthFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=one", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "two"})
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
