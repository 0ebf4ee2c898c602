package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/urlutil"
)

const (
	stateCookie = "oauth_state"
	maxAuthBody = 16 << 10
)

// HandlerConfig carries the URLs and cookie policy for auth routes.
type HandlerConfig struct {
	// GoogleRedirectURL is the callback registered with the provider.
	GoogleRedirectURL string
	// AppURL is where the browser lands after Google sign-in.
	AppURL        string
	SecureCookies bool
}

// Handler provides HTTP handlers for authentication routes.
type Handler struct {
	users      *UserService
	tokens     *TokenIssuer
	oidc       OIDCClient
	middleware *Middleware
	cfg        HandlerConfig
}

func NewHandler(users *UserService, tokens *TokenIssuer, oidcClient OIDCClient, cfg HandlerConfig) *Handler {
	return &Handler{
		users:      users,
		tokens:     tokens,
		oidc:       oidcClient,
		middleware: NewMiddleware(tokens),
		cfg:        cfg,
	}
}

// RegisterRoutes registers all auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.HandleRegister)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
	mux.Handle("GET /auth/me", h.middleware.RequireAuth(http.HandlerFunc(h.HandleMe)))

	mux.HandleFunc("GET /auth/google", h.HandleGoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", h.HandleGoogleCallback)
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errs.Write(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		errs.Write(w, errs.New(errs.InvalidArgument, "email and password are required"))
		return
	}

	user, err := h.users.Register(r.Context(), req.Email, req.Password, req.FullName)
	switch {
	case errors.Is(err, ErrAccountExists):
		errs.Write(w, errs.New(errs.FailedPrecondition, "an account with this email already exists"))
		return
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidEmail):
		errs.Write(w, errs.Wrap(errs.InvalidArgument, err.Error(), err))
		return
	case err != nil:
		obs.From(r.Context()).Error("register_failed", "err", err)
		errs.Write(w, err)
		return
	}
	h.writeToken(w, http.StatusCreated, user)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errs.Write(w, err)
		return
	}
	user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		errs.Write(w, errs.New(errs.Unauthenticated, "invalid email or password"))
		return
	}
	if err != nil {
		obs.From(r.Context()).Error("login_failed", "err", err)
		errs.Write(w, err)
		return
	}
	h.writeToken(w, http.StatusOK, user)
}

// HandleLogout clears the cookie. Bearer tokens are stateless and simply
// expire.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ClearTokenCookie(w, h.cfg.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), GetUserID(r.Context()))
	if errors.Is(err, ErrUserNotFound) {
		errs.Write(w, errs.New(errs.Unauthenticated, "account no longer exists"))
		return
	}
	if err != nil {
		errs.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGoogleLogin redirects to the OIDC provider.
func (h *Handler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := GenerateSecureToken(32)
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/google",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, h.oidc.GetAuthURL(state, h.cfg.GoogleRedirectURL), http.StatusFound)
}

// HandleGoogleCallback finishes the OIDC flow, sets the token cookie and
// sends the browser to the app.
func (h *Handler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		obs.From(r.Context()).Warn("oidc_callback_rejected", "err", ErrInvalidState)
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth/google", MaxAge: -1})

	if e := r.URL.Query().Get("error"); e != "" {
		http.Error(w, "Authentication failed: "+e, http.StatusUnauthorized)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	claims, err := h.oidc.ExchangeCode(r.Context(), code, h.cfg.GoogleRedirectURL)
	if err != nil {
		log.Printf("[OIDC] Code exchange failed: %v", err)
		http.Error(w, "Failed to exchange code", http.StatusUnauthorized)
		return
	}
	user, err := h.users.FindOrCreateByGoogle(r.Context(), claims)
	if errors.Is(err, ErrEmailNotVerified) {
		http.Error(w, "Google account email is not verified", http.StatusForbidden)
		return
	}
	if err != nil {
		obs.From(r.Context()).Error("oidc_user_failed", "err", err)
		http.Error(w, "Failed to sign in", http.StatusInternalServerError)
		return
	}

	token, exp, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	SetTokenCookie(w, token, exp, h.cfg.SecureCookies)

	dest := urlutil.Join(h.cfg.AppURL, "")
	if dest == "" {
		dest = "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *Handler) writeToken(w http.ResponseWriter, status int, user *User) {
	token, exp, err := h.tokens.Issue(user.ID, user.Email)
	if err != nil {
		errs.Write(w, err)
		return
	}
	SetTokenCookie(w, token, exp, h.cfg.SecureCookies)
	writeJSON(w, status, TokenResponse{
		User:        user,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp.Unix(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

