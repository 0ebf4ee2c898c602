package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/ratelimit"
)

const (
	SessionCookieName = "admin_session"
	cookiePath        = "/admin"
	maxAdminBody      = 16 << 10
)

type ctxKey struct{}

func withAdmin(ctx context.Context, a *db.AdminUser) context.Context {
	return context.WithValue(obs.WithAdminID(ctx, a.ID), ctxKey{}, a)
}

// FromContext returns the admin attached by RequireAdmin, or nil.
func FromContext(ctx context.Context) *db.AdminUser {
	a, _ := ctx.Value(ctxKey{}).(*db.AdminUser)
	return a
}

// Handler serves the /admin API.
type Handler struct {
	svc           *Service
	limiter       *ratelimit.RateLimiter
	secureCookies bool
}

// NewHandler builds the admin routes. limiter may be nil to disable login
// throttling.
func NewHandler(svc *Service, limiter *ratelimit.RateLimiter, secureCookies bool) *Handler {
	return &Handler{svc: svc, limiter: limiter, secureCookies: secureCookies}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	var login http.Handler = http.HandlerFunc(h.HandleLogin)
	if h.limiter != nil {
		login = ratelimit.RateLimitMiddleware(h.limiter, func(r *http.Request) (string, ratelimit.Class) {
			return "admin-login:" + obs.ClientIP(r), ratelimit.ClassAdminAuth
		})(login)
	}
	mux.Handle("POST /admin/login", login)
	mux.HandleFunc("POST /admin/logout", h.HandleLogout)

	protected := map[string]http.HandlerFunc{
		"GET /admin/me":                     h.HandleMe,
		"GET /admin/stats":                  h.HandleStats,
		"GET /admin/users":                  h.HandleUsers,
		"POST /admin/users/{id}/grant":      h.HandleGrant,
		"GET /admin/payments":               h.HandlePayments,
		"GET /admin/feedback":               h.HandleFeedback,
		"GET /admin/contacts":               h.HandleContacts,
		"POST /admin/contacts/{id}/resolve": h.HandleResolveContact,
	}
	for pattern, fn := range protected {
		mux.Handle(pattern, h.RequireAdmin(fn))
	}
}

// RequireAdmin rejects requests without a live admin session.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, err := h.svc.Authenticate(r.Context(), tokenFromRequest(r))
		if errors.Is(err, ErrSessionNotFound) {
			errs.Write(w, errs.New(errs.Unauthenticated, "admin session required"))
			return
		}
		if err != nil {
			obs.From(r.Context()).Error("admin_auth_failed", "err", err)
			errs.Write(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), a)))
	})
}

// tokenFromRequest reads the session from the cookie, falling back to a
// bearer header for scripted access.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Admin     *db.AdminUser `json:"admin"`
	Token     string        `json:"token"`
	ExpiresAt int64         `json:"expires_at"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.Write(w, errs.Wrap(errs.InvalidArgument, "invalid request body", err))
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		errs.Write(w, errs.New(errs.Unauthenticated, "invalid username or password"))
		return
	}
	if err != nil {
		obs.From(r.Context()).Error("admin_login_failed", "err", err)
		errs.Write(w, err)
		return
	}
	h.setCookie(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{Admin: sess.Admin, Token: sess.Token, ExpiresAt: sess.ExpiresAt.Unix()})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), tokenFromRequest(r)); err != nil {
		obs.From(r.Context()).Warn("admin_logout_failed", "err", err)
	}
	h.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FromContext(r.Context()))
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "admin_stats_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context(), pageFrom(r))
	if err != nil {
		h.fail(w, r, "admin_users_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type grantRequest struct {
	PlanID string `json:"plan_id"`
	Days   int    `json:"days"`
}

func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errs.Write(w, errs.Wrap(errs.InvalidArgument, "invalid request body", err))
		return
	}
	if req.Days == 0 {
		req.Days = 30
	}
	sub, err := h.svc.GrantPlan(r.Context(), FromContext(r.Context()).Username, r.PathValue("id"), req.PlanID, req.Days)
	if err != nil {
		h.fail(w, r, "admin_grant_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) HandlePayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.Payments(r.Context(), r.URL.Query().Get("user_id"), pageFrom(r))
	if err != nil {
		h.fail(w, r, "admin_payments_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Feedback(r.Context(), pageFrom(r))
	if err != nil {
		h.fail(w, r, "admin_feedback_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": items})
}

func (h *Handler) HandleContacts(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Contacts(r.Context(), r.URL.Query().Get("status"), pageFrom(r))
	if err != nil {
		h.fail(w, r, "admin_contacts_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": items})
}

func (h *Handler) HandleResolveContact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResolveContact(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, "admin_resolve_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": db.ContactResolved})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	if errs.CodeOf(err) == errs.Internal {
		obs.From(r.Context()).Error(event, "err", err)
	}
	errs.Write(w, err)
}

func (h *Handler) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     cookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     cookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func pageFrom(r *http.Request) Page {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return Page{Limit: limit, Offset: offset}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
