// Package api serves the JSON endpoints used by the web client: the former
// edge functions under /functions/v1 and the REST resources under /api.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/chat"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/plans"
	"github.com/kuitang/shastra/internal/profile"
	"github.com/kuitang/shastra/internal/quiz"
	"github.com/kuitang/shastra/internal/ratelimit"
	"github.com/kuitang/shastra/internal/support"
	"github.com/kuitang/shastra/internal/usage"
)

// Deps are the services behind the API.
type Deps struct {
	Store   *db.Store
	Auth    *auth.Middleware
	Limiter *ratelimit.RateLimiter
	Usage   *usage.Service
	Chat    *chat.Service
	Quiz    *quiz.Service
	Billing *billing.Service
	Profile *profile.Service
	Support *support.Service
	Emails  email.EmailService
	AppURL  string
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

// RegisterRoutes mounts every API route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	fn := map[string]http.HandlerFunc{
		"chat-ask":                     h.HandleChatAsk,
		"generate-chat-title":          h.HandleGenerateTitle,
		"quiz-generate":                h.HandleQuizGenerate,
		"get-user-usage":               h.HandleGetUsage,
		"increment-message-count":      h.HandleIncrementMessages,
		"increment-quiz-count":         h.HandleIncrementQuizzes,
		"razorpay-create-subscription": h.HandleCreateSubscription,
		"razorpay-verify-payment":      h.HandleVerifyPayment,
		"razorpay-get-subscription":    h.HandleGetSubscription,
		"send-welcome-email":           h.HandleSendWelcome,
	}
	for name, handler := range fn {
		mux.Handle("POST /functions/v1/"+name, h.protected(handler))
	}

	mux.Handle("GET /api/conversations", h.protected(h.HandleListConversations))
	mux.Handle("POST /api/conversations", h.protected(h.HandleCreateConversation))
	mux.Handle("GET /api/conversations/{id}", h.protected(h.HandleGetConversation))
	mux.Handle("PATCH /api/conversations/{id}", h.protected(h.HandleRenameConversation))
	mux.Handle("DELETE /api/conversations/{id}", h.protected(h.HandleDeleteConversation))

	mux.Handle("GET /api/quizzes", h.protected(h.HandleListQuizzes))
	mux.Handle("GET /api/quizzes/{id}", h.protected(h.HandleGetQuiz))
	mux.Handle("POST /api/quizzes/{id}/submit", h.protected(h.HandleSubmitQuiz))
	mux.Handle("GET /api/progress", h.protected(h.HandleProgress))

	mux.Handle("GET /api/profile", h.protected(h.HandleGetProfile))
	mux.Handle("PATCH /api/profile", h.protected(h.HandleUpdateProfile))
	mux.Handle("POST /api/profile/avatar", h.protected(h.HandleUploadAvatar))
	mux.Handle("DELETE /api/profile/avatar", h.protected(h.HandleRemoveAvatar))

	mux.Handle("POST /api/feedback", h.protected(h.HandleFeedback))
	mux.Handle("POST /api/contact", h.limited(contactKey, http.HandlerFunc(h.HandleContact)))

	mux.HandleFunc("GET /api/plans", h.HandlePlans)
	mux.HandleFunc("POST /billing/webhook/{gateway}", h.HandleWebhook)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
}

// protected requires a bearer token and applies the caller's plan-sized
// rate limit.
func (h *Handler) protected(fn http.HandlerFunc) http.Handler {
	return h.Auth.RequireAuth(h.limited(h.userKey, fn))
}

func (h *Handler) limited(key ratelimit.KeyFunc, next http.Handler) http.Handler {
	if h.Limiter == nil {
		return next
	}
	return ratelimit.RateLimitMiddleware(h.Limiter, key)(next)
}

// userKey buckets authenticated callers by user and sizes the bucket by
// their current plan.
func (h *Handler) userKey(r *http.Request) (string, ratelimit.Class) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		return "ip:" + obs.ClientIP(r), ratelimit.ClassAnonymous
	}
	class := ratelimit.ClassFree
	if h.Usage != nil {
		if tier, _, err := h.Usage.Tier(r.Context(), userID); err == nil {
			class = ClassForTier(tier)
		}
	}
	return "user:" + userID, class
}

func contactKey(r *http.Request) (string, ratelimit.Class) {
	return "contact:" + obs.ClientIP(r), ratelimit.ClassContact
}

// ClassForTier maps a plan to its rate-limit class.
func ClassForTier(t plans.Tier) ratelimit.Class {
	switch t {
	case plans.Devotee:
		return ratelimit.ClassDevotee
	case plans.Guru:
		return ratelimit.ClassGuru
	default:
		return ratelimit.ClassFree
	}
}

func (h *Handler) HandlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans.All(), "categories": plans.Categories})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		obs.From(ctx).Error("health_db_ping_failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CORS answers preflight requests and tags responses for allowed origins.
// Listed origins may send cookies. A "*" entry lets any other origin call the
// API with a bearer token but never with credentials.
func CORS(allowed []string, next http.Handler) http.Handler {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		listed := origin != "" && origin != "*" && set[origin]
		if listed || (origin != "" && set["*"]) {
			if listed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Client-Info, apikey")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
