package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/chat"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/logutil"
	"github.com/kuitang/shastra/internal/obs"
	"github.com/kuitang/shastra/internal/quiz"
)

func (h *Handler) HandleChatAsk(w http.ResponseWriter, r *http.Request) {
	var in chat.AskInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "chat_ask_failed", err)
		return
	}
	res, err := h.Chat.Ask(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		fail(w, r, "chat_ask_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type titleRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) HandleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	var in titleRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "chat_title_failed", err)
		return
	}
	title, err := h.Chat.GenerateTitle(r.Context(), auth.GetUserID(r.Context()), in.ConversationID, in.Message)
	if err != nil {
		fail(w, r, "chat_title_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (h *Handler) HandleQuizGenerate(w http.ResponseWriter, r *http.Request) {
	var in quiz.GenerateInput
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "quiz_generate_failed", err)
		return
	}
	res, err := h.Quiz.Generate(r.Context(), auth.GetUserID(r.Context()), in)
	if err != nil {
		fail(w, r, "quiz_generate_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Usage.Snapshot(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "usage_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleIncrementMessages(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Usage.IncrementMessages(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "usage_increment_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleIncrementQuizzes(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Usage.IncrementQuizzes(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		fail(w, r, "usage_increment_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// customer describes the caller to the payment gateway. The display name is
// best effort.
func (h *Handler) customer(ctx context.Context) billing.Customer {
	c := billing.Customer{ID: auth.GetUserID(ctx), Email: auth.GetUserEmail(ctx)}
	if h.Profile != nil {
		if p, err := h.Profile.Get(ctx, c.ID); err == nil {
			c.Name = p.FullName
		}
	}
	return c
}

type createSubscriptionRequest struct {
	PlanID string `json:"plan_id"`
}

func (h *Handler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var in createSubscriptionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "billing_create_failed", err)
		return
	}
	checkout, err := h.Billing.CreateSubscription(r.Context(), h.customer(r.Context()), strings.ToLower(strings.TrimSpace(in.PlanID)))
	if err != nil {
		fail(w, r, "billing_create_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// verifyRequest accepts the field names the checkout widget reports. Razorpay
// calls the order id razorpay_subscription_id in subscription checkouts and
// razorpay_order_id in order checkouts.
type verifyRequest struct {
	PaymentID      string `json:"razorpay_payment_id"`
	SubscriptionID string `json:"razorpay_subscription_id"`
	OrderID        string `json:"razorpay_order_id"`
	Signature      string `json:"razorpay_signature"`
}

func (in verifyRequest) orderID() string {
	if in.SubscriptionID != "" {
		return in.SubscriptionID
	}
	return in.OrderID
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var in verifyRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "billing_verify_failed", err)
		return
	}
	if in.PaymentID == "" || in.orderID() == "" || in.Signature == "" {
		errs.Write(w, errs.New(errs.InvalidArgument, "razorpay_payment_id, razorpay_subscription_id and razorpay_signature are required"))
		return
	}
	sub, err := h.Billing.VerifyPayment(r.Context(), h.customer(r.Context()), in.orderID(), in.PaymentID, in.Signature)
	if err != nil {
		fail(w, r, "billing_verify_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type getSubscriptionRequest struct {
	Refresh bool `json:"refresh"`
}

func (h *Handler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	var in getSubscriptionRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "billing_get_failed", err)
		return
	}
	sub, err := h.Billing.GetSubscription(r.Context(), h.customer(r.Context()), in.Refresh)
	if err != nil {
		fail(w, r, "billing_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type welcomeRequest struct {
	Name string `json:"name"`
}

// HandleSendWelcome mails the welcome template to the caller's own address.
func (h *Handler) HandleSendWelcome(w http.ResponseWriter, r *http.Request) {
	var in welcomeRequest
	if err := decodeJSON(w, r, &in); err != nil {
		fail(w, r, "welcome_email_failed", err)
		return
	}
	to := auth.GetUserEmail(r.Context())
	if to == "" {
		errs.Write(w, errs.New(errs.FailedPrecondition, "account has no email address"))
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = h.customer(r.Context()).Name
	}
	if err := email.SendWelcome(h.Emails, to, name, h.AppURL); err != nil {
		obs.From(r.Context()).Error("welcome_email_failed", "to", logutil.MaskEmail(to), "err", err)
		errs.Write(w, errs.Wrap(errs.Unavailable, "could not send email", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
