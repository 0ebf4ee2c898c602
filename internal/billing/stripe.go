package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

// Stripe implements Gateway with PaymentIntents. The order id is the
// PaymentIntent id; the checkout widget confirms it client-side.
type Stripe struct {
	config StripeConfig
}

func NewStripe(cfg StripeConfig) *Stripe {
	stripe.Key = cfg.SecretKey
	log.Printf("[BILLING] Initialized Stripe gateway")
	return &Stripe{config: cfg}
}

func (s *Stripe) Name() string      { return GatewayStripe }
func (s *Stripe) PublicKey() string { return s.config.PublishableKey }
func (s *Stripe) IsMock() bool      { return false }

func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("plan_id", req.PlanID)
	params.AddMetadata("receipt", req.Receipt)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return &Order{
		ID:           pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

// VerifyPayment asks Stripe whether the PaymentIntent succeeded. Stripe has
// no client-side signature, so the signature argument is ignored.
func (s *Stripe) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error) {
	st, err := s.LookupOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return st.Paid, nil
}

func (s *Stripe) LookupOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(orderID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent %s: %w", orderID, err)
	}
	return paymentIntentStatus(pi), nil
}

func paymentIntentStatus(pi *stripe.PaymentIntent) *OrderStatus {
	st := &OrderStatus{OrderID: pi.ID, Paid: pi.Status == stripe.PaymentIntentStatusSucceeded}
	if st.Paid {
		st.PaymentID = pi.ID
		if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
			st.PaymentID = pi.LatestCharge.ID
		}
	}
	return st
}

// ParseWebhook verifies the Stripe-Signature header and decodes
// payment_intent events.
func (s *Stripe) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, header.Get("Stripe-Signature"), s.config.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	ev := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: unmarshal payment intent: %v", ErrInvalidWebhook, err)
		}
		st := paymentIntentStatus(&pi)
		ev.OrderID = pi.ID
		ev.PaymentID = st.PaymentID
		ev.Paid = event.Type == "payment_intent.succeeded"
		ev.Failed = !ev.Paid
		if ev.Paid && ev.PaymentID == "" {
			ev.PaymentID = pi.ID
		}
	}
	return ev, nil
}
