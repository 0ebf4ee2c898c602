package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	razorpay "github.com/razorpay/razorpay-go"
)

// razorpayOrders is the slice of the Razorpay Orders API we use. It is
// satisfied by razorpay.Client.Order.
type razorpayOrders interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Payments(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig holds Razorpay credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Razorpay implements Gateway with the Razorpay Orders API.
type Razorpay struct {
	config RazorpayConfig
	orders razorpayOrders
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	log.Printf("[BILLING] Initialized Razorpay gateway (key=%s)", cfg.KeyID)
	return &Razorpay{config: cfg, orders: client.Order}
}

func (r *Razorpay) Name() string      { return GatewayRazorpay }
func (r *Razorpay) PublicKey() string { return r.config.KeyID }
func (r *Razorpay) IsMock() bool      { return false }

func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	resp, err := r.orders.Create(map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes": map[string]interface{}{
			"user_id": req.UserID,
			"plan_id": req.PlanID,
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: create order: %w", err)
	}
	id := stringField(resp, "id")
	if id == "" {
		return nil, fmt.Errorf("razorpay: create order: response has no id")
	}
	order := &Order{ID: id, Amount: req.Amount, Currency: req.Currency}
	if amt, ok := resp["amount"].(float64); ok {
		order.Amount = int64(amt)
	}
	if cur := stringField(resp, "currency"); cur != "" {
		order.Currency = cur
	}
	return order, nil
}

// VerifyPayment recomputes the checkout signature with the key secret.
func (r *Razorpay) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error) {
	return VerifySignature(r.config.KeySecret, paymentID, orderID, signature), nil
}

// LookupOrder reports whether Razorpay considers the order paid and, if so,
// which captured payment settled it.
func (r *Razorpay) LookupOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	order, err := r.orders.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: fetch order %s: %w", orderID, err)
	}
	status := &OrderStatus{OrderID: orderID, Paid: stringField(order, "status") == "paid"}

	payments, err := r.orders.Payments(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay: list payments for %s: %w", orderID, err)
	}
	items, _ := payments["items"].([]interface{})
	for _, it := range items {
		p, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if stringField(p, "status") == "captured" {
			status.Paid = true
			status.PaymentID = stringField(p, "id")
			break
		}
	}
	return status, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook checks X-Razorpay-Signature (HMAC-SHA256 of the raw body
// with the webhook secret) and decodes payment events.
func (r *Razorpay) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	return parseRazorpayWebhook(r.config.WebhookSecret, payload, header)
}

func parseRazorpayWebhook(secret string, payload []byte, header http.Header) (*WebhookEvent, error) {
	sig := header.Get("X-Razorpay-Signature")
	if secret == "" || sig == "" || !hmac.Equal([]byte(hmacHex(secret, payload)), []byte(sig)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}

	var w razorpayWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	ev := &WebhookEvent{
		ID:        header.Get("X-Razorpay-Event-Id"),
		Type:      w.Event,
		OrderID:   w.Payload.Payment.Entity.OrderID,
		PaymentID: w.Payload.Payment.Entity.ID,
	}
	if ev.OrderID == "" {
		ev.OrderID = w.Payload.Order.Entity.ID
	}
	if ev.ID == "" {
		sum := sha256.Sum256(payload)
		ev.ID = "rzp_" + hex.EncodeToString(sum[:16])
	}
	switch w.Event {
	case "payment.captured", "order.paid":
		ev.Paid = true
	case "payment.failed":
		ev.Failed = true
	}
	return ev, nil
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
