package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

// Gateway names.
const (
	GatewayRazorpay = "razorpay"
	GatewayStripe   = "stripe"
	GatewayMock     = "mock"
)

// ErrInvalidWebhook is returned when a webhook fails signature checks or
// cannot be decoded.
var ErrInvalidWebhook = errors.New("invalid webhook")

// OrderRequest describes the order a gateway should open.
type OrderRequest struct {
	UserID   string
	Email    string
	PlanID   string
	Amount   int64 // minor units
	Currency string
	Receipt  string
}

// Order is an order opened at the gateway.
type Order struct {
	ID           string
	Amount       int64
	Currency     string
	ClientSecret string // Stripe only
}

// OrderStatus is the gateway's view of an order.
type OrderStatus struct {
	OrderID   string
	Paid      bool
	PaymentID string
}

// WebhookEvent is a gateway notification reduced to what reconciliation needs.
type WebhookEvent struct {
	ID        string
	Type      string
	OrderID   string
	PaymentID string
	Paid      bool
	Failed    bool
}

// Gateway is a payment provider.
type Gateway interface {
	Name() string
	// PublicKey is handed to the checkout widget.
	PublicKey() string
	IsMock() bool
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// VerifyPayment checks the client-reported completion of an order.
	VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error)
	LookupOrder(ctx context.Context, orderID string) (*OrderStatus, error)
	ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error)
}

// ComputeSignature returns the hex HMAC-SHA256 of paymentID|subscriptionID,
// the value the checkout widget reports on success.
func ComputeSignature(secret, paymentID, subscriptionID string) string {
	return hmacHex(secret, []byte(paymentID+"|"+subscriptionID))
}

// VerifySignature compares in constant time.
func VerifySignature(secret, paymentID, subscriptionID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := ComputeSignature(secret, paymentID, subscriptionID)
	return hmac.Equal([]byte(want), []byte(signature))
}

func hmacHex(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}
