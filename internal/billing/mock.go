package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// MockSecret signs mock checkout results and webhooks.
const MockSecret = "mock_secret"

// MockGateway implements Gateway in memory for --no-payments and tests.
// Signatures and webhooks use the same HMAC scheme as Razorpay, keyed by
// MockSecret.
type MockGateway struct {
	mu     sync.Mutex
	orders map[string]*OrderStatus
}

func NewMockGateway() *MockGateway {
	log.Println("[BILLING] Using mock payment gateway (--no-payments)")
	return &MockGateway{orders: map[string]*OrderStatus{}}
}

func (m *MockGateway) Name() string      { return GatewayMock }
func (m *MockGateway) PublicKey() string { return "mock_key" }
func (m *MockGateway) IsMock() bool      { return true }

func (m *MockGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	id := "order_mock_" + uuid.NewString()[:8]
	m.mu.Lock()
	m.orders[id] = &OrderStatus{OrderID: id}
	m.mu.Unlock()
	log.Printf("[BILLING-MOCK] CreateOrder: user=%s plan=%s amount=%d %s -> %s", req.UserID, req.PlanID, req.Amount, req.Currency, id)
	return &Order{ID: id, Amount: req.Amount, Currency: req.Currency, ClientSecret: "mock_cs_" + id}, nil
}

func (m *MockGateway) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (bool, error) {
	return VerifySignature(MockSecret, paymentID, orderID, signature), nil
}

// LookupOrder returns ErrOrderNotFound for orders this mock never opened.
func (m *MockGateway) LookupOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock: %w: %s", ErrOrderNotFound, orderID)
	}
	cp := *st
	return &cp, nil
}

// MarkPaid simulates a capture the client never reported.
func (m *MockGateway) MarkPaid(orderID, paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID] = &OrderStatus{OrderID: orderID, Paid: true, PaymentID: paymentID}
}

type mockWebhook struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

// MockWebhook builds a signed mock webhook body and headers.
func MockWebhook(eventID, event, orderID, paymentID string) ([]byte, http.Header) {
	body, _ := json.Marshal(mockWebhook{ID: eventID, Event: event, OrderID: orderID, PaymentID: paymentID})
	h := http.Header{}
	h.Set("X-Mock-Signature", hmacHex(MockSecret, body))
	return body, h
}

func (m *MockGateway) ParseWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	if hmacHex(MockSecret, payload) != header.Get("X-Mock-Signature") {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}
	var w mockWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	return &WebhookEvent{
		ID:        w.ID,
		Type:      w.Event,
		OrderID:   w.OrderID,
		PaymentID: w.PaymentID,
		Paid:      w.Event == "payment.captured",
		Failed:    w.Event == "payment.failed",
	}, nil
}
