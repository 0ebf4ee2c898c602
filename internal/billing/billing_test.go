package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"pgregory.net/rapid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/plans"
	"github.com/kuitang/shastra/internal/testdb"
)

var epoch = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *db.Store
	gateway *MockGateway
	emails  *email.MockEmailService
	clock   *auth.FakeClock
	user    Customer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testdb.New(t)
	gw := NewMockGateway()
	mails := email.NewMemoryEmailService()
	clock := auth.NewFakeClock(epoch)
	svc := NewService(store, gw, mails, Config{Currency: "INR"})
	svc.SetClock(clock)

	userID := testdb.SeedUser(t, store, "payer@example.com")
	return &fixture{
		svc: svc, store: store, gateway: gw, emails: mails, clock: clock,
		user: Customer{ID: userID, Email: "payer@example.com", Name: "Payer"},
	}
}

// =============================================================================
// Property: only the exact HMAC of payment_id|subscription_id verifies
// =============================================================================

func testVerifySignature_OnlyExactHMAC(t *rapid.T) {
	secret := rapid.StringMatching(`[A-Za-z0-9]{8,32}`).Draw(t, "secret")
	paymentID := "pay_" + rapid.StringMatching(`[A-Za-z0-9]{6,14}`).Draw(t, "payment")
	subID := "order_" + rapid.StringMatching(`[A-Za-z0-9]{6,14}`).Draw(t, "order")

	sig := ComputeSignature(secret, paymentID, subID)
	if !VerifySignature(secret, paymentID, subID, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(secret, subID, paymentID, sig) {
		t.Fatal("swapped identifiers must not verify")
	}
	if VerifySignature(secret+"x", paymentID, subID, sig) {
		t.Fatal("wrong secret must not verify")
	}
	i := rapid.IntRange(0, len(sig)-1).Draw(t, "flip")
	flipped := []byte(sig)
	if flipped[i] == 'a' {
		flipped[i] = 'b'
	} else {
		flipped[i] = 'a'
	}
	if VerifySignature(secret, paymentID, subID, string(flipped)) {
		t.Fatal("tampered signature must not verify")
	}
	if VerifySignature("", paymentID, subID, ComputeSignature("", paymentID, subID)) {
		t.Fatal("empty secret must never verify")
	}
}

func TestVerifySignature_OnlyExactHMAC(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testVerifySignature_OnlyExactHMAC)
}

func FuzzVerifySignature_OnlyExactHMAC(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testVerifySignature_OnlyExactHMAC))
}

// =============================================================================
// Razorpay gateway against a fake Orders API
// =============================================================================

type fakeOrders struct {
	created  map[string]interface{}
	order    map[string]interface{}
	payments map[string]interface{}
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.created = data
	return map[string]interface{}{"id": "order_rzp_1", "amount": float64(data["amount"].(int64)), "currency": data["currency"], "status": "created"}, nil
}

func (f *fakeOrders) Fetch(orderID string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	if f.order == nil {
		return nil, errors.New("not found")
	}
	return f.order, nil
}

func (f *fakeOrders) Payments(orderID string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	if f.payments == nil {
		return map[string]interface{}{"items": []interface{}{}}, nil
	}
	return f.payments, nil
}

func TestRazorpay_CreateOrderSendsPlanParameters(t *testing.T) {
	t.Parallel()
	fake := &fakeOrders{}
	rz := &Razorpay{config: RazorpayConfig{KeyID: "rzp_test_key", KeySecret: "secret"}, orders: fake}

	order, err := rz.CreateOrder(context.Background(), OrderRequest{
		UserID: "u1", PlanID: "devotee", Amount: 19900, Currency: "INR", Receipt: "rcpt_1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_rzp_1" || order.Amount != 19900 || order.Currency != "INR" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if fake.created["amount"] != int64(19900) || fake.created["currency"] != "INR" || fake.created["receipt"] != "rcpt_1" {
		t.Fatalf("unexpected create params: %+v", fake.created)
	}
	notes := fake.created["notes"].(map[string]interface{})
	if notes["user_id"] != "u1" || notes["plan_id"] != "devotee" {
		t.Fatalf("unexpected notes: %+v", notes)
	}
	if rz.PublicKey() != "rzp_test_key" || rz.IsMock() || rz.Name() != GatewayRazorpay {
		t.Fatal("gateway identity mismatch")
	}
}

func TestRazorpay_LookupOrderFindsCapturedPayment(t *testing.T) {
	t.Parallel()
	fake := &fakeOrders{
		order: map[string]interface{}{"id": "order_1", "status": "attempted"},
		payments: map[string]interface{}{"items": []interface{}{
			map[string]interface{}{"id": "pay_failed", "status": "failed"},
			map[string]interface{}{"id": "pay_ok", "status": "captured"},
		}},
	}
	rz := &Razorpay{orders: fake}
	st, err := rz.LookupOrder(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("LookupOrder: %v", err)
	}
	if !st.Paid || st.PaymentID != "pay_ok" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRazorpay_VerifyPaymentUsesKeySecret(t *testing.T) {
	t.Parallel()
	rz := &Razorpay{config: RazorpayConfig{KeySecret: "key_secret"}}
	ok, _ := rz.VerifyPayment(context.Background(), "order_1", "pay_1", ComputeSignature("key_secret", "pay_1", "order_1"))
	if !ok {
		t.Fatal("valid signature rejected")
	}
	ok, _ = rz.VerifyPayment(context.Background(), "order_1", "pay_1", ComputeSignature("webhook_secret", "pay_1", "order_1"))
	if ok {
		t.Fatal("signature with the wrong secret accepted")
	}
}

func TestRazorpay_ParseWebhook(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9","status":"captured"}}}}`)
	h := http.Header{}
	h.Set("X-Razorpay-Signature", hmacHex("whsec", body))
	h.Set("X-Razorpay-Event-Id", "evt_9")

	ev, err := parseRazorpayWebhook("whsec", body, h)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt_9" || ev.OrderID != "order_9" || ev.PaymentID != "pay_9" || !ev.Paid {
		t.Fatalf("unexpected event: %+v", ev)
	}

	h.Set("X-Razorpay-Signature", "deadbeef")
	if _, err := parseRazorpayWebhook("whsec", body, h); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}

func TestRazorpay_ParseWebhookDerivesEventID(t *testing.T) {
	t.Parallel()
	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_2"}}}}`)
	h := http.Header{}
	h.Set("X-Razorpay-Signature", hmacHex("whsec", body))
	a, err := parseRazorpayWebhook("whsec", body, h)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, _ := parseRazorpayWebhook("whsec", body, h)
	if a.ID == "" || a.ID != b.ID || !a.Failed {
		t.Fatalf("derived event id must be stable: %+v %+v", a, b)
	}
}

func TestStripe_ParseWebhookPaymentIntentSucceeded(t *testing.T) {
	t.Parallel()
	secret := "whsec_stripe_test"
	gw := &Stripe{config: StripeConfig{WebhookSecret: secret}}

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_pi_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        "payment_intent.succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id":            "pi_123",
				"object":        "payment_intent",
				"status":        "succeeded",
				"latest_charge": "ch_456",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload: payload, Secret: secret, Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)

	ev, err := gw.ParseWebhook(payload, h)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.ID != "evt_pi_1" || ev.OrderID != "pi_123" || ev.PaymentID != "ch_456" || !ev.Paid {
		t.Fatalf("unexpected event: %+v", ev)
	}

	h.Set("Stripe-Signature", "t=1,v1=bad")
	if _, err := gw.ParseWebhook(payload, h); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
}

// =============================================================================
// Service reconciliation
// =============================================================================

func TestCreateSubscription_RejectsFreeAndUnknownPlans(t *testing.T) {
	f := newFixture(t)
	for _, plan := range []string{"free", "platinum", ""} {
		if _, err := f.svc.CreateSubscription(context.Background(), f.user, plan); !errors.Is(err, ErrUnknownPlan) {
			t.Fatalf("plan %q: expected ErrUnknownPlan, got %v", plan, err)
		}
	}
}

func TestCreateSubscription_RecordsPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	co, err := f.svc.CreateSubscription(ctx, f.user, "devotee")
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if co.Amount != plans.For(plans.Devotee).PriceMinor || co.Currency != "INR" || co.KeyID != "mock_key" || co.SubscriptionID != co.OrderID {
		t.Fatalf("unexpected checkout: %+v", co)
	}

	p, err := f.store.GetPaymentByOrderID(ctx, co.OrderID)
	if err != nil || p.Status != db.PaymentCreated || p.PlanID != "devotee" {
		t.Fatalf("payment row: %+v %v", p, err)
	}
	sub, err := f.svc.GetSubscription(ctx, f.user, false)
	if err != nil || sub.Status != StatusPending || sub.Subscribed || sub.PlanID != plans.Free {
		t.Fatalf("pending subscription: %+v %v", sub, err)
	}
}

func TestVerifyPayment_SignatureMismatchMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "guru")

	_, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", "forged")
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), co.OrderID) {
		t.Fatalf("error should carry the order id for support: %v", err)
	}
	p, _ := f.store.GetPaymentByOrderID(ctx, co.OrderID)
	if p.Status != db.PaymentFailed {
		t.Fatalf("payment status = %s", p.Status)
	}
	if f.emails.Count() != 0 {
		t.Fatal("no receipt for a failed payment")
	}
}

func TestVerifyPayment_ActivatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "guru")
	sig := ComputeSignature(MockSecret, "pay_1", co.OrderID)

	sub, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", sig)
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	wantEnd := epoch.Add(SubscriptionPeriod).Unix()
	if !sub.Subscribed || sub.Status != StatusActive || sub.PlanID != plans.Guru || sub.SubscriptionEnd != wantEnd {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if f.emails.Count() != 1 || f.emails.LastEmail().Template != email.TemplatePaymentReceipt {
		t.Fatalf("expected one receipt, got %d", f.emails.Count())
	}

	f.clock.Advance(time.Hour)
	again, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", sig)
	if err != nil {
		t.Fatalf("repeat VerifyPayment: %v", err)
	}
	if again.SubscriptionEnd != wantEnd {
		t.Fatalf("repeat verify must not extend: %d vs %d", again.SubscriptionEnd, wantEnd)
	}
	if f.emails.Count() != 1 {
		t.Fatal("repeat verify must not resend the receipt")
	}
}

func TestVerifyPayment_OtherUsersOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")

	otherID := testdb.SeedUser(t, f.store, "other@example.com")
	other := Customer{ID: otherID, Email: "other@example.com"}
	_, err := f.svc.VerifyPayment(ctx, other, co.OrderID, "pay_1", ComputeSignature(MockSecret, "pay_1", co.OrderID))
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCreateSubscription_NeverDowngradesActivePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "guru")
	if _, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", ComputeSignature(MockSecret, "pay_1", co.OrderID)); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	if _, err := f.svc.CreateSubscription(ctx, f.user, "devotee"); err != nil {
		t.Fatalf("second CreateSubscription: %v", err)
	}
	sub, _ := f.svc.GetSubscription(ctx, f.user, false)
	if !sub.Subscribed || sub.PlanID != plans.Guru {
		t.Fatalf("abandoned downgrade changed the active plan: %+v", sub)
	}
}

func TestVerifyPayment_RenewalExtendsFromCurrentEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")
	if _, err := f.svc.VerifyPayment(ctx, f.user, first.OrderID, "pay_1", ComputeSignature(MockSecret, "pay_1", first.OrderID)); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	f.clock.Advance(10 * 24 * time.Hour)
	second, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")
	sub, err := f.svc.VerifyPayment(ctx, f.user, second.OrderID, "pay_2", ComputeSignature(MockSecret, "pay_2", second.OrderID))
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	want := epoch.Add(2 * SubscriptionPeriod).Unix()
	if sub.SubscriptionEnd != want {
		t.Fatalf("renewal end = %d, want %d", sub.SubscriptionEnd, want)
	}
}

func TestGetSubscription_ExpiresLapsedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")
	if _, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", ComputeSignature(MockSecret, "pay_1", co.OrderID)); err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}

	f.clock.Advance(SubscriptionPeriod + time.Second)
	sub, err := f.svc.GetSubscription(ctx, f.user, false)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if sub.Subscribed || sub.Status != StatusExpired || sub.PlanID != plans.Free {
		t.Fatalf("lapsed plan still active: %+v", sub)
	}
	row, _ := f.store.GetSubscriber(ctx, f.user.ID)
	if row.Subscribed {
		t.Fatal("expiry must be persisted")
	}
}

func TestGetSubscription_RefreshConfirmsChargedButUnverified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")

	sub, _ := f.svc.GetSubscription(ctx, f.user, true)
	if sub.Subscribed {
		t.Fatal("unpaid order must not activate on refresh")
	}

	f.gateway.MarkPaid(co.OrderID, "pay_late")
	sub, err := f.svc.GetSubscription(ctx, f.user, true)
	if err != nil {
		t.Fatalf("GetSubscription(refresh): %v", err)
	}
	if !sub.Subscribed || sub.PlanID != plans.Devotee {
		t.Fatalf("refresh should confirm the paid order: %+v", sub)
	}
	p, _ := f.store.GetPaymentByOrderID(ctx, co.OrderID)
	if p.Status != db.PaymentPaid || p.PaymentID != "pay_late" {
		t.Fatalf("payment row: %+v", p)
	}
}

func TestGetSubscription_RefreshRecoversFailedVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")

	if _, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_1", "garbled"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected ErrSignatureMismatch, got %v", err)
	}
	f.gateway.MarkPaid(co.OrderID, "pay_1")

	sub, err := f.svc.GetSubscription(ctx, f.user, true)
	if err != nil {
		t.Fatalf("GetSubscription(refresh): %v", err)
	}
	if !sub.Subscribed || sub.PlanID != plans.Devotee {
		t.Fatalf("refresh should recover the captured order: %+v", sub)
	}
	p, _ := f.store.GetPaymentByOrderID(ctx, co.OrderID)
	if p.Status != db.PaymentPaid {
		t.Fatalf("payment status = %s", p.Status)
	}
}

func TestGetSubscription_RefreshFindsOlderPaidCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older, _ := f.svc.CreateSubscription(ctx, f.user, "guru")
	f.clock.Advance(time.Minute)
	newer, _ := f.svc.CreateSubscription(ctx, f.user, "devotee")

	f.gateway.MarkPaid(older.OrderID, "pay_old")
	sub, err := f.svc.GetSubscription(ctx, f.user, true)
	if err != nil {
		t.Fatalf("GetSubscription(refresh): %v", err)
	}
	if !sub.Subscribed || sub.PlanID != plans.Guru {
		t.Fatalf("refresh should confirm the older paid order: %+v", sub)
	}
	p, _ := f.store.GetPaymentByOrderID(ctx, newer.OrderID)
	if p.Status != db.PaymentCreated {
		t.Fatalf("unpaid newer order must stay created: %+v", p)
	}
}

func TestHandleWebhook_ConfirmsOnceAndDedupes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	co, _ := f.svc.CreateSubscription(ctx, f.user, "guru")

	body, h := MockWebhook("evt_1", "payment.captured", co.OrderID, "pay_hook")
	if err := f.svc.HandleWebhook(ctx, GatewayMock, body, h); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, GatewayMock, body, h); err != nil {
		t.Fatalf("replayed HandleWebhook: %v", err)
	}
	sub, _ := f.svc.GetSubscription(ctx, f.user, false)
	if !sub.Subscribed || sub.PlanID != plans.Guru {
		t.Fatalf("webhook should activate: %+v", sub)
	}
	if f.emails.Count() != 1 {
		t.Fatalf("expected exactly one receipt, got %d", f.emails.Count())
	}
	seen, _ := f.store.IsEventProcessed(ctx, "evt_1")
	if !seen {
		t.Fatal("event must be recorded")
	}

	// Client verification after the webhook is a no-op.
	if _, err := f.svc.VerifyPayment(ctx, f.user, co.OrderID, "pay_hook", ComputeSignature(MockSecret, "pay_hook", co.OrderID)); err != nil {
		t.Fatalf("VerifyPayment after webhook: %v", err)
	}
	if f.emails.Count() != 1 {
		t.Fatal("verify after webhook must not resend the receipt")
	}
}

func TestHandleWebhook_RejectsForgedAndForeignGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body, h := MockWebhook("evt_x", "payment.captured", "order_x", "pay_x")
	h.Set("X-Mock-Signature", "forged")
	if err := f.svc.HandleWebhook(ctx, GatewayMock, body, h); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook, got %v", err)
	}
	if err := f.svc.HandleWebhook(ctx, GatewayStripe, body, h); !errors.Is(err, ErrInvalidWebhook) {
		t.Fatalf("expected ErrInvalidWebhook for foreign gateway, got %v", err)
	}
}

func TestGrantPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub, err := f.svc.GrantPlan(ctx, f.user.ID, "devotee", 7)
	if err != nil {
		t.Fatalf("GrantPlan: %v", err)
	}
	if !sub.Subscribed || sub.PlanID != plans.Devotee || sub.Gateway != "manual" {
		t.Fatalf("unexpected grant: %+v", sub)
	}
	if _, err := f.svc.GrantPlan(ctx, f.user.ID, "free", 7); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("granting free should fail, got %v", err)
	}
}
