// Package billing turns gateway orders into plan subscriptions. A paid tier
// is granted only after the gateway's payment is verified, either by the
// client-reported signature, a signed webhook, or a refresh that asks the
// gateway directly.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/plans"
)

// SubscriptionPeriod is how long one confirmed payment keeps a plan active.
const SubscriptionPeriod = 30 * 24 * time.Hour

var (
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	ErrUnknownPlan       = errors.New("unknown or free plan")
	ErrOrderNotFound     = errors.New("order not found")
)

// Subscription states reported to clients.
const (
	StatusNone    = "none"
	StatusPending = "pending"
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Customer identifies the paying user.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// Checkout is what the client needs to open the payment widget.
type Checkout struct {
	OrderID        string     `json:"order_id"`
	SubscriptionID string     `json:"subscription_id"`
	PlanID         plans.Tier `json:"plan_id"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Gateway        string     `json:"gateway"`
	KeyID          string     `json:"key_id"`
	ClientSecret   string     `json:"client_secret,omitempty"`
}

// Subscription is the reconciled subscription state of a user.
type Subscription struct {
	PlanID          plans.Tier `json:"plan_id"`
	Status          string     `json:"status"`
	Subscribed      bool       `json:"subscribed"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	Gateway         string     `json:"gateway,omitempty"`
	SubscriptionEnd int64      `json:"subscription_end,omitempty"`
}

// Config configures the Service.
type Config struct {
	Currency string
	AppURL   string
}

// Service reconciles gateway payments with the subscribers table.
type Service struct {
	store   *db.Store
	gateway Gateway
	emails  email.EmailService
	config  Config
	clock   Clock
}

func NewService(store *db.Store, gateway Gateway, emails email.EmailService, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{store: store, gateway: gateway, emails: emails, config: cfg, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

func (s *Service) Gateway() Gateway { return s.gateway }

// CreateSubscription opens a gateway order for planID and records it as a
// pending payment. An active subscription is never downgraded by this call.
func (s *Service) CreateSubscription(ctx context.Context, c Customer, planID string) (*Checkout, error) {
	if !plans.IsPaid(planID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}
	limits := plans.For(plans.ParseTier(planID))
	now := s.clock.Now().Unix()

	order, err := s.gateway.CreateOrder(ctx, OrderRequest{
		UserID:   c.ID,
		Email:    c.Email,
		PlanID:   string(limits.Tier),
		Amount:   limits.PriceMinor,
		Currency: s.config.Currency,
		Receipt:  "rcpt_" + uuid.NewString()[:12],
	})
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(q *db.Queries) error {
		if err := q.InsertPayment(ctx, db.Payment{
			ID:        uuid.NewString(),
			UserID:    c.ID,
			PlanID:    string(limits.Tier),
			Gateway:   s.gateway.Name(),
			OrderID:   order.ID,
			Amount:    order.Amount,
			Currency:  order.Currency,
			Status:    db.PaymentCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		return q.UpsertPendingSubscriber(ctx, db.Subscriber{
			UserID:         c.ID,
			Email:          c.Email,
			PlanID:         string(limits.Tier),
			SubscriptionID: order.ID,
			Gateway:        s.gateway.Name(),
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("record pending order: %w", err)
	}

	log.Printf("[BILLING] Created %s order %s for user %s plan=%s amount=%d", s.gateway.Name(), order.ID, c.ID, limits.Tier, order.Amount)
	return &Checkout{
		OrderID:        order.ID,
		SubscriptionID: order.ID,
		PlanID:         limits.Tier,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Gateway:        s.gateway.Name(),
		KeyID:          s.gateway.PublicKey(),
		ClientSecret:   order.ClientSecret,
	}, nil
}

// VerifyPayment checks the checkout result the client reports and, on
// success, activates the plan recorded with the order. Repeating a verified
// call returns the current state without extending the subscription.
func (s *Service) VerifyPayment(ctx context.Context, c Customer, orderID, paymentID, signature string) (*Subscription, error) {
	payment, err := s.store.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && payment.UserID != c.ID) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}

	if payment.Status == db.PaymentPaid {
		log.Printf("[BILLING] Order %s already verified, returning current state", orderID)
		return s.GetSubscription(ctx, c, false)
	}

	ok, err := s.gateway.VerifyPayment(ctx, orderID, paymentID, signature)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !ok {
		if err := s.store.MarkPaymentFailed(ctx, orderID, paymentID, s.clock.Now().Unix()); err != nil {
			log.Printf("[BILLING] Warning: failed to mark order %s failed: %v", orderID, err)
		}
		log.Printf("[BILLING] Signature mismatch for order %s payment %s user %s", orderID, paymentID, c.ID)
		return nil, fmt.Errorf("%w: order %s", ErrSignatureMismatch, orderID)
	}

	if _, err := s.confirm(ctx, payment, paymentID); err != nil {
		return nil, err
	}
	return s.GetSubscription(ctx, c, false)
}

// GetSubscription returns the user's reconciled state. Expired rows are
// flipped to unsubscribed. With refresh, recent unpaid orders are looked up
// at the gateway and confirmed if they were paid without the client verifying.
func (s *Service) GetSubscription(ctx context.Context, c Customer, refresh bool) (*Subscription, error) {
	if refresh {
		if err := s.reconcilePending(ctx, c.ID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().Unix()
	sub, err := s.store.GetSubscriber(ctx, c.ID)
	if errors.Is(err, db.ErrNotFound) {
		return &Subscription{PlanID: plans.Free, Status: StatusNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}

	if sub.Subscribed && sub.SubscriptionEnd <= now {
		if _, err := s.store.ExpireSubscriber(ctx, c.ID, now); err != nil {
			return nil, fmt.Errorf("expire subscriber: %w", err)
		}
		log.Printf("[BILLING] Subscription for user %s expired", c.ID)
		sub.Subscribed = false
	}

	out := &Subscription{
		PlanID:          plans.ParseTier(sub.PlanID),
		Subscribed:      sub.Subscribed,
		SubscriptionID:  sub.SubscriptionID,
		Gateway:         sub.Gateway,
		SubscriptionEnd: sub.SubscriptionEnd,
	}
	switch {
	case sub.Subscribed:
		out.Status = StatusActive
	case sub.SubscriptionEnd > 0 && sub.SubscriptionEnd <= now:
		out.Status = StatusExpired
		out.PlanID = plans.Free
	default:
		out.Status = StatusPending
		out.PlanID = plans.Free
	}
	return out, nil
}

// reconcileLimit caps how many unpaid orders one refresh asks the gateway about.
const reconcileLimit = 5

// reconcilePending asks the gateway about the user's recent unpaid orders,
// including ones whose client verification failed, and confirms any it
// reports as paid.
func (s *Service) reconcilePending(ctx context.Context, userID string) error {
	payments, err := s.store.UnpaidPayments(ctx, userID, reconcileLimit)
	if err != nil {
		return fmt.Errorf("get unpaid payments: %w", err)
	}
	for i := range payments {
		payment := &payments[i]
		if payment.Gateway != s.gateway.Name() {
			continue
		}
		st, err := s.gateway.LookupOrder(ctx, payment.OrderID)
		if err != nil {
			log.Printf("[BILLING] Warning: refresh lookup of order %s failed: %v", payment.OrderID, err)
			continue
		}
		if !st.Paid {
			continue
		}
		log.Printf("[BILLING] Refresh found paid order %s (was %s) for user %s", payment.OrderID, payment.Status, userID)
		if _, err := s.confirm(ctx, payment, st.PaymentID); err != nil {
			return err
		}
	}
	return nil
}

// confirm marks the order paid and extends the subscription. It reports
// false when the order had already been confirmed.
func (s *Service) confirm(ctx context.Context, payment *db.Payment, paymentID string) (bool, error) {
	now := s.clock.Now()
	var (
		first bool
		end   int64
		mail  string
	)
	err := s.store.InTx(ctx, func(q *db.Queries) error {
		var err error
		first, err = q.MarkPaymentPaid(ctx, payment.OrderID, paymentID, now.Unix())
		if err != nil || !first {
			return err
		}

		start := now.Unix()
		sub, err := q.GetSubscriber(ctx, payment.UserID)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return err
		case sub.Subscribed && sub.SubscriptionEnd > start:
			start = sub.SubscriptionEnd
		}
		if sub != nil {
			mail = sub.Email
		}
		if mail == "" {
			if u, err := q.GetUserByID(ctx, payment.UserID); err == nil {
				mail = u.Email
			}
		}
		end = start + int64(SubscriptionPeriod/time.Second)

		return q.ActivateSubscriber(ctx, db.Subscriber{
			UserID:          payment.UserID,
			Email:           mail,
			PlanID:          payment.PlanID,
			SubscriptionID:  payment.OrderID,
			Gateway:         payment.Gateway,
			SubscriptionEnd: end,
		}, now.Unix())
	})
	if err != nil {
		return false, fmt.Errorf("confirm order %s: %w", payment.OrderID, err)
	}
	if !first {
		return false, nil
	}

	log.Printf("[BILLING] Activated plan %s for user %s until %d (order %s)", payment.PlanID, payment.UserID, end, payment.OrderID)
	s.sendReceipt(ctx, payment, paymentID, mail, end)
	return true, nil
}

func (s *Service) sendReceipt(ctx context.Context, payment *db.Payment, paymentID, to string, end int64) {
	if s.emails == nil || to == "" {
		return
	}
	name := ""
	if p, err := s.store.GetProfile(ctx, payment.UserID); err == nil {
		name = p.FullName
	}
	err := s.emails.Send(to, email.TemplatePaymentReceipt, email.ReceiptData{
		Name:       name,
		PlanName:   plans.For(plans.ParseTier(payment.PlanID)).Name,
		Amount:     email.FormatAmount(payment.Amount, payment.Currency),
		OrderID:    payment.OrderID,
		PaymentID:  paymentID,
		ValidUntil: time.Unix(end, 0).UTC().Format("2 Jan 2006"),
	})
	if err != nil {
		log.Printf("[BILLING] Warning: failed to send receipt for order %s: %v", payment.OrderID, err)
	}
}

// GrantPlan activates planID for days without a payment. Used by admins.
func (s *Service) GrantPlan(ctx context.Context, userID, planID string, days int) (*Subscription, error) {
	if !plans.IsPaid(planID) || days <= 0 {
		return nil, fmt.Errorf("%w: %q for %d days", ErrUnknownPlan, planID, days)
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	now := s.clock.Now()
	err = s.store.ActivateSubscriber(ctx, db.Subscriber{
		UserID:          userID,
		Email:           u.Email,
		PlanID:          string(plans.ParseTier(planID)),
		SubscriptionID:  "grant_" + uuid.NewString()[:8],
		Gateway:         "manual",
		SubscriptionEnd: now.Add(time.Duration(days) * 24 * time.Hour).Unix(),
	}, now.Unix())
	if err != nil {
		return nil, err
	}
	log.Printf("[BILLING] Granted plan %s to user %s for %d days", planID, userID, days)
	return s.GetSubscription(ctx, Customer{ID: userID, Email: u.Email}, false)
}
