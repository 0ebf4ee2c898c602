package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Payment statuses.
const (
	PaymentCreated = "created"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Subscriber is a user's plan state. There is at most one row per user.
type Subscriber struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	PlanID          string `json:"plan_id"`
	Subscribed      bool   `json:"subscribed"`
	SubscriptionID  string `json:"subscription_id"`
	Gateway         string `json:"gateway"`
	SubscriptionEnd int64  `json:"subscription_end"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Payment is a ledger row for one gateway order.
type Payment struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	PlanID    string `json:"plan_id"`
	Gateway   string `json:"gateway"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// PlanCount is an active-subscriber tally.
type PlanCount struct {
	PlanID string `json:"plan_id"`
	Count  int64  `json:"count"`
}

const subscriberColumns = `user_id, email, plan_id, subscribed, subscription_id, gateway, subscription_end, created_at, updated_at`

func (q *Queries) GetSubscriber(ctx context.Context, userID string) (*Subscriber, error) {
	var (
		s          Subscriber
		subscribed int
	)
	err := q.queryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE user_id = ?`, userID).
		Scan(&s.UserID, &s.Email, &s.PlanID, &subscribed, &s.SubscriptionID, &s.Gateway, &s.SubscriptionEnd, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Subscribed = subscribed == 1
	return &s, nil
}

// UpsertPendingSubscriber records an unconfirmed order against the user's
// subscriber row. A row that is subscribed and not yet expired at `at` is
// left untouched so an abandoned upgrade can never downgrade a paying user.
func (q *Queries) UpsertPendingSubscriber(ctx context.Context, s Subscriber, at int64) error {
	_, err := q.exec(ctx, `
INSERT INTO subscribers (`+subscriberColumns+`)
VALUES (?, ?, ?, 0, ?, ?, 0, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    email = excluded.email,
    plan_id = excluded.plan_id,
    subscribed = 0,
    subscription_id = excluded.subscription_id,
    gateway = excluded.gateway,
    updated_at = excluded.updated_at
WHERE NOT (subscribers.subscribed = 1 AND subscribers.subscription_end > ?)`,
		s.UserID, s.Email, s.PlanID, s.SubscriptionID, s.Gateway, at, at, at)
	if err != nil {
		return fmt.Errorf("upsert pending subscriber: %w", err)
	}
	return nil
}

// ActivateSubscriber marks the user subscribed to planID until end.
func (q *Queries) ActivateSubscriber(ctx context.Context, s Subscriber, at int64) error {
	_, err := q.exec(ctx, `
INSERT INTO subscribers (`+subscriberColumns+`)
VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    email = excluded.email,
    plan_id = excluded.plan_id,
    subscribed = 1,
    subscription_id = excluded.subscription_id,
    gateway = excluded.gateway,
    subscription_end = excluded.subscription_end,
    updated_at = excluded.updated_at`,
		s.UserID, s.Email, s.PlanID, s.SubscriptionID, s.Gateway, s.SubscriptionEnd, at, at)
	if err != nil {
		return fmt.Errorf("activate subscriber: %w", err)
	}
	return nil
}

// ExpireSubscriber flips subscribed off once subscription_end has passed.
// It reports whether a row changed.
func (q *Queries) ExpireSubscriber(ctx context.Context, userID string, at int64) (bool, error) {
	return q.affectedOne(ctx, `
UPDATE subscribers SET subscribed = 0, updated_at = ?
WHERE user_id = ? AND subscribed = 1 AND subscription_end <= ?`, at, userID, at)
}

// CancelSubscriber ends a subscription immediately.
func (q *Queries) CancelSubscriber(ctx context.Context, userID string, at int64) error {
	res, err := q.exec(ctx, `
UPDATE subscribers SET subscribed = 0, subscription_end = ?, updated_at = ? WHERE user_id = ?`, at, at, userID)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (q *Queries) CountActiveSubscribersByPlan(ctx context.Context, at int64) ([]PlanCount, error) {
	rows, err := q.query(ctx, `
SELECT plan_id, COUNT(*) FROM subscribers
WHERE subscribed = 1 AND subscription_end > ?
GROUP BY plan_id ORDER BY plan_id`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PlanCount{}
	for rows.Next() {
		var pc PlanCount
		if err := rows.Scan(&pc.PlanID, &pc.Count); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

const paymentColumns = `id, user_id, plan_id, gateway, order_id, payment_id, amount, currency, status, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.UserID, &p.PlanID, &p.Gateway, &p.OrderID, &p.PaymentID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *Queries) InsertPayment(ctx context.Context, p Payment) error {
	_, err := q.exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.PlanID, p.Gateway, p.OrderID, p.PaymentID, p.Amount, p.Currency, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (q *Queries) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return scanPayment(q.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID))
}

// UnpaidPayments returns up to limit of the user's orders that never reached
// "paid", newest first. Failed verifications are included because the
// gateway may still have captured them.
func (q *Queries) UnpaidPayments(ctx context.Context, userID string, limit int) ([]Payment, error) {
	rows, err := q.query(ctx, `
SELECT `+paymentColumns+` FROM payments
WHERE user_id = ? AND status IN ('created', 'failed')
ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkPaymentPaid transitions an order to paid. It reports false when the
// order was already paid, which callers treat as an idempotent replay.
func (q *Queries) MarkPaymentPaid(ctx context.Context, orderID, paymentID string, at int64) (bool, error) {
	return q.affectedOne(ctx, `
UPDATE payments SET status = 'paid', payment_id = ?, updated_at = ?
WHERE order_id = ? AND status <> 'paid'`, paymentID, at, orderID)
}

// MarkPaymentFailed records a failed verification. Paid orders stay paid.
func (q *Queries) MarkPaymentFailed(ctx context.Context, orderID, paymentID string, at int64) error {
	_, err := q.exec(ctx, `
UPDATE payments SET status = 'failed', payment_id = ?, updated_at = ?
WHERE order_id = ? AND status = 'created'`, paymentID, at, orderID)
	return err
}

// ListPayments returns ledger rows newest first. An empty userID lists everyone.
func (q *Queries) ListPayments(ctx context.Context, userID string, limit, offset int) ([]Payment, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = q.query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = q.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, userID, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SumPaid returns the total amount of paid orders per currency.
func (q *Queries) SumPaid(ctx context.Context) (map[string]int64, error) {
	rows, err := q.query(ctx, `SELECT currency, COALESCE(SUM(amount), 0) FROM payments WHERE status = 'paid' GROUP BY currency`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			cur string
			sum int64
		)
		if err := rows.Scan(&cur, &sum); err != nil {
			return nil, err
		}
		out[cur] = sum
	}
	return out, rows.Err()
}

// IsEventProcessed reports whether a webhook event id was already handled.
func (q *Queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM processed_payment_events WHERE event_id = ?`, eventID).Scan(&n)
	return n > 0, err
}

// MarkEventProcessed records a webhook event id. It reports false when the
// event was seen before.
func (q *Queries) MarkEventProcessed(ctx context.Context, eventID, gateway string, at int64) (bool, error) {
	return q.affectedOne(ctx, `
INSERT INTO processed_payment_events (event_id, gateway, processed_at) VALUES (?, ?, ?)
ON CONFLICT (event_id) DO NOTHING`, eventID, gateway, at)
}
