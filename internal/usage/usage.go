// Package usage tracks per-user message and quiz counters and gates them
// against the caller's plan. All check-and-increment work happens in a
// single SQL statement so concurrent requests cannot overshoot a limit.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/plans"
)

// ErrLimitReached is returned when a consume would exceed the plan maximum.
var ErrLimitReached = errors.New("usage limit reached")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Day formats t as the UTC calendar day the daily counter is keyed on.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Snapshot is the get-user-usage payload.
type Snapshot struct {
	MessagesSentToday int                `json:"messages_sent_today"`
	MessagesResetDate string             `json:"messages_reset_date"`
	QuizzesCreated    int                `json:"quizzes_created"`
	Tier              plans.Tier         `json:"tier"`
	Subscribed        bool               `json:"subscribed"`
	SubscriptionEnd   int64              `json:"subscription_end"`
	Entitlements      plans.Entitlements `json:"entitlements"`
}

// Service reads and mutates user_usage.
type Service struct {
	store *db.Store
	clock Clock
}

func NewService(store *db.Store) *Service {
	return &Service{store: store, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// Get returns the user's counters, creating the row on first use and
// persisting a reset when the stored day is stale.
func (s *Service) Get(ctx context.Context, userID string) (*db.Usage, error) {
	now := s.clock.Now()
	today := Day(now)
	if err := s.store.EnsureUsage(ctx, userID, today, now.Unix()); err != nil {
		return nil, fmt.Errorf("ensure usage row: %w", err)
	}
	if err := s.store.ResetStaleUsage(ctx, userID, today, now.Unix()); err != nil {
		return nil, fmt.Errorf("reset stale usage: %w", err)
	}
	u, err := s.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// Tier returns the plan the user is currently entitled to. Subscriber rows
// past their end time are flipped to unsubscribed on the way.
func (s *Service) Tier(ctx context.Context, userID string) (plans.Tier, *db.Subscriber, error) {
	now := s.clock.Now().Unix()
	sub, err := s.store.GetSubscriber(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return plans.Free, nil, nil
	}
	if err != nil {
		return plans.Free, nil, fmt.Errorf("get subscriber: %w", err)
	}
	if sub.Subscribed && sub.SubscriptionEnd <= now {
		expired, err := s.store.ExpireSubscriber(ctx, userID, now)
		if err != nil {
			return plans.Free, nil, fmt.Errorf("expire subscriber: %w", err)
		}
		if expired {
			log.Printf("[USAGE] Subscription for user %s expired at %d", userID, sub.SubscriptionEnd)
		}
		sub.Subscribed = false
	}
	return plans.Effective(sub.PlanID, sub.Subscribed, sub.SubscriptionEnd, now), sub, nil
}

// Snapshot combines counters, tier and derived entitlements.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	tier, sub, err := s.Tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		MessagesSentToday: u.MessagesSentToday,
		MessagesResetDate: u.MessagesResetDate,
		QuizzesCreated:    u.QuizzesCreated,
		Tier:              tier,
		Entitlements: plans.Resolve(tier, plans.Usage{
			MessagesSentToday: u.MessagesSentToday,
			QuizzesCreated:    u.QuizzesCreated,
		}),
	}
	if sub != nil {
		snap.Subscribed = sub.Subscribed
		snap.SubscriptionEnd = sub.SubscriptionEnd
	}
	return snap, nil
}

// ConsumeMessage counts one message for today if the count is below limit.
// limit follows plans semantics: plans.Unlimited never blocks.
func (s *Service) ConsumeMessage(ctx context.Context, userID string, limit int) error {
	now := s.clock.Now()
	ok, err := s.store.ConsumeMessage(ctx, userID, Day(now), limit, now.Unix())
	if err != nil {
		return fmt.Errorf("consume message: %w", err)
	}
	if !ok {
		return ErrLimitReached
	}
	return nil
}

// RefundMessage gives back a message consumed for a request that failed.
func (s *Service) RefundMessage(ctx context.Context, userID string) error {
	now := s.clock.Now()
	if err := s.store.RefundMessage(ctx, userID, Day(now), now.Unix()); err != nil {
		return fmt.Errorf("refund message: %w", err)
	}
	return nil
}

// ConsumeQuiz counts one quiz against the lifetime limit.
func (s *Service) ConsumeQuiz(ctx context.Context, userID string, limit int) error {
	now := s.clock.Now()
	ok, err := s.store.ConsumeQuiz(ctx, userID, Day(now), limit, now.Unix())
	if err != nil {
		return fmt.Errorf("consume quiz: %w", err)
	}
	if !ok {
		return ErrLimitReached
	}
	return nil
}

func (s *Service) RefundQuiz(ctx context.Context, userID string) error {
	if err := s.store.RefundQuiz(ctx, userID, s.clock.Now().Unix()); err != nil {
		return fmt.Errorf("refund quiz: %w", err)
	}
	return nil
}

// IncrementMessages consumes one message against the user's current plan
// and returns the updated snapshot.
func (s *Service) IncrementMessages(ctx context.Context, userID string) (*Snapshot, error) {
	tier, _, err := s.Tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ConsumeMessage(ctx, userID, plans.For(tier).MaxDailyMessages); err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, userID)
}

// IncrementQuizzes consumes one quiz against the user's current plan and
// returns the updated snapshot.
func (s *Service) IncrementQuizzes(ctx context.Context, userID string) (*Snapshot, error) {
	tier, _, err := s.Tier(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ConsumeQuiz(ctx, userID, plans.For(tier).MaxQuizzes); err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, userID)
}
