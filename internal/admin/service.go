// Package admin implements the operator console: admin accounts with
// server-side sessions, dashboard statistics, and support/billing tooling.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/plans"
)

// Session errors
var (
	ErrInvalidCredentials = errors.New("admin: invalid username or password")
	ErrSessionNotFound    = errors.New("admin: session not found or expired")
)

const (
	DefaultSessionDuration = 8 * time.Hour
	sessionTokenBytes      = 32
	defaultPageSize        = 50
	maxPageSize            = 200
	maxGrantDays           = 366
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Session is an issued admin session. Token is only known to the caller;
// the store keeps its hash.
type Session struct {
	Token     string
	Admin     *db.AdminUser
	ExpiresAt time.Time
}

// Stats is the dashboard summary.
type Stats struct {
	TotalUsers        int64            `json:"total_users"`
	ActiveSubscribers map[string]int64 `json:"active_subscribers"`
	RevenueMinor      map[string]int64 `json:"revenue_minor"`
	AverageRating     float64          `json:"average_rating"`
	FeedbackCount     int64            `json:"feedback_count"`
	OpenContacts      int64            `json:"open_contacts"`
	QuizzesGenerated  int64            `json:"quizzes_generated"`
	GeneratedAt       int64            `json:"generated_at"`
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Service handles admin authentication and console queries.
type Service struct {
	store      *db.Store
	billing    *billing.Service
	hasher     auth.PasswordHasher
	sessionTTL time.Duration
	clock      Clock
}

func NewService(store *db.Store, billingSvc *billing.Service, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionDuration
	}
	return &Service{
		store:      store,
		billing:    billingSvc,
		hasher:     auth.Argon2Hasher{},
		sessionTTL: sessionTTL,
		clock:      realClock{},
	}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// SetHasher swaps the password hasher. Intended for testing.
func (s *Service) SetHasher(h auth.PasswordHasher) {
	s.hasher = h
}

// Bootstrap creates the configured admin account if it does not exist yet.
// An existing account keeps its password.
func (s *Service) Bootstrap(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	created, err := s.store.CreateAdminUser(ctx, db.AdminUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.clock.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if created {
		log.Printf("[ADMIN] Bootstrapped admin account %q", username)
	}
	return nil
}

// Login checks credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	a, err := s.store.GetAdminByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, db.ErrNotFound) {
		// Burn a hash so unknown usernames cost the same as wrong passwords.
		_, _ = s.hasher.HashPassword(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	if !s.hasher.VerifyPassword(password, a.PasswordHash) {
		log.Printf("[ADMIN] Failed login for %q", a.Username)
		return nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateSecureToken(sessionTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := s.clock.Now()
	expires := now.Add(s.sessionTTL)
	err = s.store.InTx(ctx, func(q *db.Queries) error {
		if err := q.CreateAdminSession(ctx, auth.HashToken(token), a.ID, expires.Unix(), now.Unix()); err != nil {
			return err
		}
		return q.TouchAdminLogin(ctx, a.ID, now.Unix())
	})
	if err != nil {
		return nil, err
	}
	a.LastLoginAt = now.Unix()
	log.Printf("[ADMIN] %q signed in", a.Username)
	return &Session{Token: token, Admin: a, ExpiresAt: expires}, nil
}

// Authenticate resolves a session token to its admin.
func (s *Service) Authenticate(ctx context.Context, token string) (*db.AdminUser, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	a, err := s.store.GetAdminSession(ctx, auth.HashToken(token), s.clock.Now().Unix())
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin session: %w", err)
	}
	return a, nil
}

// Logout removes the session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteAdminSession(ctx, auth.HashToken(token)); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	return nil
}

// CleanupSessions removes expired sessions.
// This should be called periodically by a background goroutine.
func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredAdminSessions(ctx, s.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup admin sessions: %w", err)
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := s.clock.Now().Unix()
	out := &Stats{ActiveSubscribers: map[string]int64{}, GeneratedAt: now}

	var err error
	if out.TotalUsers, err = s.store.CountUsers(ctx); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	counts, err := s.store.CountActiveSubscribersByPlan(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count subscribers: %w", err)
	}
	for _, c := range counts {
		out.ActiveSubscribers[c.PlanID] = c.Count
	}
	if out.RevenueMinor, err = s.store.SumPaid(ctx); err != nil {
		return nil, fmt.Errorf("sum revenue: %w", err)
	}
	if out.AverageRating, out.FeedbackCount, err = s.store.AverageRating(ctx); err != nil {
		return nil, fmt.Errorf("average rating: %w", err)
	}
	if out.OpenContacts, err = s.store.CountContacts(ctx, db.ContactOpen); err != nil {
		return nil, fmt.Errorf("count contacts: %w", err)
	}
	if out.QuizzesGenerated, err = s.store.CountQuizzes(ctx); err != nil {
		return nil, fmt.Errorf("count quizzes: %w", err)
	}
	return out, nil
}

func (s *Service) Users(ctx context.Context, p Page) ([]db.UserSummary, error) {
	p = p.normalize()
	users, err := s.store.ListUsers(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []db.UserSummary{}
	}
	return users, nil
}

// Payments lists ledger rows, optionally for one user.
func (s *Service) Payments(ctx context.Context, userID string, p Page) ([]db.Payment, error) {
	p = p.normalize()
	return s.store.ListPayments(ctx, userID, p.Limit, p.Offset)
}

func (s *Service) Feedback(ctx context.Context, p Page) ([]db.Feedback, error) {
	p = p.normalize()
	return s.store.ListFeedback(ctx, p.Limit, p.Offset)
}

// Contacts lists contact submissions. status is "", "open" or "resolved".
func (s *Service) Contacts(ctx context.Context, status string, p Page) ([]db.ContactSubmission, error) {
	switch status {
	case "", db.ContactOpen, db.ContactResolved:
	default:
		return nil, errs.New(errs.InvalidArgument, "status must be open or resolved")
	}
	p = p.normalize()
	return s.store.ListContacts(ctx, status, p.Limit, p.Offset)
}

func (s *Service) ResolveContact(ctx context.Context, id string) error {
	err := s.store.SetContactStatus(ctx, id, db.ContactResolved)
	if errors.Is(err, db.ErrNotFound) {
		return errs.New(errs.NotFound, "contact submission not found")
	}
	return err
}

// GrantPlan activates a paid plan for a user without a payment.
func (s *Service) GrantPlan(ctx context.Context, adminName, userID, planID string, days int) (*billing.Subscription, error) {
	if !plans.IsPaid(planID) {
		return nil, errs.New(errs.InvalidArgument, "plan must be devotee or guru")
	}
	if days <= 0 || days > maxGrantDays {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("days must be between 1 and %d", maxGrantDays))
	}
	sub, err := s.billing.GrantPlan(ctx, userID, planID, days)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errs.New(errs.NotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[ADMIN] %s granted %s to user %s for %d days", adminName, planID, userID, days)
	return sub, nil
}
