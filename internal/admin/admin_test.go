package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/billing"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/plans"
	"github.com/kuitang/shastra/internal/ratelimit"
	"github.com/kuitang/shastra/internal/testdb"
)

var epoch = time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *db.Store
	clock *auth.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testdb.New(t)
	clock := auth.NewFakeClock(epoch)
	billingSvc := billing.NewService(store, billing.NewMockGateway(), email.NewMemoryEmailService(), billing.Config{})
	billingSvc.SetClock(clock)

	svc := NewService(store, billingSvc, time.Hour)
	svc.SetClock(clock)
	svc.SetHasher(auth.PlaintextHasher{})
	if err := svc.Bootstrap(context.Background(), "vyasa", "correct-horse-battery"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock}
}

func TestBootstrap_KeepsExistingPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.Bootstrap(ctx, "vyasa", "a-different-password"); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if _, err := f.svc.Login(ctx, "vyasa", "correct-horse-battery"); err != nil {
		t.Fatalf("original password must still work: %v", err)
	}
	if _, err := f.svc.Login(ctx, "vyasa", "a-different-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bootstrap must not overwrite: %v", err)
	}
	if err := f.svc.Bootstrap(ctx, "", ""); err != nil {
		t.Fatalf("empty bootstrap should be a no-op: %v", err)
	}
}

func TestSession_LifecycleAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, "nobody", "correct-horse-battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown admin: %v", err)
	}
	sess, err := f.svc.Login(ctx, "vyasa", "correct-horse-battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !sess.ExpiresAt.Equal(epoch.Add(time.Hour)) || sess.Admin.LastLoginAt != epoch.Unix() {
		t.Fatalf("unexpected session: %+v", sess)
	}

	a, err := f.svc.Authenticate(ctx, sess.Token)
	if err != nil || a.Username != "vyasa" {
		t.Fatalf("Authenticate = %+v, %v", a, err)
	}
	if _, err := f.svc.Authenticate(ctx, auth.HashToken(sess.Token)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("the stored hash must not work as a token: %v", err)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session accepted: %v", err)
	}
	n, err := f.svc.CleanupSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupSessions = %d, %v", n, err)
	}

	sess, _ = f.svc.Login(ctx, "vyasa", "correct-horse-battery")
	if err := f.svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("logged-out session accepted: %v", err)
	}
}

func testPage_NormalizeBounds(t *rapid.T) {
	p := Page{
		Limit:  rapid.IntRange(-10, 1000).Draw(t, "limit"),
		Offset: rapid.IntRange(-10, 1000).Draw(t, "offset"),
	}.normalize()
	if p.Limit < 1 || p.Limit > maxPageSize || p.Offset < 0 {
		t.Fatalf("page out of bounds: %+v", p)
	}
}

func TestPage_NormalizeBounds(t *testing.T) {
	rapid.Check(t, testPage_NormalizeBounds)
}

func FuzzPage_NormalizeBounds(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testPage_NormalizeBounds))
}

func TestStats_AndGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := testdb.SeedUser(t, f.store, "nakula@example.com")
	testdb.SeedUser(t, f.store, "sahadeva@example.com")

	if err := f.store.InsertFeedback(ctx, db.Feedback{ID: uuid.NewString(), UserID: userID, Rating: 4, Category: "general", CreatedAt: epoch.Unix()}); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	if err := f.store.InsertFeedback(ctx, db.Feedback{ID: uuid.NewString(), UserID: userID, Rating: 2, Category: "general", CreatedAt: epoch.Unix()}); err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	contactID := uuid.NewString()
	if err := f.store.InsertContact(ctx, db.ContactSubmission{ID: contactID, Name: "N", Email: "n@example.com", Subject: "Hi", Message: "Hello", Status: db.ContactOpen, CreatedAt: epoch.Unix()}); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}

	quiz := db.Quiz{ID: uuid.NewString(), UserID: userID, Title: "Gita basics", Category: plans.BhagavadGita, Difficulty: "easy", QuestionCount: 1, CreatedAt: epoch.Unix()}
	question := db.Question{ID: uuid.NewString(), Position: 1, Prompt: "Who speaks the Gita?", Options: []string{"Krishna", "Arjuna", "Bhishma", "Drona"}, CorrectIndex: 0}
	if err := f.store.InTx(ctx, func(q *db.Queries) error { return q.InsertQuiz(ctx, quiz, []db.Question{question}) }); err != nil {
		t.Fatalf("InsertQuiz: %v", err)
	}

	if _, err := f.svc.GrantPlan(ctx, "vyasa", userID, "free", 30); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("free grant: %v", err)
	}
	if _, err := f.svc.GrantPlan(ctx, "vyasa", userID, string(plans.Guru), 0); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("zero days: %v", err)
	}
	if _, err := f.svc.GrantPlan(ctx, "vyasa", "missing-user", "guru", 30); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("missing user: %v", err)
	}
	sub, err := f.svc.GrantPlan(ctx, "vyasa", userID, "guru", 30)
	if err != nil || !sub.Subscribed || sub.PlanID != plans.Guru {
		t.Fatalf("GrantPlan = %+v, %v", sub, err)
	}

	stats, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalUsers != 2 || stats.ActiveSubscribers["guru"] != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.FeedbackCount != 2 || stats.AverageRating != 3 || stats.OpenContacts != 1 || stats.QuizzesGenerated != 1 {
		t.Fatalf("unexpected support stats: %+v", stats)
	}

	if err := f.svc.ResolveContact(ctx, contactID); err != nil {
		t.Fatalf("ResolveContact: %v", err)
	}
	if err := f.svc.ResolveContact(ctx, "missing"); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("resolve missing: %v", err)
	}
	open, _ := f.svc.Contacts(ctx, db.ContactOpen, Page{})
	if len(open) != 0 {
		t.Fatalf("open contacts after resolve: %d", len(open))
	}
	if _, err := f.svc.Contacts(ctx, "archived", Page{}); errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("bad status: %v", err)
	}
}

func TestHandlers_LoginGuardsConsole(t *testing.T) {
	f := newFixture(t)
	mux := http.NewServeMux()
	NewHandler(f.svc, nil, false).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login",
		strings.NewReader(`{"username":"vyasa","password":"wrong-password"}`)))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/login",
		strings.NewReader(`{"username":"vyasa","password":"correct-horse-battery"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var login loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	require.Empty(t, leakedPasswordHash(rr.Body.String()))

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.Equal(t, "/admin", cookie.Path)

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))

	req = httptest.NewRequest(http.MethodGet, "/admin/users?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"users":[]`)

	req = httptest.NewRequest(http.MethodPost, "/admin/logout", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlers_LoginIsRateLimited(t *testing.T) {
	f := newFixture(t)
	cfg := ratelimit.DefaultConfig
	cfg.AdminAuth = ratelimit.Rule{RPS: 0.001, Burst: 2}
	limiter := ratelimit.NewRateLimiter(cfg)
	defer limiter.Stop()

	mux := http.NewServeMux()
	NewHandler(f.svc, limiter, false).RegisterRoutes(mux)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"vyasa","password":"nope-nope"}`))
		req.RemoteAddr = "198.51.100.7:4242"
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

// leakedPasswordHash returns any password_hash field leaked in a body.
func leakedPasswordHash(body string) string {
	var m map[string]map[string]any
	_ = json.Unmarshal([]byte(body), &m)
	if v, ok := m["admin"]["password_hash"].(string); ok {
		return v
	}
	return ""
}
