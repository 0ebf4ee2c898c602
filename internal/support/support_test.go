package support

import (
	"context"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/errs"
	"github.com/kuitang/shastra/internal/testdb"
)

func newService(t *testing.T) (*Service, *db.Store, *email.MockEmailService) {
	t.Helper()
	store := testdb.New(t)
	emails := email.NewMemoryEmailService()
	svc := NewService(store, emails, "support@shastra.test")
	svc.SetClock(auth.NewFakeClock(time.Date(2025, 9, 9, 9, 0, 0, 0, time.UTC)))
	return svc, store, emails
}

func TestSubmitFeedback(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	userID := testdb.SeedUser(t, store, "kunti@example.com")

	f, err := svc.SubmitFeedback(ctx, userID, FeedbackInput{Rating: 5, Category: "Quiz", Message: "  lovely  "})
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if f.Category != "quiz" || f.Message != "lovely" {
		t.Fatalf("unexpected feedback: %+v", f)
	}
	f, _ = svc.SubmitFeedback(ctx, userID, FeedbackInput{Rating: 3, Category: "rant"})
	if f.Category != "general" {
		t.Fatalf("unknown category should fall back to general, got %q", f.Category)
	}

	list, err := store.ListFeedback(ctx, 10, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListFeedback = %d, %v", len(list), err)
	}
}

func testFeedback_Normalize(t *rapid.T) {
	in := FeedbackInput{
		Rating:   rapid.IntRange(-5, 10).Draw(t, "rating"),
		Category: rapid.SampledFrom([]string{"", "BUG", " quiz ", "rant", "billing"}).Draw(t, "category"),
		Message:  rapid.String().Draw(t, "message"),
	}
	out, err := normalizeFeedback(in)
	inRange := in.Rating >= MinRating && in.Rating <= MaxRating
	if !inRange {
		if errs.CodeOf(err) != errs.InvalidArgument {
			t.Fatalf("rating %d accepted", in.Rating)
		}
		return
	}
	if err != nil {
		t.Fatalf("rating %d rejected: %v", in.Rating, err)
	}
	if !feedbackCategories[out.Category] {
		t.Fatalf("category %q escaped normalization", out.Category)
	}
}

func TestFeedback_Normalize(t *testing.T) {
	rapid.Check(t, testFeedback_Normalize)
}

func FuzzFeedback_Normalize(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testFeedback_Normalize))
}

func TestSubmitContact_StoresAndEmails(t *testing.T) {
	svc, store, emails := newService(t)
	ctx := context.Background()

	c, err := svc.SubmitContact(ctx, ContactInput{
		Name: "Vidura", Email: "Vidura@Example.com", Subject: "Refund", Message: "I was charged twice.",
	})
	if err != nil {
		t.Fatalf("SubmitContact: %v", err)
	}
	if c.Email != "vidura@example.com" || c.Status != db.ContactOpen {
		t.Fatalf("unexpected contact: %+v", c)
	}

	sent := emails.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected ack + notify, got %d emails", len(sent))
	}
	if sent[0].To != "vidura@example.com" || sent[0].Template != email.TemplateContactReceived {
		t.Fatalf("unexpected ack: %+v", sent[0])
	}
	if sent[1].To != "support@shastra.test" || sent[1].Template != email.TemplateContactNotify {
		t.Fatalf("unexpected notify: %+v", sent[1])
	}

	n, err := store.CountContacts(ctx, db.ContactOpen)
	if err != nil || n != 1 {
		t.Fatalf("CountContacts = %d, %v", n, err)
	}
}

func TestSubmitContact_Validation(t *testing.T) {
	svc, _, emails := newService(t)
	ctx := context.Background()
	bad := []ContactInput{
		{Name: "A", Email: "not-an-email", Subject: "S", Message: "M"},
		{Name: "", Email: "a@example.com", Subject: "S", Message: "M"},
		{Name: "A", Email: "a@example.com", Subject: "  ", Message: "M"},
		{Name: "A", Email: "a@example.com", Subject: strings.Repeat("s", maxSubjectLength+1), Message: "M"},
		{Name: "A", Email: "a@example.com", Subject: "S", Message: strings.Repeat("m", maxMessageLength+1)},
	}
	for i, in := range bad {
		if _, err := svc.SubmitContact(ctx, in); errs.CodeOf(err) != errs.InvalidArgument {
			t.Fatalf("case %d: expected InvalidArgument, got %v", i, err)
		}
	}
	if emails.Count() != 0 {
		t.Fatalf("rejected submissions must not send email, sent %d", emails.Count())
	}
}
