// Package support stores user feedback and public contact-form submissions.
package support

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/db"
	"github.com/kuitang/shastra/internal/email"
	"github.com/kuitang/shastra/internal/errs"
)

const (
	MinRating        = 1
	MaxRating        = 5
	maxMessageLength = 5000
	maxSubjectLength = 200
	maxNameLength    = 100
)

// Feedback categories. Anything else is stored as general.
var feedbackCategories = map[string]bool{
	"general": true,
	"answer":  true,
	"quiz":    true,
	"bug":     true,
	"billing": true,
	"feature": true,
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type FeedbackInput struct {
	Rating   int    `json:"rating"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type Service struct {
	store        *db.Store
	emails       email.EmailService
	supportEmail string
	clock        Clock
}

// NewService builds the support service. Contact submissions are forwarded
// to supportEmail when it is non-empty.
func NewService(store *db.Store, emails email.EmailService, supportEmail string) *Service {
	return &Service{store: store, emails: emails, supportEmail: supportEmail, clock: realClock{}}
}

// SetClock replaces the clock used by the service. Intended for testing.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// normalizeFeedback validates in and returns it cleaned up.
func normalizeFeedback(in FeedbackInput) (FeedbackInput, error) {
	if in.Rating < MinRating || in.Rating > MaxRating {
		return in, errs.New(errs.InvalidArgument, fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	in.Message = strings.TrimSpace(in.Message)
	if utf8.RuneCountInString(in.Message) > maxMessageLength {
		return in, errs.New(errs.InvalidArgument, "message is too long")
	}
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if !feedbackCategories[in.Category] {
		in.Category = "general"
	}
	return in, nil
}

func (s *Service) SubmitFeedback(ctx context.Context, userID string, in FeedbackInput) (*db.Feedback, error) {
	in, err := normalizeFeedback(in)
	if err != nil {
		return nil, err
	}
	f := db.Feedback{
		ID:        uuid.NewString(),
		UserID:    userID,
		Rating:    in.Rating,
		Category:  in.Category,
		Message:   in.Message,
		CreatedAt: s.clock.Now().Unix(),
	}
	if err := s.store.InsertFeedback(ctx, f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SubmitContact stores a contact submission, acknowledges it to the sender
// and forwards it to the support inbox. Email failures are logged only.
func (s *Service) SubmitContact(ctx context.Context, in ContactInput) (*db.ContactSubmission, error) {
	name := strings.TrimSpace(in.Name)
	subject := strings.TrimSpace(in.Subject)
	msg := strings.TrimSpace(in.Message)
	addr, err := auth.NormalizeEmail(in.Email)
	if err != nil {
		return nil, errs.New(errs.InvalidArgument, "a valid email address is required")
	}
	switch {
	case name == "" || subject == "" || msg == "":
		return nil, errs.New(errs.InvalidArgument, "name, subject and message are required")
	case utf8.RuneCountInString(name) > maxNameLength:
		return nil, errs.New(errs.InvalidArgument, "name is too long")
	case utf8.RuneCountInString(subject) > maxSubjectLength:
		return nil, errs.New(errs.InvalidArgument, "subject is too long")
	case utf8.RuneCountInString(msg) > maxMessageLength:
		return nil, errs.New(errs.InvalidArgument, "message is too long")
	}

	c := db.ContactSubmission{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     addr,
		Subject:   subject,
		Message:   msg,
		Status:    db.ContactOpen,
		CreatedAt: s.clock.Now().Unix(),
	}
	if err := s.store.InsertContact(ctx, c); err != nil {
		return nil, err
	}

	if err := s.emails.Send(addr, email.TemplateContactReceived, email.ContactReceivedData{Name: name, Subject: subject}); err != nil {
		log.Printf("[SUPPORT] Warning: failed to acknowledge contact %s: %v", c.ID, err)
	}
	if s.supportEmail != "" {
		data := email.ContactNotifyData{Name: name, Email: addr, Subject: subject, Message: msg}
		if err := s.emails.Send(s.supportEmail, email.TemplateContactNotify, data); err != nil {
			log.Printf("[SUPPORT] Warning: failed to forward contact %s: %v", c.ID, err)
		}
	}
	return &c, nil
}
