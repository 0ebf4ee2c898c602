// Package email sends transactional mail through Resend, or captures it in
// an outbox file when running with --no-email.
package email

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kuitang/shastra/internal/logutil"
)

// EmailService sends one templated email.
type EmailService interface {
	Send(to, templateName string, data any) error
}

func SendWelcome(svc EmailService, to, name, appURL string) error {
	return svc.Send(to, TemplateWelcome, WelcomeData{Name: name, AppURL: appURL})
}

// SentEmail is one captured message.
type SentEmail struct {
	To       string
	Template string
	Subject  string
	Data     any
}

const outboxFile = "outbox.jsonl"

// MockEmailService records every message. When it has an outbox path it also
// appends each message, rendered, as one JSON line so a developer can open
// the links (password-less sign-in, receipts) by hand.
type MockEmailService struct {
	mu     sync.Mutex
	sent   []SentEmail
	outbox string
}

// NewMockEmailService writes to $MOCK_EMAIL_OUTBOX_DIR/outbox.jsonl, or to a
// temp dir when unset.
func NewMockEmailService() *MockEmailService {
	dir := os.Getenv("MOCK_EMAIL_OUTBOX_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "shastra-mock-email")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[EMAIL] WARN: no outbox, cannot create %s: %v", dir, err)
		return &MockEmailService{}
	}
	path := filepath.Join(dir, outboxFile)
	log.Printf("[EMAIL] Mock outbox at %s", path)
	return &MockEmailService{outbox: path}
}

// NewMemoryEmailService keeps messages in memory only.
func NewMemoryEmailService() *MockEmailService {
	return &MockEmailService{}
}

type outboxLine struct {
	Seq      int    `json:"seq"`
	At       string `json:"at"`
	To       string `json:"to"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
}

func (m *MockEmailService) Send(to, templateName string, data any) error {
	subject, html := render(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmail{To: to, Template: templateName, Subject: subject, Data: data})
	log.Printf("[EMAIL] (mock) %s to %s: %s", templateName, logutil.MaskEmail(to), subject)

	if m.outbox == "" {
		return nil
	}
	line, err := json.Marshal(outboxLine{
		Seq:      len(m.sent),
		At:       time.Now().UTC().Format(time.RFC3339),
		To:       to,
		Template: templateName,
		Subject:  subject,
		HTML:     html,
	})
	if err != nil {
		return fmt.Errorf("mock email: encode: %w", err)
	}
	f, err := os.OpenFile(m.outbox, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mock email: open outbox: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("mock email: append outbox: %w", err)
	}
	return nil
}

// LastEmail returns the newest message, or the zero value.
func (m *MockEmailService) LastEmail() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentEmail{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *MockEmailService) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}

func (m *MockEmailService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Clear forgets captured messages. The outbox file is left alone.
func (m *MockEmailService) Clear() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}
