package email

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v3"
)

const sendTimeout = 10 * time.Second

// ResendEmailService delivers through the Resend API. The from address must
// be on a domain verified in Resend.
type ResendEmailService struct {
	client *resend.Client
	from   string
}

func NewResendEmailService(apiKey, from string) *ResendEmailService {
	return NewResendEmailServiceWithClient(resend.NewClient(apiKey), from)
}

// NewResendEmailServiceWithClient takes a preconfigured SDK client, e.g. one
// whose BaseURL points at a test server.
func NewResendEmailServiceWithClient(client *resend.Client, from string) *ResendEmailService {
	return &ResendEmailService{client: client, from: from}
}

func (s *ResendEmailService) Send(to, templateName string, data any) error {
	subject, html := render(data)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Tags: []resend.Tag{
			{Name: "app", Value: "shastra"},
			{Name: "template", Value: templateName},
		},
	})
	if err != nil {
		return fmt.Errorf("resend %s email: %w", templateName, err)
	}
	return nil
}
