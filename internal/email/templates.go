package email

import (
	"fmt"
	"html"
	"strings"
)

// Template names as constants for type safety.
const (
	TemplateWelcome         = "welcome"
	TemplatePaymentReceipt  = "payment_receipt"
	TemplateContactReceived = "contact_received"
	TemplateContactNotify   = "contact_notify"
)

const brand = "Shastra"

// WelcomeData contains data for welcome emails.
type WelcomeData struct {
	Name   string
	AppURL string
}

// ReceiptData contains data for payment receipts.
type ReceiptData struct {
	Name       string
	PlanName   string
	Amount     string // formatted, e.g. "INR 199.00"
	OrderID    string
	PaymentID  string
	ValidUntil string // e.g. "2 Nov 2025"
}

// ContactReceivedData acknowledges a contact form submission.
type ContactReceivedData struct {
	Name    string
	Subject string
}

// ContactNotifyData forwards a contact submission to the support inbox.
type ContactNotifyData struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// FormatAmount renders an amount in minor units, e.g. 19900 INR -> "INR 199.00".
func FormatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", strings.ToUpper(currency), minor/100, minor%100)
}

// render returns the subject and HTML body for a template's data. Every
// interpolated value is HTML-escaped.
func render(data any) (subject, body string) {
	e := html.EscapeString
	switch d := data.(type) {
	case WelcomeData:
		name := d.Name
		if name == "" {
			name = "seeker"
		}
		subject = "Welcome to " + brand
		body = layout(subject, "Namaste, "+e(name)+"!", `
        <p>Thank you for joining `+brand+`. You can now:</p>
        <ul style="color: #555;">
            <li>Ask questions about the Bhagavad Gita, Ramayana and more</li>
            <li>Generate quizzes to test what you have learned</li>
            <li>Track your progress over time</li>
        </ul>`+button(d.AppURL, "Start learning"))
	case ReceiptData:
		subject = "Your " + brand + " " + d.PlanName + " subscription is active"
		body = layout(subject, "Payment received", fmt.Sprintf(`
        <p>Hi %s, thank you for subscribing to the <strong>%s</strong> plan.</p>
        <table style="width: 100%%; color: #555;">
            <tr><td>Amount</td><td>%s</td></tr>
            <tr><td>Order</td><td>%s</td></tr>
            <tr><td>Payment</td><td>%s</td></tr>
            <tr><td>Valid until</td><td>%s</td></tr>
        </table>`, e(d.Name), e(d.PlanName), e(d.Amount), e(d.OrderID), e(d.PaymentID), e(d.ValidUntil)))
	case ContactReceivedData:
		subject = "We received your message"
		body = layout(subject, "Thank you, "+e(d.Name), `
        <p>We received your message about <strong>`+e(d.Subject)+`</strong> and will reply within two working days.</p>`)
	case ContactNotifyData:
		subject = "[contact] " + d.Subject
		body = layout(subject, "New contact submission", fmt.Sprintf(`
        <p><strong>From:</strong> %s &lt;%s&gt;</p>
        <p><strong>Subject:</strong> %s</p>
        <pre style="white-space: pre-wrap;">%s</pre>`, e(d.Name), e(d.Email), e(d.Subject), e(d.Message)))
	default:
		subject = "Message from " + brand
		body = layout(subject, subject, "<p>"+e(fmt.Sprintf("%+v", data))+"</p>")
	}
	return subject, body
}

func button(href, label string) string {
	if href == "" {
		return ""
	}
	return `
        <div style="text-align: center; margin: 30px 0;">
            <a href="` + html.EscapeString(href) + `" style="background: #c2410c; color: white; padding: 14px 30px; text-decoration: none; border-radius: 6px; font-weight: 600; display: inline-block;">` + label + `</a>
        </div>`
}

func layout(title, heading, inner string) string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>` + html.EscapeString(title) + `</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #7c2d12; padding: 30px; border-radius: 10px 10px 0 0;">
        <h1 style="color: white; margin: 0; font-size: 24px;">` + brand + `</h1>
    </div>
    <div style="background: #ffffff; padding: 30px; border: 1px solid #e0e0e0; border-top: none; border-radius: 0 0 10px 10px;">
        <h2 style="color: #333; margin-top: 0;">` + heading + `</h2>` + inner + `
        <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated message from ` + brand + `.</p>
    </div>
</body>
</html>`
}
