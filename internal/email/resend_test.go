package email

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/resend/resend-go/v3"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRender_KnownTemplates(t *testing.T) {
	t.Parallel()

	subject, html := render(WelcomeData{Name: "Arjuna", AppURL: "https://app.example.com"})
	if !strings.Contains(subject, "Welcome") || !strings.Contains(html, "Arjuna") || !strings.Contains(html, "https://app.example.com") {
		t.Fatalf("welcome render mismatch: %q", subject)
	}

	subject, html = render(ReceiptData{Name: "Sita", PlanName: "Devotee", Amount: FormatAmount(19900, "inr"), OrderID: "order_1", PaymentID: "pay_1", ValidUntil: "1 Nov 2025"})
	if !strings.Contains(subject, "Devotee") {
		t.Fatalf("receipt subject mismatch: %q", subject)
	}
	for _, want := range []string{"INR 199.00", "order_1", "pay_1", "1 Nov 2025"} {
		if !strings.Contains(html, want) {
			t.Fatalf("receipt html missing %q", want)
		}
	}

	subject, html = render(ContactReceivedData{Name: "Rama", Subject: "Billing"})
	if !strings.Contains(subject, "received") || !strings.Contains(html, "Billing") {
		t.Fatalf("contact ack mismatch: %q", subject)
	}
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()
	cases := map[int64]string{0: "INR 0.00", 5: "INR 0.05", 19900: "INR 199.00", 49950: "INR 499.50"}
	for in, want := range cases {
		if got := FormatAmount(in, "inr"); got != want {
			t.Fatalf("FormatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

// =============================================================================
// Property: user-supplied text is always escaped in rendered HTML
// =============================================================================

func testRender_EscapesUserInput(t *rapid.T) {
	payload := rapid.SampledFrom([]string{"<script>alert(1)</script>", `"><img src=x onerror=alert(1)>`, "<b>bold</b>"}).Draw(t, "payload")
	prefix := rapid.StringMatching(`[A-Za-z ]{0,16}`).Draw(t, "prefix")
	_, html := render(ContactNotifyData{Name: prefix + payload, Email: "a@example.com", Subject: payload, Message: payload})
	if strings.Contains(html, payload) {
		t.Fatalf("raw payload leaked into html: %q", payload)
	}
}

func TestRender_EscapesUserInput(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRender_EscapesUserInput)
}

func FuzzRender_EscapesUserInput(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRender_EscapesUserInput))
}

func testRender_UnknownDataFallsBack(t *rapid.T) {
	data := rapid.StringMatching(`[A-Za-z0-9 _:/.-]{1,64}`).Draw(t, "data")
	subject, html := render(data)
	if !strings.Contains(subject, brand) {
		t.Fatalf("fallback subject mismatch: %q", subject)
	}
	if !strings.Contains(html, data) {
		t.Fatalf("fallback html should include input data: %q", html)
	}
}

func TestRender_UnknownDataFallsBack(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRender_UnknownDataFallsBack)
}

func TestResendEmailService_SendPostsToAPI(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/emails"))
		require.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	client := resend.NewClient("re_test")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	svc := NewResendEmailServiceWithClient(client, "Shastra <hello@example.com>")
	require.NoError(t, svc.Send("user@example.com", TemplateWelcome, WelcomeData{Name: "Ada"}))

	require.Equal(t, "Shastra <hello@example.com>", got["from"])
	require.Contains(t, got["html"], "Ada")
}

func TestResendEmailService_SendSurfacesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"bad from"}`))
	}))
	defer srv.Close()

	client := resend.NewClient("re_test")
	base, _ := url.Parse(srv.URL + "/")
	client.BaseURL = base

	err := NewResendEmailServiceWithClient(client, "bad").Send("user@example.com", TemplateWelcome, WelcomeData{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "welcome")
}

func TestMockEmailService_AppendsOutbox(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOCK_EMAIL_OUTBOX_DIR", dir)

	m := NewMockEmailService()
	require.NoError(t, SendWelcome(m, "seeker@example.com", "Seeker", "https://shastra.test"))
	require.NoError(t, SendWelcome(m, "sadhaka@example.com", "", ""))
	require.Equal(t, 2, m.Count())
	require.Equal(t, "sadhaka@example.com", m.LastEmail().To)

	raw, err := os.ReadFile(filepath.Join(dir, outboxFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var first outboxLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, 1, first.Seq)
	require.Equal(t, TemplateWelcome, first.Template)
	require.Equal(t, "seeker@example.com", first.To)
	require.Contains(t, first.HTML, "https://shastra.test")

	m.Clear()
	require.Zero(t, m.Count())
	require.Empty(t, m.LastEmail().To)
}
