package logutil

import (
	"net/http"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testRedactBodyForLog_HidesPaymentSecrets(t *rapid.T) {
	sig := rapid.StringMatching(`[a-f0-9]{64}`).Draw(t, "sig")
	orderID := rapid.StringMatching(`order_[A-Za-z0-9]{14}`).Draw(t, "order")

	body := []byte(`{"razorpay_order_id":"` + orderID + `","razorpay_signature":"` + sig + `","nested":{"access_token":"` + sig + `"}}`)
	out := RedactBodyForLog("application/json", body)

	if strings.Contains(out, sig) {
		t.Fatalf("signature leaked: %s", out)
	}
	if !strings.Contains(out, orderID) {
		t.Fatalf("order id should remain visible: %s", out)
	}
}

func TestRedactBodyForLog_HidesPaymentSecrets(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRedactBodyForLog_HidesPaymentSecrets)
}

func FuzzRedactBodyForLog_HidesPaymentSecrets(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testRedactBodyForLog_HidesPaymentSecrets))
}

func TestRedactBodyForLog_NonJSONPassthrough(t *testing.T) {
	t.Parallel()
	if got := RedactBodyForLog("text/plain", []byte("password=hunter2")); got != "password=hunter2" {
		t.Fatalf("non-JSON body changed: %q", got)
	}
}

func TestFormatHeadersForLog_RedactsAuthorization(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("Authorization", "Bearer abc.def.ghi")
	h.Set("X-Razorpay-Signature", "deadbeef")
	h.Set("Content-Type", "application/json")

	out := FormatHeadersForLog(h)
	if strings.Contains(out, "abc.def.ghi") || strings.Contains(out, "deadbeef") {
		t.Fatalf("secret header leaked: %s", out)
	}
	if !strings.Contains(out, `content-type="application/json"`) {
		t.Fatalf("expected content-type in output: %s", out)
	}
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"arjuna@example.com": "a***@example.com",
		"x@y.in":             "x***@y.in",
		"not-an-email":       "[REDACTED]",
		"@example.com":       "[REDACTED]",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	if got := TruncateForLog("  line1\nline2  ", 0); got != `line1\nline2` {
		t.Fatalf("unexpected: %q", got)
	}
	if got := TruncateForLog("abcdefgh", 3); got != "abc... [truncated]" {
		t.Fatalf("unexpected: %q", got)
	}
}
