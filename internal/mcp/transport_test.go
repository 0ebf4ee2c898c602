package mcp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func testDebugHeaders_HideBearerAndCookie(t *rapid.T) {
	secret := rapid.StringMatching(`[A-Za-z0-9._=-]{12,40}`).Draw(t, "secret")
	session := rapid.StringMatching(`sess-[a-z0-9]{4,12}`).Draw(t, "session")

	h := http.Header{}
	h.Set("Authorization", "Bearer "+secret)
	h.Set("Cookie", "shastra_token="+secret)
	h.Set("Mcp-Session-Id", session)

	out := formatMCPHeadersForLog(h)
	if strings.Contains(out, secret) {
		t.Fatalf("credential in debug log: %q", out)
	}
	if !strings.Contains(out, session) {
		t.Fatalf("session id should stay visible: %q", out)
	}
}

func TestDebugHeaders_HideBearerAndCookie(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDebugHeaders_HideBearerAndCookie)
}

func FuzzDebugHeaders_HideBearerAndCookie(f *testing.F) {
	f.Add([]byte{0x00})
	f.Fuzz(rapid.MakeFuzz(testDebugHeaders_HideBearerAndCookie))
}

func TestIsASCII(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{
		"sess-42:a.b": true,
		"":            false,
		"  ":          false,
		"a\tb":        false,
		"gītā":        false,
	} {
		if got := isASCII(in); got != want {
			t.Fatalf("isASCII(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestServeHTTP_RejectsBeforeDelegating(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"oversized body", http.MethodPost, strings.Repeat("x", maxMCPBodyBytes+1), http.StatusRequestEntityTooLarge},
		{"sse stream", http.MethodGet, "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("%s reached the SDK handler", tc.name)
			})}
			req := httptest.NewRequest(tc.method, "/mcp", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.status == http.StatusMethodNotAllowed && !strings.Contains(rec.Header().Get("Allow"), "POST") {
				t.Fatalf("Allow = %q", rec.Header().Get("Allow"))
			}
		})
	}
}

func TestStudyPromptText_FallsBackToGita(t *testing.T) {
	t.Parallel()
	got := studyPromptText("quran", "  ")
	if !strings.Contains(got, "bhagavad gita") || !strings.Contains(got, ToolQuizSubmit) {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if got := studyPromptText("ramayana", "Hanuman"); !strings.Contains(got, "ramayana focusing on Hanuman") {
		t.Fatalf("topic not included: %q", got)
	}
}
