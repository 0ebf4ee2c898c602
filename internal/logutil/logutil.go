// Package logutil redacts credentials and personal data before they reach
// the logs.
package logutil

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const redacted = "[REDACTED]"

// Fragments that mark a header or JSON key as secret once dashes and
// underscores are removed. Covers bearer tokens, gateway signatures and
// key secrets, cookies and passwords.
var sensitiveFragments = []string{"token", "secret", "password", "apikey", "cookie", "auth", "signature"}

// Exact keys that are only secret on their own ("code" is an OAuth grant).
var sensitiveKeys = map[string]bool{"code": true, "otp": true}

// IsSensitiveLogField reports whether values under key must not be logged.
func IsSensitiveLogField(key string) bool {
	k := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
	if sensitiveKeys[k] {
		return true
	}
	return slices.ContainsFunc(sensitiveFragments, func(f string) bool { return strings.Contains(k, f) })
}

// FormatHeadersForLog renders headers as sorted `name="v1, v2"` pairs with
// secret values replaced.
func FormatHeadersForLog(h http.Header) string {
	if len(h) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(strings.ToLower(name))
		vals := h.Values(name)
		if len(vals) == 0 {
			b.WriteString("=<empty>")
			continue
		}
		v := strings.Join(vals, ", ")
		if IsSensitiveLogField(name) {
			v = redacted
		}
		b.WriteString("=" + strconv.Quote(v))
	}
	return b.String()
}

// RedactBodyForLog masks secret fields at any depth of a JSON body. Bodies
// that are not JSON, or fail to parse, are returned unchanged.
func RedactBodyForLog(contentType string, body []byte) string {
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return string(body)
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body)
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return string(body)
	}
	return string(out)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if IsSensitiveLogField(k) {
				t[k] = redacted
			} else {
				t[k] = redactValue(child)
			}
		}
	case []any:
		for i := range t {
			t[i] = redactValue(t[i])
		}
	}
	return v
}

// FormatBodyForLog caps the body at maxBytes (0 means no cap) and redacts it.
// truncated marks bodies the caller already cut short.
func FormatBodyForLog(contentType string, body []byte, maxBytes int, truncated bool) string {
	if len(body) == 0 {
		return ""
	}
	if maxBytes > 0 && len(body) > maxBytes {
		body, truncated = body[:maxBytes], true
	}
	text := RedactBodyForLog(contentType, body)
	if truncated {
		text += " [truncated]"
	}
	return text
}

// TruncateForLog flattens value onto one line and caps it at maxChars.
func TruncateForLog(value string, maxChars int) string {
	s := strings.ReplaceAll(strings.TrimSpace(value), "\n", `\n`)
	if maxChars > 0 && len(s) > maxChars {
		return s[:maxChars] + "... [truncated]"
	}
	return s
}

// MaskEmail keeps the first rune of the local part and the full domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" {
		return redacted
	}
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}
