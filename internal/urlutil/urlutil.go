// Package urlutil builds the absolute URLs used in sign-in redirects and
// email links.
package urlutil

import (
	"net/http"
	"net/url"
	"strings"
)

// Origin returns scheme://host for r. X-Forwarded-Proto is honoured only when
// it names http or https. Without a Host header the trimmed fallback is
// returned.
func Origin(r *http.Request, fallback string) string {
	if r == nil || strings.TrimSpace(r.Host) == "" {
		return trimBase(fallback)
	}
	return scheme(r) + "://" + strings.TrimSpace(r.Host)
}

// Join appends path to base. Absolute http(s) paths are returned unchanged
// and an empty path yields the base itself.
func Join(base, path string) string {
	base = trimBase(base)
	switch {
	case path == "":
		return base
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		return path
	case strings.HasPrefix(path, "/"):
		return base + path
	default:
		return base + "/" + path
	}
}

// WithQuery is Join plus an encoded query string.
func WithQuery(base, path string, q url.Values) string {
	u := Join(base, path)
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}

func scheme(r *http.Request) string {
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	switch p := strings.TrimSpace(proto); p {
	case "http", "https":
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func trimBase(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}
