package obs

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

// ResponseRecorder remembers the status and size of a response.
type ResponseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
	started bool
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.started {
		return
	}
	r.status, r.started = code, true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.started {
		r.status, r.started = http.StatusOK, true
	}
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
func (r *ResponseRecorder) StatusCode() int             { return r.status }
func (r *ResponseRecorder) RespBytes() int64            { return r.written }
func (r *ResponseRecorder) WroteHeader() bool           { return r.started }

type flushRecorder struct{ *ResponseRecorder }

func (f flushRecorder) Flush() { f.ResponseWriter.(http.Flusher).Flush() }

// NewResponseRecorder wraps w. The returned writer still implements
// http.Flusher when w does, which MCP streaming responses rely on.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	rec := &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
	if _, ok := w.(http.Flusher); ok {
		return flushRecorder{rec}, rec
	}
	return rec, rec
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-Ip, then the
// socket address.
func ClientIP(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-Ip")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RequestContextMiddleware assigns the request id (X-Request-Id, else the W3C
// trace id, else a fresh one), echoes it back and stores the correlation.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := extractTraceID(r.Header.Get("traceparent"))
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		switch {
		case id != "":
		case traceID != "":
			id = traceID
		default:
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)

		ctx := WithCorrelation(r.Context(), Correlation{
			RequestID:    id,
			TraceID:      traceID,
			MCPSessionID: r.Header.Get("Mcp-Session-Id"),
			ClientIP:     ClientIP(r),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLogMiddleware logs one http_access event per request: debug for
// normal responses, warn for 5xx.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, rec := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		args := []any{
			"pkg", pkg,
			"method", r.Method,
			"path", r.URL.Path,
			"route", r.Pattern,
			"status", rec.StatusCode(),
			"dur_ms", float64(time.Since(start).Microseconds()) / 1000,
			"req_bytes", max(r.ContentLength, 0),
			"resp_bytes", rec.RespBytes(),
		}
		l := From(r.Context())
		if rec.StatusCode() >= http.StatusInternalServerError {
			l.Warn("http_access", args...)
		} else {
			l.Debug("http_access", args...)
		}
	})
}

// RecoverMiddleware logs a handler panic with its stack and answers 500 if
// nothing was written yet. http.ErrAbortHandler is re-raised.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped, rec := NewResponseRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			From(r.Context()).Error("http_panic",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
			if !rec.WroteHeader() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error","code":"internal"}`))
			}
		}()
		next.ServeHTTP(wrapped, r)
	})
}

// extractTraceID returns the trace-id of a W3C traceparent
// (version-traceid-parentid-flags), or "" if malformed or all zero.
func extractTraceID(traceparent string) string {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) != 4 {
		return ""
	}
	id := strings.ToLower(parts[1])
	if len(id) != 32 || id == strings.Repeat("0", 32) {
		return ""
	}
	if _, err := hex.DecodeString(id); err != nil {
		return ""
	}
	return id
}
