// Package obs is the structured logging layer: one JSON slog logger for the
// process, with request correlation attached from the context.
package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const serviceName = "shastra"

type correlationKey struct{}

// Correlation identifies the request a log line belongs to.
type Correlation struct {
	RequestID    string
	TraceID      string
	UserID       string
	AdminID      string
	MCPSessionID string
	ClientIP     string
}

func (c Correlation) fields() [][2]string {
	return [][2]string{
		{"request_id", c.RequestID},
		{"trace_id", c.TraceID},
		{"user_id", c.UserID},
		{"admin_id", c.AdminID},
		{"mcp_session_id", c.MCPSessionID},
		{"client_ip", c.ClientIP},
	}
}

func (c Correlation) attrs() []any {
	var out []any
	for _, f := range c.fields() {
		if f[1] != "" {
			out = append(out, f[0], f[1])
		}
	}
	return out
}

// merge overlays the non-empty fields of o.
func (c Correlation) merge(o Correlation) Correlation {
	pick := func(dst *string, src string) {
		if src = strings.TrimSpace(src); src != "" {
			*dst = src
		}
	}
	pick(&c.RequestID, o.RequestID)
	pick(&c.TraceID, o.TraceID)
	pick(&c.UserID, o.UserID)
	pick(&c.AdminID, o.AdminID)
	pick(&c.MCPSessionID, o.MCPSessionID)
	pick(&c.ClientIP, o.ClientIP)
	return c
}

var (
	mu    sync.RWMutex
	root  *slog.Logger
	level = new(slog.LevelVar)
)

// Init installs the JSON logger on stderr as the slog default. Later calls
// are no-ops.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		install(os.Stderr)
	}
}

func install(w io.Writer) {
	root = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if t, ok := a.Value.Any().(time.Time); ok && a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})).With("service", serviceName)
	slog.SetDefault(root)
}

func SetLevel(l slog.Level) { level.Set(l) }

// ParseLevel accepts debug, info, warn(ing) and error in any case. Anything
// else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// SetOutputForTests sends logs to w at debug level until the returned func
// is called.
func SetOutputForTests(w io.Writer) func() {
	mu.Lock()
	prev, prevLevel := root, level.Level()
	level.Set(slog.LevelDebug)
	install(w)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		level.Set(prevLevel)
		if prev == nil {
			install(os.Stderr)
			return
		}
		root = prev
		slog.SetDefault(root)
	}
}

func logger() *slog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l == nil {
		Init()
		mu.RLock()
		l = root
		mu.RUnlock()
	}
	return l
}

// Pkg is the logger for background work with no request context.
func Pkg(pkg string) *slog.Logger {
	return logger().With("pkg", pkg)
}

// From returns the logger carrying ctx's correlation fields.
func From(ctx context.Context) *slog.Logger {
	if attrs := CorrelationFromContext(ctx).attrs(); len(attrs) > 0 {
		return logger().With(attrs...)
	}
	return logger()
}

func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, CorrelationFromContext(ctx).merge(c))
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return WithCorrelation(ctx, Correlation{UserID: userID})
}

func WithAdminID(ctx context.Context, adminID string) context.Context {
	return WithCorrelation(ctx, Correlation{AdminID: adminID})
}

func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

func RequestIDFromContext(ctx context.Context) string {
	return CorrelationFromContext(ctx).RequestID
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}
