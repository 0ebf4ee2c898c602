package mcp

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/shastra/internal/auth"
	"github.com/kuitang/shastra/internal/logutil"
)

const (
	serverName    = "shastra"
	serverVersion = "1.0.0"

	maxMCPBodyBytes           = 1 << 20
	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Server serves the scripture tools over Streamable HTTP. Every request gets
// its own MCP server bound to the authenticated user.
type Server struct {
	handler     *Handler
	httpHandler http.Handler
	debug       bool
}

// NewServer mounts handler's tools. With debug set, request and response
// bodies are logged (redacted and truncated).
func NewServer(handler *Handler, debug bool) *Server {
	s := &Server{handler: handler, debug: debug}
	s.httpHandler = mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return s.serverFor(auth.GetUserID(r.Context()))
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			// Each request is authenticated independently, so no session
			// state survives between calls.
			Stateless: true,
		},
	)
	return s
}

func (s *Server) serverFor(userID string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(server, tool, s.handler.createToolHandler(tool.Name, userID))
	}
	registerPrompts(server)
	return server
}

type mcpResponseLogger struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        []byte
	truncated   bool
}

func newMCPResponseLogger(w http.ResponseWriter) *mcpResponseLogger {
	return &mcpResponseLogger{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           make([]byte, 0, 512),
	}
}

func (w *mcpResponseLogger) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *mcpResponseLogger) Write(p []byte) (int, error) {
	w.wroteHeader = true
	if remaining := mcpDebugBodyLogLimitBytes - len(w.body); remaining > 0 {
		if len(p) <= remaining {
			w.body = append(w.body, p...)
		} else {
			w.body = append(w.body, p[:remaining]...)
			w.truncated = true
		}
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *mcpResponseLogger) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func formatMCPHeadersForLog(h http.Header) string {
	return logutil.FormatHeadersForLog(h)
}

// isASCII reports whether s is non-blank printable ASCII.
func isASCII(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func logValue(s string) string {
	if s == "" || isASCII(s) {
		return s
	}
	return "[non-ascii]"
}

// ServeHTTP implements the POST side of Streamable HTTP. Server-initiated
// streams are not offered, so GET is refused.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		http.Error(w, "SSE stream not supported; POST JSON-RPC messages instead", http.StatusMethodNotAllowed)
		return
	}

	var reqBody []byte
	if r.Body != nil && r.Method == http.MethodPost {
		var err error
		reqBody, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			log.Printf("[ERROR] MCP request body read failed: method=%s path=%s err=%v", r.Method, r.URL.Path, err)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	log.Printf("[MCP] %s %s user=%q ua=%q session=%q", r.Method, r.URL.Path,
		auth.GetUserID(r.Context()), logValue(r.UserAgent()), logValue(r.Header.Get("Mcp-Session-Id")))
	if s.debug {
		log.Printf("[MCP] debug headers: %s", formatMCPHeadersForLog(r.Header))
		if len(reqBody) > 0 {
			log.Printf("[MCP] debug request body: %s",
				logutil.FormatBodyForLog(r.Header.Get("Content-Type"), reqBody, mcpDebugBodyLogLimitBytes, false))
		}
	}

	resp := newMCPResponseLogger(w)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[ERROR] MCP handler panic: method=%s path=%s panic=%v", r.Method, r.URL.Path, rec)
				if !resp.wroteHeader {
					http.Error(resp, "Internal server error", http.StatusInternalServerError)
				}
			}
		}()
		s.httpHandler.ServeHTTP(resp, r)
	}()
	if !resp.wroteHeader {
		log.Printf("[ERROR] MCP handler wrote no response: method=%s path=%s", r.Method, r.URL.Path)
		http.Error(resp, "MCP handler returned without writing response", http.StatusInternalServerError)
	}

	contentType := resp.Header().Get("Content-Type")
	if s.debug {
		log.Printf("[MCP] debug response status=%d body=%s", resp.statusCode,
			logutil.FormatBodyForLog(contentType, resp.body, mcpDebugBodyLogLimitBytes, resp.truncated))
	}
	if resp.statusCode >= http.StatusBadRequest {
		log.Printf("[ERROR] MCP request failed: method=%s path=%s status=%d response=%q", r.Method, r.URL.Path, resp.statusCode,
			logutil.FormatBodyForLog(contentType, resp.body, mcpDebugBodyLogLimitBytes, resp.truncated))
	}
}
