// Package mcp exposes the scripture tools over the Model Context Protocol.
package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kuitang/shastra/internal/auth"
)

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// MCPErrorResponse returns a JSON-RPC error envelope.
func MCPErrorResponse(id any, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

// WWWAuthenticate is the challenge sent with unauthenticated MCP requests.
func WWWAuthenticate(realm, errorDesc string) string {
	return fmt.Sprintf(`Bearer realm=%q, error="invalid_token", error_description=%q`, realm, errorDesc)
}

// RequireUser rejects requests with no authenticated user. It expects to run
// inside auth.Middleware.OptionalAuth so token errors surface here as a
// JSON-RPC error instead of a plain 401 body.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || auth.IsAuthenticated(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		const desc = "sign in to use scripture tools"
		w.Header().Set("WWW-Authenticate", WWWAuthenticate(serverName, desc))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(MCPErrorResponse(nil, ErrorCodeInvalidRequest, "authentication required: "+desc))
	})
}
