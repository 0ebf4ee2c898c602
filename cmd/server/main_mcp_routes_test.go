package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/shastra/internal/auth"
)

func TestMountMCPRoute_OnlyStreamableMethodsReachHandler(t *testing.T) {
	mux := http.NewServeMux()
	seen := map[string]int{}
	mountMCPRoute(mux, "/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.Method]++
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))
		require.Equal(t, http.StatusAccepted, rec.Code, method)
		require.Equal(t, 1, seen[method], method)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/mcp", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Zero(t, seen[http.MethodPut])
}

func TestMCPRoute_SignedInGetIsRefused(t *testing.T) {
	cfg := mockConfig(t)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	issuer, err := auth.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.BaseURL, time.Hour)
	require.NoError(t, err)
	token, _, err := issuer.Issue("user-arjuna", "arjuna@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Contains(t, rec.Header().Get("Allow"), "POST")
}
