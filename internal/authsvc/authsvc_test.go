package authsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aurafall/syncengine/internal/kvstore/memstore"
)

func tokenServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
}

func TestGetAccessTokenAbsentReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()

	svc, err := New(ctx, backend, "client", "secret", "https://example.invalid/token", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := svc.GetAccessToken(ctx); ok {
		t.Fatal("expected no cached token before any refresh")
	}
}

func TestTryRefreshCachesAndPersistsToken(t *testing.T) {
	ctx := context.Background()
	srv := tokenServer(t, "abc123")
	defer srv.Close()

	backend := memstore.New()
	svc, err := New(ctx, backend, "client", "secret", srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok, err := svc.TryRefresh(ctx)
	if err != nil {
		t.Fatalf("TryRefresh: %v", err)
	}
	if !ok {
		t.Fatal("expected TryRefresh to report success")
	}

	tok, ok := svc.GetAccessToken(ctx)
	if !ok || tok != "abc123" {
		t.Fatalf("GetAccessToken = %q, %v; want abc123, true", tok, ok)
	}

	// A fresh Service opened against the same backend should pick up the
	// persisted token without hitting the token endpoint again.
	restarted, err := New(ctx, backend, "client", "secret", srv.URL, nil)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	tok, ok = restarted.GetAccessToken(ctx)
	if !ok || tok != "abc123" {
		t.Fatalf("restarted GetAccessToken = %q, %v; want abc123, true", tok, ok)
	}
}

func TestTryRefreshConcurrentCallsCollapse(t *testing.T) {
	ctx := context.Background()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "shared",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	backend := memstore.New()
	svc, err := New(ctx, backend, "client", "secret", srv.URL, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := svc.TryRefresh(ctx)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("TryRefresh: %v", err)
		}
	}

	if hits == 0 {
		t.Fatal("expected at least one token request")
	}
}
