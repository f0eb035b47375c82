// Package authsvc implements the sync engine's AuthService contract
// (apiclient.AuthService) against an OAuth2 client-credentials token
// source. Concurrent TryRefresh calls from the dispatch loop are
// serialized with singleflight so a 401 storm triggers exactly one
// token request instead of one per stalled op, following the same
// "one real login call backing N concurrent requests" shape the
// teacher uses for its rate limiter and session manager. The resulting
// token pair is persisted through the secure key/value store contract
// so a restarted runner doesn't force a fresh login on every boot.
package authsvc

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
	"github.com/aurafall/syncengine/pkg/syncengine/metrics"
)

// tokenKey is the single record stored in the secure tokens box — one
// client-credentials grant per process, so there is nothing to key by.
const tokenKey = "oauth_token"

// Service is an OAuth2-backed implementation of apiclient.AuthService.
type Service struct {
	conf   clientcredentials.Config
	tokens kvstore.Box
	group  singleflight.Group
	mu     sync.RWMutex
	token  *oauth2.Token
}

// New creates an auth service from client-credentials configuration,
// opening the secure tokens box on backend and loading any token
// persisted by a previous run.
func New(ctx context.Context, backend kvstore.Store, clientID, clientSecret, tokenURL string, scopes []string) (*Service, error) {
	tokens, err := backend.Box(ctx, kvstore.BoxSecureTokens)
	if err != nil {
		return nil, fmt.Errorf("authsvc: open secure tokens box: %w", err)
	}

	s := &Service{
		conf: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		tokens: tokens,
	}

	var stored oauth2.Token
	ok, err := tokens.Get(ctx, tokenKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("authsvc: load stored token: %w", err)
	}
	if ok {
		s.token = &stored
	}
	return s, nil
}

// GetAccessToken returns the cached token, if any. It never blocks on the
// network — a missing or expired token is surfaced as ok=false so the
// caller (apiclient) falls through to an unauthenticated request and lets
// the server's 401 drive a TryRefresh.
func (s *Service) GetAccessToken(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil || !s.token.Valid() {
		return "", false
	}
	return s.token.AccessToken, true
}

// TryRefresh fetches a new token from the OAuth2 token endpoint and
// persists it to the secure tokens box. Concurrent callers collapse onto
// a single in-flight request.
func (s *Service) TryRefresh(ctx context.Context) (bool, error) {
	_, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		tok, err := s.conf.Token(ctx)
		if err != nil {
			metrics.AuthRefreshTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("authsvc: refreshing token: %w", err)
		}
		if err := s.tokens.Put(ctx, tokenKey, tok); err != nil {
			metrics.AuthRefreshTotal.WithLabelValues("failure").Inc()
			return nil, fmt.Errorf("authsvc: persisting token: %w", err)
		}
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		metrics.AuthRefreshTotal.WithLabelValues("success").Inc()
		return tok, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
