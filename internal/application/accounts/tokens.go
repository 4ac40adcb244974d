package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/xray-analyzer/internal/application"
)

const DefaultTokenTTL = 12 * time.Hour

type tokenEntry struct {
	userID  string
	expires time.Time
}

// TokenStore issues opaque bearer tokens for signed-in users.
type TokenStore struct {
	clock application.Clock
	ttl   time.Duration

	mu     sync.RWMutex
	tokens map[string]tokenEntry
}

func NewTokenStore(clock application.Clock, ttl time.Duration) *TokenStore {
	if clock == nil {
		clock = application.SystemClock{}
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{clock: clock, ttl: ttl, tokens: make(map[string]tokenEntry)}
}

// Issue returns a new token for userID and its expiry.
func (s *TokenStore) Issue(userID string) (string, time.Time) {
	token := uuid.New().String()
	expires := s.clock.Now().Add(s.ttl)

	s.mu.Lock()
	s.tokens[token] = tokenEntry{userID: userID, expires: expires}
	s.mu.Unlock()
	return token, expires
}

// Resolve returns the user behind token, if it is still valid.
func (s *TokenStore) Resolve(token string) (string, bool) {
	s.mu.RLock()
	e, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok || !s.clock.Now().Before(e.expires) {
		return "", false
	}
	return e.userID, true
}

func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Purge drops expired tokens.
func (s *TokenStore) Purge() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for t, e := range s.tokens {
		if !now.Before(e.expires) {
			delete(s.tokens, t)
			n++
		}
	}
	return n
}

// Run purges expired tokens every interval until ctx is done.
func (s *TokenStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Purge()
		}
	}
}
