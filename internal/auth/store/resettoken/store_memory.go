package resettoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"careadmin/pkg/platform/sentinel"
)

// Token is a single-use password-reset token. These are the short-lived
// records the retention job prunes.
type Token struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// InMemoryStore keeps reset tokens in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func New() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]Token)}
}

func (s *InMemoryStore) Create(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.Token]; exists {
		return fmt.Errorf("reset token: %w", sentinel.ErrConflict)
	}
	s.tokens[t.Token] = t
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, token string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return Token{}, fmt.Errorf("reset token: %w", sentinel.ErrNotFound)
	}
	return t, nil
}

// DeleteOlderThan removes tokens created before the cutoff and reports how
// many were removed.
func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, t := range s.tokens {
		if t.CreatedAt.Before(cutoff) {
			delete(s.tokens, key)
			deleted++
		}
	}
	return deleted, nil
}
