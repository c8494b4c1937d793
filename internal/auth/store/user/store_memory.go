package user

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"careadmin/pkg/platform/sentinel"
)

// User is an administrator account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string
	Email        string
	Name         string
	Role         string
	PasswordHash string
}

// InMemoryStore holds users in process memory, keyed by lowercased email.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func New() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]*User)}
}

func (s *InMemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.users[key]; exists {
		return fmt.Errorf("user %s: %w", u.Email, sentinel.ErrConflict)
	}
	copied := *u
	s.users[key] = &copied
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, sentinel.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}
