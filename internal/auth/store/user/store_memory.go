// Package user persists credential records.
//
// Error contract: all store methods return pkg/sentinel errors for factual
// failures (ErrNotFound, ErrConflict) and wrapped infrastructure errors
// otherwise. Services translate these into domain errors.
package user

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// InMemoryStore keeps credential records in memory for tests and dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byLogin map[string]string // normalized username -> id
}

// NewMemory constructs an empty in-memory user store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*models.User),
		byLogin: make(map[string]string),
	}
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *InMemoryStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(u.Username)
	if _, exists := s.byLogin[key]; exists {
		return fmt.Errorf("username %q: %w", u.Username, sentinel.ErrConflict)
	}
	clone := *u
	s.byID[u.ID] = &clone
	s.byLogin[key] = u.ID
	return nil
}

func (s *InMemoryStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLogin[normalize(username)]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	clone := *s.byID[id]
	return &clone, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	clone := *u
	return &clone, nil
}

// SetTwoFactor activates or clears 2FA on a record. The secret is only
// stored when enabling; disabling wipes it.
func (s *InMemoryStore) SetTwoFactor(_ context.Context, id string, enabled bool, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	u.TwoFactorEnabled = enabled
	if enabled {
		u.TOTPSecret = secret
	} else {
		u.TOTPSecret = ""
	}
	return nil
}

func (s *InMemoryStore) SetPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	return nil
}
