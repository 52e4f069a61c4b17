// Package refreshtoken tracks issued refresh tokens so rotation can detect
// replay and logout can revoke a user's outstanding sessions.
//
// Error contract: methods return pkg/sentinel errors for factual failures
// (ErrNotFound, ErrExpired, ErrAlreadyUsed) and wrapped infrastructure
// errors otherwise.
package refreshtoken

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// translateConsumeError converts domain validation errors into sentinel
// errors per the store boundary contract.
func translateConsumeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "expired"):
		return fmt.Errorf("%s: %w", msg, sentinel.ErrExpired)
	case strings.Contains(msg, "already used"):
		return fmt.Errorf("%s: %w", msg, sentinel.ErrAlreadyUsed)
	default:
		return fmt.Errorf("%s: %w", msg, sentinel.ErrInvalidState)
	}
}

// InMemoryStore keeps refresh token records in memory for tests and dev.
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshTokenRecord // keyed by JTI
}

// NewMemory constructs an empty in-memory refresh token store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[string]*models.RefreshTokenRecord)}
}

func (s *InMemoryStore) Create(_ context.Context, record *models.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.tokens[record.JTI] = &clone
	return nil
}

// Consume marks the record as used if it is still valid. The record is
// returned even on ErrAlreadyUsed to enable replay detection upstream.
func (s *InMemoryStore) Consume(_ context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[jti]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}

	if err := record.ValidateForConsume(now); err != nil {
		clone := *record
		return &clone, translateConsumeError(err)
	}

	record.Used = true
	clone := *record
	return &clone, nil
}

// FindCSRF returns the CSRF token bound to a live (unconsumed) refresh
// record. A rotated-away record no longer answers.
func (s *InMemoryStore) FindCSRF(_ context.Context, jti string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[jti]
	if !ok || record.Used {
		return "", fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	return record.CSRFToken, nil
}

// DeleteByUserID drops every record issued to a user. Returning ErrNotFound
// when nothing matched lets callers log it, but logout treats it as success.
func (s *InMemoryStore) DeleteByUserID(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for jti, record := range s.tokens {
		if record.UserID == userID {
			delete(s.tokens, jti)
			found = true
		}
	}
	if !found {
		return sentinel.ErrNotFound
	}
	return nil
}
