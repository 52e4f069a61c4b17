package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/plecsi/reactom/internal/auth/models"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// Register creates a credential record with a bcrypt password hash. 2FA
// starts disabled; enrollment is a separate flow.
func (s *Service) Register(ctx context.Context, username, name, password string) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "username already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, nil
}

// ChangePassword rehashes and stores a new password for the user.
func (s *Service) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if newPassword == "" {
		return dErrors.New(dErrors.CodeBadRequest, "password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	if err := s.users.SetPassword(ctx, userID, string(hash)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeBadRequest, "Unknown user")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store password")
	}
	return nil
}
