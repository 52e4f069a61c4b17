package service

import (
	"context"
	"errors"
	"time"

	"github.com/plecsi/reactom/internal/auth/models"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// Refresh re-establishes a session from a refresh token. The presented token
// is consumed and a new pair is issued (rotation); replaying a consumed
// token revokes every outstanding token for the user, since a replay means
// the token leaked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.LoginResult, error) {
	if refreshToken == "" {
		return nil, dErrors.New(dErrors.CodeNoRefreshToken, "No refresh token")
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record, err := s.refresh.Consume(ctx, claims.ID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) && record != nil {
			s.logger.WarnContext(ctx, "refresh token replay detected, revoking user sessions",
				"user_id", record.UserID,
			)
			if revokeErr := s.refresh.DeleteByUserID(ctx, record.UserID); revokeErr != nil && !errors.Is(revokeErr, sentinel.ErrNotFound) {
				s.logger.ErrorContext(ctx, "failed to revoke user sessions after replay", "error", revokeErr)
			}
		}
		return nil, dErrors.Wrap(err, dErrors.CodeTokenInvalid, "Invalid refresh token")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTokenInvalid, "Invalid refresh token")
	}

	return s.issueSession(ctx, user, now)
}

// Logout revokes the user's refresh tokens, best-effort. It never returns an
// error: cookie clearing at the transport layer must proceed no matter what
// happens here, including an absent or invalid token.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return
	}
	if err := s.refresh.DeleteByUserID(ctx, claims.UserID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "best-effort logout revocation failed",
			"user_id", claims.UserID,
			"error", err,
		)
	}
}
