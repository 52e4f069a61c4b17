package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/plecsi/reactom/internal/auth/models"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

// errInvalidCredentials is shared by the unknown-user and wrong-password
// paths so responses never hint which check failed.
func errInvalidCredentials() error {
	return dErrors.New(dErrors.CodeInvalidCredentials, "Invalid credentials")
}

// Login runs the full credential verification: lockout check, password
// comparison, and the optional second factor. When the account has 2FA
// enabled and no code was supplied, the result carries TwoFactorRequired
// and no tokens.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResult, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if req.Username == "" || req.Password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "username and password are required")
	}

	now := time.Now()
	if locked, until := s.lockout.IsLocked(ctx, req.Username, now); locked {
		s.logger.WarnContext(ctx, "login rejected by lockout",
			"username", req.Username,
			"locked_until", until,
		)
		return nil, dErrors.New(dErrors.CodeTooManyRequests, "Too many failed attempts")
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		// Burn a comparison so unknown users cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		s.lockout.RecordFailure(ctx, req.Username, now)
		return nil, errInvalidCredentials()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if s.lockout.RecordFailure(ctx, req.Username, now) {
			s.logger.WarnContext(ctx, "account locked after repeated failures", "username", req.Username)
		}
		return nil, errInvalidCredentials()
	}

	if user.TwoFactorEnabled && req.TOTP == "" {
		// Password step passed; the caller must come back with a code.
		return &models.LoginResult{TwoFactorRequired: true}, nil
	}

	if user.TwoFactorEnabled {
		ok, err := s.totp.Verify(user.TOTPSecret, req.TOTP, now, s.totpSkew)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "second factor verification failed")
		}
		if !ok {
			s.lockout.RecordFailure(ctx, req.Username, now)
			return nil, dErrors.New(dErrors.CodeInvalidSecondFactor, "Invalid TOTP")
		}
	}

	s.lockout.Clear(ctx, req.Username)
	return s.issueSession(ctx, user, now)
}

// issueSession mints a fresh access/refresh pair plus CSRF token and records
// the refresh token for rotation tracking.
func (s *Service) issueSession(ctx context.Context, user *models.User, now time.Time) (*models.LoginResult, error) {
	accessToken, _, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue access token")
	}
	refreshToken, jti, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue refresh token")
	}

	csrfToken := uuid.NewString()
	record := &models.RefreshTokenRecord{
		JTI:       jti,
		UserID:    user.ID,
		CSRFToken: csrfToken,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record refresh token")
	}

	return &models.LoginResult{
		User:         user.Summary(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CSRFToken:    csrfToken,
	}, nil
}
