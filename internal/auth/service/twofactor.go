package service

import (
	"context"
	"errors"
	"time"

	"github.com/plecsi/reactom/internal/auth/models"
	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// enrollmentSkew is the verification window during enrollment. Tighter than
// login: the user just scanned the code, so their clock step is current.
const enrollmentSkew = 1

// SetupTwoFactor generates an enrollment secret and its scannable QR
// artifact. Nothing is written to the credential record until the secret is
// confirmed via VerifyTwoFactor.
func (s *Service) SetupTwoFactor(ctx context.Context, userID string) (*models.TwoFactorSetup, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "Not authenticated")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate secret")
	}

	uri := s.totp.ProvisionURI(secret, user.Username)
	qr, err := s.totp.QRDataURL(uri)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render QR code")
	}

	return &models.TwoFactorSetup{
		SecretBase32: secret,
		QRDataURL:    qr,
	}, nil
}

// VerifyTwoFactor checks a code against a just-generated secret and, on
// success, activates 2FA on the credential record. On failure the record is
// left untouched and the caller must restart setup with a fresh secret.
func (s *Service) VerifyTwoFactor(ctx context.Context, userID, secret, code string) error {
	if userID == "" || secret == "" || code == "" {
		return dErrors.New(dErrors.CodeBadRequest, "Missing")
	}

	ok, err := s.totp.Verify(secret, code, time.Now(), enrollmentSkew)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "Invalid token")
	}
	if !ok {
		return dErrors.New(dErrors.CodeBadRequest, "Invalid token")
	}

	if err := s.users.SetTwoFactor(ctx, userID, true, secret); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeBadRequest, "Unknown user")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate two-factor")
	}

	s.logger.InfoContext(ctx, "two-factor enabled", "user_id", userID)
	return nil
}
