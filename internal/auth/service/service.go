package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/internal/auth/store/lockout"
	"github.com/plecsi/reactom/internal/auth/totp"
	jwttoken "github.com/plecsi/reactom/internal/jwt_token"
)

// UserStore persists credential records.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	SetTwoFactor(ctx context.Context, id string, enabled bool, secret string) error
	SetPassword(ctx context.Context, id string, passwordHash string) error
}

// RefreshTokenStore tracks issued refresh tokens for rotation and
// revocation.
type RefreshTokenStore interface {
	Create(ctx context.Context, record *models.RefreshTokenRecord) error
	Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error)
	FindCSRF(ctx context.Context, jti string) (string, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service is the credential verifier and session authority: it checks
// passwords and second factors, issues and rotates token pairs, and runs
// two-factor enrollment. Transport concerns stay in the HTTP layer.
type Service struct {
	users    UserStore
	refresh  RefreshTokenStore
	tokens   *jwttoken.Service
	totp     *totp.Manager
	lockout  *lockout.Limiter
	logger   *slog.Logger
	totpSkew int

	// dummyHash absorbs a bcrypt comparison for unknown usernames so the
	// response time does not reveal whether the account exists.
	dummyHash []byte
}

// New constructs the auth service.
func New(
	users UserStore,
	refresh RefreshTokenStore,
	tokens *jwttoken.Service,
	totpManager *totp.Manager,
	limiter *lockout.Limiter,
	logger *slog.Logger,
	totpSkew int,
) *Service {
	dummy, err := bcrypt.GenerateFromPassword([]byte("reactom-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only errors on oversized input; this input is fixed.
		panic(err)
	}
	return &Service{
		users:     users,
		refresh:   refresh,
		tokens:    tokens,
		totp:      totpManager,
		lockout:   limiter,
		logger:    logger,
		totpSkew:  totpSkew,
		dummyHash: dummy,
	}
}
