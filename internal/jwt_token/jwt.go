package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "github.com/plecsi/reactom/pkg/domain-errors"
)

// Claims carried by both token classes. Only the user ID is asserted; token
// validity is purely signature plus expiry.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Service signs and verifies the two token classes. Access and refresh
// tokens use distinct keys so a refresh token can never pass as an access
// token or vice versa.
type Service struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

// NewService builds a token service. The two signing keys must differ.
func NewService(accessKey, refreshKey string, accessTTL, refreshTTL time.Duration, issuer string) *Service {
	return &Service{
		accessKey:  []byte(accessKey),
		refreshKey: []byte(refreshKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     issuer,
	}
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a short-lived access token for userID.
func (s *Service) IssueAccess(userID string) (token string, jti string, err error) {
	return s.issue(userID, s.accessKey, s.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for userID.
func (s *Service) IssueRefresh(userID string) (token string, jti string, err error) {
	return s.issue(userID, s.refreshKey, s.refreshTTL)
}

func (s *Service) issue(userID string, key []byte, ttl time.Duration) (string, string, error) {
	now := time.Now()
	jti := uuid.NewString()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        jti,
		},
	})

	signed, err := newToken.SignedString(key)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// VerifyAccess validates an access token and returns the user it asserts.
// Implements middleware.AccessValidator.
func (s *Service) VerifyAccess(token string) (string, error) {
	claims, err := s.verify(token, s.accessKey)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *Service) VerifyRefresh(token string) (*Claims, error) {
	return s.verify(token, s.refreshKey)
}

// InspectRefresh returns the JTI of a valid refresh token without any store
// interaction. Implements middleware.RefreshInspector.
func (s *Service) InspectRefresh(token string) (string, error) {
	claims, err := s.verify(token, s.refreshKey)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

func (s *Service) verify(tokenString string, key []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return key, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token claims")
	}

	return claims, nil
}
