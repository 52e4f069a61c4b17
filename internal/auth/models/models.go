package models

import (
	"fmt"
	"strings"
	"time"
)

// User is the credential record tracked by the gateway. Storage lives behind
// the user store interface; this struct carries everything the verifier
// needs: the password hash, the 2FA flag, and the TOTP secret once enrolled.
type User struct {
	ID               string
	Username         string
	Name             string
	PasswordHash     string
	TwoFactorEnabled bool
	TOTPSecret       string // base32, empty until 2FA is activated
	CreatedAt        time.Time
}

// Summary is the client-facing projection of a user. It never includes the
// password hash or TOTP secret.
type Summary struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// Summary builds the safe projection of u.
func (u *User) Summary() Summary {
	return Summary{
		ID:               u.ID,
		Name:             u.Name,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

// RefreshTokenRecord tracks a refresh token issued to a user. Tokens are
// rotated on every silent refresh: consuming a record marks it used, and a
// replay of a used token is rejected.
type RefreshTokenRecord struct {
	JTI       string
	UserID    string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// ValidateForConsume reports whether the record may be consumed at now.
func (r *RefreshTokenRecord) ValidateForConsume(now time.Time) error {
	if r.Used {
		return fmt.Errorf("refresh token already used")
	}
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now) {
		return fmt.Errorf("refresh token expired")
	}
	return nil
}

// LoginRequest carries a credential submission. TOTP is optional; when the
// account has 2FA enabled and TOTP is empty the verifier answers with
// TwoFactorRequired instead of tokens.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// Normalize trims and lowercases the username the way the store indexes it.
func (r *LoginRequest) Normalize() {
	r.Username = strings.ToLower(strings.TrimSpace(r.Username))
	r.TOTP = strings.TrimSpace(r.TOTP)
}

// LoginResult is the outcome of a successful (or partially successful)
// credential verification.
type LoginResult struct {
	// TwoFactorRequired means the password step passed but a TOTP code is
	// needed. No tokens are issued in this state.
	TwoFactorRequired bool

	User         Summary
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// TwoFactorSetup is the enrollment artifact: the shared secret and a
// scannable QR image. Nothing is persisted until the secret is confirmed.
type TwoFactorSetup struct {
	SecretBase32 string `json:"secretBase32"`
	QRDataURL    string `json:"qrDataUrl"`
}
