package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/pkg/sentinel"
)

// PostgresStore persists credential records in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id                 TEXT PRIMARY KEY,
//	    username           TEXT NOT NULL UNIQUE,
//	    name               TEXT NOT NULL DEFAULT '',
//	    password_hash      TEXT NOT NULL,
//	    two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
//	    totp_secret        TEXT NOT NULL DEFAULT '',
//	    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (id, username, name, password_hash, two_factor_enabled, totp_secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		u.ID, strings.ToLower(strings.TrimSpace(u.Username)), u.Name,
		u.PasswordHash, u.TwoFactorEnabled, u.TOTPSecret, u.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("username %q: %w", u.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findOne(ctx, `SELECT id, username, name, password_hash, two_factor_enabled, totp_secret, created_at
		FROM users WHERE username = $1`, strings.ToLower(strings.TrimSpace(username)))
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.findOne(ctx, `SELECT id, username, name, password_hash, two_factor_enabled, totp_secret, created_at
		FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Name, &u.PasswordHash,
		&u.TwoFactorEnabled, &u.TOTPSecret, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetTwoFactor(ctx context.Context, id string, enabled bool, secret string) error {
	if !enabled {
		secret = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET two_factor_enabled = $2, totp_secret = $3 WHERE id = $1`,
		id, enabled, secret,
	)
	if err != nil {
		return fmt.Errorf("set two factor: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetPassword(ctx context.Context, id string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	return nil
}
