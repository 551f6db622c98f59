// Package auth hosts the admin authentication surface: password login,
// TOTP verification, token issuance and session revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAdminNotFound is returned when no admin matches the lookup.
var ErrAdminNotFound = errors.New("auth: admin not found")

// Admin is a row in admin_users.
type Admin struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TOTPSecret   string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store reads and writes admin accounts.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetByEmail(ctx context.Context, email string) (Admin, error) {
	const q = `
		SELECT id, email, password_hash, totp_secret, created_at
		FROM admin_users
		WHERE lower(email) = lower($1)`
	return s.scanOne(s.pool.QueryRow(ctx, q, email))
}

func (s *Store) GetByID(ctx context.Context, id string) (Admin, error) {
	const q = `
		SELECT id, email, password_hash, totp_secret, created_at
		FROM admin_users
		WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, q, id))
}

// Create inserts a new admin account. Used by the bootstrap tool.
func (s *Store) Create(ctx context.Context, a Admin) error {
	const q = `
		INSERT INTO admin_users (id, email, password_hash, totp_secret, created_at)
		VALUES ($1, lower($2), $3, $4, now())`
	if _, err := s.pool.Exec(ctx, q, a.ID, a.Email, a.PasswordHash, a.TOTPSecret); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

func (s *Store) scanOne(row pgx.Row) (Admin, error) {
	var a Admin
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.TOTPSecret, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Admin{}, ErrAdminNotFound
	}
	if err != nil {
		return Admin{}, fmt.Errorf("load admin: %w", err)
	}
	return a, nil
}
