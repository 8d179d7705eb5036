package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEmail is returned when an insert collides with the unique
// constraint on users.email.
var ErrDuplicateEmail = errors.New("email already in use")

const userColumns = `
	id, email, password_hash, first_name, last_name, phone, role, status,
	email_verified, email_verification_token, email_verification_expires_at,
	password_reset_token, password_reset_expires_at,
	mfa_secret, mfa_enabled, last_login_at, created_at, updated_at
`

// UserRepository handles user persistence.
type UserRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *pgxpool.Pool, log zerolog.Logger) *UserRepository {
	return &UserRepository{db: db, log: log}
}

// Create inserts a new user and fills in the generated id and timestamps.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			email, password_hash, first_name, last_name, phone, role, status,
			email_verified, email_verification_token, email_verification_expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.Role,
		user.Status,
		user.EmailVerified,
		user.EmailVerificationToken,
		user.EmailVerificationExp,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		// 23505 unique_violation: a concurrent insert won the email.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id = $1", id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email = $1", email)
}

// GetByVerificationToken retrieves a user by outstanding email verification token.
func (r *UserRepository) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	return r.getBy(ctx, "email_verification_token = $1", token)
}

// GetByResetToken retrieves a user by outstanding password reset token.
func (r *UserRepository) GetByResetToken(ctx context.Context, token string) (*User, error) {
	return r.getBy(ctx, "password_reset_token = $1", token)
}

func (r *UserRepository) getBy(ctx context.Context, where string, arg any) (*User, error) {
	user := &User{}

	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.Role,
		&user.Status,
		&user.EmailVerified,
		&user.EmailVerificationToken,
		&user.EmailVerificationExp,
		&user.PasswordResetToken,
		&user.PasswordResetExp,
		&user.MFASecret,
		&user.MFAEnabled,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// List retrieves users ordered by creation time, optionally filtered by status.
func (r *UserRepository) List(ctx context.Context, status Status, limit, offset int) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	args := []any{}

	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user := &User{}
		err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.PasswordHash,
			&user.FirstName,
			&user.LastName,
			&user.Phone,
			&user.Role,
			&user.Status,
			&user.EmailVerified,
			&user.EmailVerificationToken,
			&user.EmailVerificationExp,
			&user.PasswordResetToken,
			&user.PasswordResetExp,
			&user.MFASecret,
			&user.MFAEnabled,
			&user.LastLoginAt,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update password", query, id, passwordHash)
}

// SetVerificationToken overwrites any outstanding verification token. A fresh
// request implicitly invalidates the previous token.
func (r *UserRepository) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET email_verification_token = $2, email_verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "set verification token", query, id, token, expiresAt)
}

// MarkEmailVerified sets the verified flag and clears the consumed token.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, email_verification_token = NULL,
		    email_verification_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "mark email verified", query, id)
}

// SetResetToken overwrites any outstanding password reset token.
func (r *UserRepository) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token = $2, password_reset_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "set reset token", query, id, token, expiresAt)
}

// ResetPassword replaces the password hash and clears the consumed reset token.
func (r *UserRepository) ResetPassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_reset_token = NULL,
		    password_reset_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	return r.exec(ctx, "reset password", query, id, passwordHash)
}

// SetMFASecret stores an unconfirmed TOTP secret. MFAEnabled stays false
// until the user proves possession of the secret.
func (r *UserRepository) SetMFASecret(ctx context.Context, id, secret string) error {
	query := `UPDATE users SET mfa_secret = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "set mfa secret", query, id, secret)
}

// EnableMFA flips the enabled flag after a successful enrollment proof.
func (r *UserRepository) EnableMFA(ctx context.Context, id string) error {
	query := `UPDATE users SET mfa_enabled = TRUE, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "enable mfa", query, id)
}

// UpdateStatus sets the account status.
func (r *UserRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	query := `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update status", query, id, status)
}

// UpdateLastLogin stamps the last successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = $1`
	return r.exec(ctx, "update last login", query, id)
}

func (r *UserRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
