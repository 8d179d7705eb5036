package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// TokenRepository handles refresh token persistence. The invariant it
// maintains is "at most one valid refresh token per user": the table is
// unique on user_id and Replace is an upsert keyed on the user, so two
// concurrent issues serialize on the row and cannot both leave a live token.
type TokenRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(db *pgxpool.Pool, log zerolog.Logger) *TokenRepository {
	return &TokenRepository{db: db, log: log}
}

// HashToken returns the hex-encoded SHA-256 digest stored in place of the
// raw refresh token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Replace atomically supersedes the user's refresh token with a new record
// holding the given token hash. A delete-then-insert transaction is not
// enough here: under Read Committed, a concurrent transaction's freshly
// committed row is invisible to an in-flight DELETE scan, so two racing
// issues could each leave a row. The upsert takes a row lock on the user's
// single row instead, so the last writer wins outright.
func (r *TokenRepository) Replace(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("failed to replace refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a refresh token record by its hash.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	token := &RefreshToken{}

	query := `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`

	err := r.db.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// Delete removes the refresh token matching the hash for the user. Deleting
// zero rows is not an error; logout is idempotent.
func (r *TokenRepository) Delete(ctx context.Context, userID, tokenHash string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`

	_, err := r.db.Exec(ctx, query, userID, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every refresh token for the user. Used when a
// password reset invalidates outstanding sessions.
func (r *TokenRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes stale rows. Expiry is checked at validation time;
// this exists for storage hygiene only.
func (r *TokenRepository) DeleteExpired(ctx context.Context) error {
	query := `DELETE FROM refresh_tokens WHERE expires_at < NOW()`

	_, err := r.db.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return nil
}

// CountForUser reports how many refresh token rows exist for the user.
func (r *TokenRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count refresh tokens: %w", err)
	}
	return n, nil
}
