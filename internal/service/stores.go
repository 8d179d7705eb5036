package service

import (
	"context"
	"time"

	"github.com/shepherd-cms/identity/internal/repository"
)

// UserStore is the slice of the credential store the services depend on.
// Implemented by repository.UserRepository; tests substitute in-memory fakes.
type UserStore interface {
	Create(ctx context.Context, user *repository.User) error
	GetByID(ctx context.Context, id string) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*repository.User, error)
	GetByResetToken(ctx context.Context, token string) (*repository.User, error)
	List(ctx context.Context, status repository.Status, limit, offset int) ([]*repository.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, id, passwordHash string) error
	SetMFASecret(ctx context.Context, id, secret string) error
	EnableMFA(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status repository.Status) error
	UpdateLastLogin(ctx context.Context, id string) error
}

// TokenStore persists refresh tokens. Replace must be atomic: superseding
// the old record and installing the new one happens as one step, keeping the
// "at most one active refresh token per user" invariant under concurrency.
type TokenStore interface {
	Replace(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetByHash(ctx context.Context, tokenHash string) (*repository.RefreshToken, error)
	Delete(ctx context.Context, userID, tokenHash string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}
