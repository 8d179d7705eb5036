package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/pkg/fieldcrypt"
	"github.com/shepherd-cms/identity/pkg/password"
	tokenpkg "github.com/shepherd-cms/identity/pkg/token"
	"github.com/shepherd-cms/identity/pkg/totp"
)

// AuthService orchestrates login, refresh, logout, password change, and the
// MFA enrollment gate.
type AuthService struct {
	users     UserStore
	tokens    TokenStore
	tokenMgr  *tokenpkg.Manager
	cipher    *fieldcrypt.Cipher
	mfaIssuer string
	log       zerolog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	users UserStore,
	tokens TokenStore,
	tokenMgr *tokenpkg.Manager,
	cipher *fieldcrypt.Cipher,
	mfaIssuer string,
	log zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		tokenMgr:  tokenMgr,
		cipher:    cipher,
		mfaIssuer: mfaIssuer,
		log:       log,
	}
}

// LoginRequest carries a credential submission.
type LoginRequest struct {
	Email    string
	Password string
	MFACode  string
}

// UserSummary is the minimal identity view returned to callers. It never
// carries hashes, secrets, or outstanding tokens.
type UserSummary struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	FirstName     string            `json:"firstName"`
	LastName      string            `json:"lastName"`
	Phone         string            `json:"phone,omitempty"`
	Role          repository.Role   `json:"role"`
	Status        repository.Status `json:"status"`
	EmailVerified bool              `json:"emailVerified"`
	MFAEnabled    bool              `json:"mfaEnabled"`
	LastLoginAt   *time.Time        `json:"lastLogin,omitempty"`
}

// LoginResponse is returned by Login and Refresh.
type LoginResponse struct {
	User         *UserSummary `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
}

// Login authenticates a credential submission and issues a token pair.
//
// Unknown account, inactive account, and wrong password all return
// ErrInvalidCredentials. A PENDING account that has verified its email may
// log in; the pending-mutation guard restricts what it can do afterwards.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn().Str("email", req.Email).Msg("Login attempt for unknown account")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Status == repository.StatusInactive {
		s.log.Warn().Str("user_id", user.ID).Msg("Login attempt for inactive account")
		return nil, ErrInvalidCredentials
	}

	ok, err := password.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("password verification error: %w", err)
	}
	if !ok {
		s.log.Warn().Str("user_id", user.ID).Msg("Invalid password")
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if user.MFAEnabled && user.MFASecret != nil {
		if req.MFACode == "" {
			return nil, ErrMFARequired
		}
		if !totp.Verify(*user.MFASecret, req.MFACode) {
			s.log.Warn().Str("user_id", user.ID).Msg("Invalid MFA code")
			return nil, ErrInvalidMFACode
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Msg("Login successful")

	return &LoginResponse{
		User:         s.summarize(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh validates a refresh token and rotates the pair. The token's
// signature and expiry are checked against the refresh secret, then the
// identity is re-fetched; rotation supersedes whatever record is stored
// (latest wins rather than an allow-list check against the persisted row).
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	claims, err := s.tokenMgr.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if user.Status == repository.StatusInactive {
		return nil, ErrInvalidToken
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		User:         s.summarize(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Logout deletes the matching refresh token record. Deleting zero rows is
// not an error.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) error {
	if err := s.tokens.Delete(ctx, userID, repository.HashToken(refreshToken)); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Msg("Logout successful")
	return nil
}

// ChangePassword re-hashes and stores the new password after proving the old
// one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := password.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := password.Hash(newPassword, nil)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	s.log.Info().Str("user_id", userID).Msg("Password changed")
	return nil
}

// Me returns the caller's identity summary.
func (s *AuthService) Me(ctx context.Context, userID string) (*UserSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(user), nil
}

// SetupMFA provisions a TOTP secret for the user and stores it unconfirmed.
func (s *AuthService) SetupMFA(ctx context.Context, userID string) (*totp.Enrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	enrollment, err := totp.Generate(s.mfaIssuer, user.Email)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetMFASecret(ctx, userID, enrollment.Secret); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", userID).Msg("MFA enrollment started")
	return enrollment, nil
}

// VerifyMFA confirms the enrollment by checking one code against the stored
// secret and enables MFA on success. On a bad code the secret stays in place
// so the user can retry.
func (s *AuthService) VerifyMFA(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFASecret == nil {
		return ErrMFANotSetUp
	}
	if !totp.Verify(*user.MFASecret, code) {
		return ErrInvalidMFACode
	}

	if err := s.users.EnableMFA(ctx, userID); err != nil {
		return err
	}

	s.log.Info().Str("user_id", userID).Msg("MFA enabled")
	return nil
}

// issueTokens signs a pair and atomically supersedes any persisted refresh
// token for the user.
func (s *AuthService) issueTokens(ctx context.Context, user *repository.User) (*tokenpkg.Pair, error) {
	pair, err := s.tokenMgr.Sign(user.ID, user.Email, string(user.Role), string(user.Status))
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	expiresAt := time.Now().Add(s.tokenMgr.RefreshTTL())
	if err := s.tokens.Replace(ctx, user.ID, repository.HashToken(pair.RefreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return pair, nil
}

// summarize builds the caller-facing view. A failed phone decryption is a
// data-quality event: the field is returned empty, never an error.
func (s *AuthService) summarize(user *repository.User) *UserSummary {
	summary := &UserSummary{
		ID:            user.ID,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Role:          user.Role,
		Status:        user.Status,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.MFAEnabled,
		LastLoginAt:   user.LastLoginAt,
	}
	if user.Phone != nil {
		phone, err := s.cipher.Decrypt(*user.Phone)
		if err != nil {
			s.log.Warn().Str("user_id", user.ID).Msg("Stored phone failed decryption, returning unset")
		} else {
			summary.Phone = phone
		}
	}
	return summary
}
