package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/notifier"
	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/pkg/fieldcrypt"
	"github.com/shepherd-cms/identity/pkg/password"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = 1 * time.Hour
	notifyTimeout        = 5 * time.Second

	// Identical acknowledgments whether or not the email exists, so the
	// endpoints cannot be used to enumerate accounts.
	forgotPasswordAck     = "If an account exists for that email, a password reset link has been sent."
	resendVerificationAck = "If an unverified account exists for that email, a new verification link has been sent."
)

// RegistrationService drives self-registration, email verification, password
// recovery, and administrator approval.
type RegistrationService struct {
	users    UserStore
	tokens   TokenStore
	notifier notifier.Notifier
	cipher   *fieldcrypt.Cipher
	log      zerolog.Logger
}

// NewRegistrationService creates a new registration service.
func NewRegistrationService(
	users UserStore,
	tokens TokenStore,
	n notifier.Notifier,
	cipher *fieldcrypt.Cipher,
	log zerolog.Logger,
) *RegistrationService {
	return &RegistrationService{
		users:    users,
		tokens:   tokens,
		notifier: n,
		cipher:   cipher,
		log:      log,
	}
}

// RegisterRequest carries a self-registration submission.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// RegisterResponse acknowledges a registration. The verification token is
// never returned; it travels only through the notifier.
type RegisterResponse struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// Register creates a PENDING, unverified account, dispatches the
// verification email to the registrant and an alert to administrators.
// Self-registered accounts start as VOLUNTEER; administrators raise roles
// after approval.
func (s *RegistrationService) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := password.Hash(req.Password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	verifyToken, err := generateToken()
	if err != nil {
		return nil, err
	}
	verifyExp := time.Now().Add(verificationTokenTTL)

	user := &repository.User{
		Email:                  req.Email,
		PasswordHash:           hash,
		FirstName:              req.FirstName,
		LastName:               req.LastName,
		Role:                   repository.RoleVolunteer,
		Status:                 repository.StatusPending,
		EmailVerified:          false,
		EmailVerificationToken: &verifyToken,
		EmailVerificationExp:   &verifyExp,
	}

	if req.Phone != "" {
		encrypted, err := s.cipher.Encrypt(req.Phone)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone: %w", err)
		}
		user.Phone = &encrypted
	}

	if err := s.users.Create(ctx, user); err != nil {
		// The pre-check above races with concurrent registrations; the
		// store's unique constraint is the authority.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	s.dispatch(func(ctx context.Context) error {
		return s.notifier.SendVerificationEmail(ctx, user.Email, verifyToken)
	})
	s.dispatch(func(ctx context.Context) error {
		return s.notifier.SendNewRegistrationAlert(ctx, user.Email, req.FirstName+" "+req.LastName)
	})

	s.log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Registration created")

	return &RegisterResponse{
		UserID:  user.ID,
		Message: "Registration received. Please verify your email address.",
	}, nil
}

// VerifyEmail consumes a verification token. The token is single-use: it is
// cleared the moment it is consumed, so a second call with the same token
// fails with ErrInvalidToken. Status is not changed here; approval is a
// separate administrator action.
func (s *RegistrationService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.users.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if user.EmailVerificationExp == nil || time.Now().After(*user.EmailVerificationExp) {
		return ErrInvalidToken
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}

	if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
		return err
	}

	s.log.Info().Str("user_id", user.ID).Msg("Email verified")
	return nil
}

// ResendVerification issues a fresh verification token for an unverified
// account, overwriting the outstanding one, and dispatches a new email. The
// acknowledgment is identical whether the account is missing, verified, or
// pending, mirroring ForgotPassword.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Debug().Str("email", email).Msg("Verification resend requested for unknown email")
			return resendVerificationAck, nil
		}
		return "", err
	}
	if user.EmailVerified {
		return resendVerificationAck, nil
	}

	verifyToken, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.users.SetVerificationToken(ctx, user.ID, verifyToken, time.Now().Add(verificationTokenTTL)); err != nil {
		return "", err
	}

	s.dispatch(func(ctx context.Context) error {
		return s.notifier.SendVerificationEmail(ctx, user.Email, verifyToken)
	})

	s.log.Info().Str("user_id", user.ID).Msg("Verification token reissued")
	return resendVerificationAck, nil
}

// ForgotPassword always returns the same acknowledgment. When the account
// exists, a reset token is stored (overwriting any outstanding one) and the
// reset email dispatched.
func (s *RegistrationService) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Debug().Str("email", email).Msg("Password reset requested for unknown email")
			return forgotPasswordAck, nil
		}
		return "", err
	}

	resetToken, err := generateToken()
	if err != nil {
		return "", err
	}

	if err := s.users.SetResetToken(ctx, user.ID, resetToken, time.Now().Add(resetTokenTTL)); err != nil {
		return "", err
	}

	s.dispatch(func(ctx context.Context) error {
		return s.notifier.SendPasswordResetEmail(ctx, user.Email, resetToken)
	})

	s.log.Info().Str("user_id", user.ID).Msg("Password reset token issued")
	return forgotPasswordAck, nil
}

// ResetPassword consumes a reset token, replaces the password, and deletes
// every refresh token for the account so stolen sessions do not survive the
// reset.
func (s *RegistrationService) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := s.users.GetByResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if user.PasswordResetExp == nil || time.Now().After(*user.PasswordResetExp) {
		return ErrInvalidToken
	}

	hash, err := password.Hash(newPassword, nil)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.ResetPassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if err := s.tokens.DeleteAllForUser(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to invalidate refresh tokens after reset")
	}

	s.log.Info().Str("user_id", user.ID).Msg("Password reset completed")
	return nil
}

// Approve moves a PENDING account to ACTIVE. The transition is gated on
// email verification and is not reversed by this subsystem.
func (s *RegistrationService) Approve(ctx context.Context, userID string) (*repository.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Status != repository.StatusPending {
		return nil, ErrNotPending
	}
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	if err := s.users.UpdateStatus(ctx, userID, repository.StatusActive); err != nil {
		return nil, err
	}
	user.Status = repository.StatusActive

	s.dispatch(func(ctx context.Context) error {
		return s.notifier.SendAccountApprovedEmail(ctx, user.Email, user.FirstName)
	})

	s.log.Info().Str("user_id", userID).Msg("Account approved")
	return user, nil
}

// dispatch runs a notification off the request path with a bounded timeout.
// Dispatch failures are logged and never fail the primary operation.
func (s *RegistrationService) dispatch(send func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.log.Error().Err(err).Msg("Notification dispatch failed")
		}
	}()
}

// generateToken returns a 64-character hex token from 32 bytes of
// cryptographically strong randomness.
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
