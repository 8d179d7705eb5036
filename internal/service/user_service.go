package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/pkg/fieldcrypt"
	"github.com/shepherd-cms/identity/pkg/password"
)

// UserService covers administrator-driven account management. It is thin
// persistence glue around the credential store; the security-sensitive flows
// live in AuthService and RegistrationService.
type UserService struct {
	users  UserStore
	cipher *fieldcrypt.Cipher
	log    zerolog.Logger
}

// NewUserService creates a new user service.
func NewUserService(users UserStore, cipher *fieldcrypt.Cipher, log zerolog.Logger) *UserService {
	return &UserService{users: users, cipher: cipher, log: log}
}

// CreateUserRequest carries an administrator-created account. Role and
// Status arrive pre-validated by the handler boundary.
type CreateUserRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      repository.Role
	Status    repository.Status
}

// CreateUser creates an account directly. Administrator-created accounts are
// pre-verified and default to ACTIVE.
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*repository.User, error) {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := password.Hash(req.Password, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	status := req.Status
	if status == "" {
		status = repository.StatusActive
	}

	user := &repository.User{
		Email:         req.Email,
		PasswordHash:  hash,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Role:          req.Role,
		Status:        status,
		EmailVerified: true,
	}

	if req.Phone != "" {
		encrypted, err := s.cipher.Encrypt(req.Phone)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone: %w", err)
		}
		user.Phone = &encrypted
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User created by administrator")
	return user, nil
}

// GetUser retrieves an account by id.
func (s *UserService) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return s.users.GetByID(ctx, id)
}

// ListUsers pages through accounts, optionally filtered by status.
func (s *UserService) ListUsers(ctx context.Context, status repository.Status, page, pageSize int) ([]*repository.User, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.users.List(ctx, status, pageSize, (page-1)*pageSize)
}
