package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shepherd-cms/identity/internal/repository"
)

// fakeUserStore is an in-memory UserStore for service tests.
type fakeUserStore struct {
	mu     sync.Mutex
	nextID int
	users  map[string]*repository.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*repository.User)}
}

func (f *fakeUserStore) Create(_ context.Context, user *repository.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByVerificationToken(_ context.Context, token string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.EmailVerificationToken != nil && *user.EmailVerificationToken == token {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) GetByResetToken(_ context.Context, token string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.PasswordResetToken != nil && *user.PasswordResetToken == token {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) List(_ context.Context, status repository.Status, limit, offset int) ([]*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.User
	for _, user := range f.users {
		if status != "" && user.Status != status {
			continue
		}
		clone := *user
		out = append(out, &clone)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUserStore) update(id string, apply func(*repository.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	apply(user)
	user.UpdatedAt = time.Now()
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return f.update(id, func(u *repository.User) {
		u.PasswordHash = passwordHash
	})
}

func (f *fakeUserStore) SetVerificationToken(_ context.Context, id, token string, expiresAt time.Time) error {
	return f.update(id, func(u *repository.User) {
		u.EmailVerificationToken = &token
		u.EmailVerificationExp = &expiresAt
	})
}

func (f *fakeUserStore) MarkEmailVerified(_ context.Context, id string) error {
	return f.update(id, func(u *repository.User) {
		u.EmailVerified = true
		u.EmailVerificationToken = nil
		u.EmailVerificationExp = nil
	})
}

func (f *fakeUserStore) SetResetToken(_ context.Context, id, token string, expiresAt time.Time) error {
	return f.update(id, func(u *repository.User) {
		u.PasswordResetToken = &token
		u.PasswordResetExp = &expiresAt
	})
}

func (f *fakeUserStore) ResetPassword(_ context.Context, id, passwordHash string) error {
	return f.update(id, func(u *repository.User) {
		u.PasswordHash = passwordHash
		u.PasswordResetToken = nil
		u.PasswordResetExp = nil
	})
}

func (f *fakeUserStore) SetMFASecret(_ context.Context, id, secret string) error {
	return f.update(id, func(u *repository.User) {
		u.MFASecret = &secret
	})
}

func (f *fakeUserStore) EnableMFA(_ context.Context, id string) error {
	return f.update(id, func(u *repository.User) {
		u.MFAEnabled = true
	})
}

func (f *fakeUserStore) UpdateStatus(_ context.Context, id string, status repository.Status) error {
	return f.update(id, func(u *repository.User) {
		u.Status = status
	})
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, id string) error {
	return f.update(id, func(u *repository.User) {
		now := time.Now()
		u.LastLoginAt = &now
	})
}

// fakeTokenStore is an in-memory TokenStore. Replace holds the lock for the
// whole supersede-and-insert, mirroring the real store's single-row upsert.
type fakeTokenStore struct {
	mu     sync.Mutex
	nextID int
	tokens map[string]*repository.RefreshToken // keyed by token hash
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*repository.RefreshToken)}
}

func (f *fakeTokenStore) Replace(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, token := range f.tokens {
		if token.UserID == userID {
			delete(f.tokens, hash)
		}
	}
	f.nextID++
	f.tokens[tokenHash] = &repository.RefreshToken{
		ID:        fmt.Sprintf("token-%d", f.nextID),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (f *fakeTokenStore) GetByHash(_ context.Context, tokenHash string) (*repository.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *token
	return &clone, nil
}

func (f *fakeTokenStore) Delete(_ context.Context, userID, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[tokenHash]
	if ok && token.UserID == userID {
		delete(f.tokens, tokenHash)
	}
	return nil
}

func (f *fakeTokenStore) DeleteAllForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, token := range f.tokens {
		if token.UserID == userID {
			delete(f.tokens, hash)
		}
	}
	return nil
}

func (f *fakeTokenStore) countForUser(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, token := range f.tokens {
		if token.UserID == userID {
			n++
		}
	}
	return n
}

// fakeNotifier records dispatched messages.
type fakeNotifier struct {
	mu            sync.Mutex
	verifications []string // "email:token"
	resets        []string // "email:token"
	alerts        []string // registrant email
	approvals     []string // email
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{}
}

func (f *fakeNotifier) SendVerificationEmail(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, email+":"+token)
	return nil
}

func (f *fakeNotifier) SendPasswordResetEmail(_ context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, email+":"+token)
	return nil
}

func (f *fakeNotifier) SendNewRegistrationAlert(_ context.Context, email, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, email)
	return nil
}

func (f *fakeNotifier) SendAccountApprovedEmail(_ context.Context, email, firstName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, email)
	return nil
}
