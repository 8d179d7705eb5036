package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	otplib "github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"github.com/shepherd-cms/identity/internal/repository"
	"github.com/shepherd-cms/identity/pkg/fieldcrypt"
	"github.com/shepherd-cms/identity/pkg/password"
	"github.com/shepherd-cms/identity/pkg/totp"
	tokenpkg "github.com/shepherd-cms/identity/pkg/token"
)

const testPassword = "CorrectHorse1!"

type authFixture struct {
	svc    *AuthService
	users  *fakeUserStore
	tokens *fakeTokenStore
	cipher *fieldcrypt.Cipher
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := newFakeUserStore()
	tokens := newFakeTokenStore()

	mgr, err := tokenpkg.NewManager("test-access-secret", "test-refresh-secret", 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token manager: %v", err)
	}
	cipher, err := fieldcrypt.New("test-encryption-key")
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	return &authFixture{
		svc:    NewAuthService(users, tokens, mgr, cipher, "TestIssuer", zerolog.Nop()),
		users:  users,
		tokens: tokens,
		cipher: cipher,
	}
}

func (f *authFixture) seedUser(t *testing.T, mutate func(*repository.User)) *repository.User {
	t.Helper()

	hash, err := password.Hash(testPassword, nil)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := &repository.User{
		Email:         "user@example.com",
		PasswordHash:  hash,
		FirstName:     "Test",
		LastName:      "User",
		Role:          repository.RoleAdminStaff,
		Status:        repository.StatusActive,
		EmailVerified: true,
	}
	if mutate != nil {
		mutate(user)
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*repository.User)
		req     LoginRequest
		wantErr error
	}{
		{
			name: "success",
			req:  LoginRequest{Email: "user@example.com", Password: testPassword},
		},
		{
			name:    "unknown email",
			req:     LoginRequest{Email: "nobody@example.com", Password: testPassword},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "wrong password",
			req:     LoginRequest{Email: "user@example.com", Password: "WrongPassword1!"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "inactive account",
			mutate: func(u *repository.User) {
				u.Status = repository.StatusInactive
			},
			req:     LoginRequest{Email: "user@example.com", Password: testPassword},
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "unverified email",
			mutate: func(u *repository.User) {
				u.EmailVerified = false
			},
			req:     LoginRequest{Email: "user@example.com", Password: testPassword},
			wantErr: ErrEmailNotVerified,
		},
		{
			name: "pending but verified may log in",
			mutate: func(u *repository.User) {
				u.Status = repository.StatusPending
			},
			req: LoginRequest{Email: "user@example.com", Password: testPassword},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			user := f.seedUser(t, tt.mutate)

			resp, err := f.svc.Login(context.Background(), &tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
				}
				if f.tokens.countForUser(user.ID) != 0 {
					t.Error("failed login persisted a refresh token")
				}
				return
			}
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if resp.AccessToken == "" || resp.RefreshToken == "" {
				t.Error("Login() returned empty tokens")
			}
			if resp.User.ID != user.ID {
				t.Errorf("Login() user id = %q, want %q", resp.User.ID, user.ID)
			}
			if f.tokens.countForUser(user.ID) != 1 {
				t.Errorf("stored refresh tokens = %d, want 1", f.tokens.countForUser(user.ID))
			}

			stored, _ := f.users.GetByID(context.Background(), user.ID)
			if stored.LastLoginAt == nil {
				t.Error("Login() did not record last login")
			}
		})
	}
}

func TestLoginResponseCarriesNoSecrets(t *testing.T) {
	f := newAuthFixture(t)
	phone, err := f.cipher.Encrypt("+1-555-0142")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	f.seedUser(t, func(u *repository.User) {
		u.Phone = &phone
	})

	resp, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.User.Phone != "+1-555-0142" {
		t.Errorf("summary phone = %q, want decrypted value", resp.User.Phone)
	}
}

func TestLoginMFA(t *testing.T) {
	buildFixture := func(t *testing.T) (*authFixture, string, *repository.User) {
		f := newAuthFixture(t)
		enrollment, err := totp.Generate("TestIssuer", "user@example.com")
		if err != nil {
			t.Fatalf("Failed to generate totp secret: %v", err)
		}
		user := f.seedUser(t, func(u *repository.User) {
			u.MFASecret = &enrollment.Secret
			u.MFAEnabled = true
		})
		return f, enrollment.Secret, user
	}

	t.Run("missing code", func(t *testing.T) {
		f, _, user := buildFixture(t)
		_, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
		if !errors.Is(err, ErrMFARequired) {
			t.Fatalf("Login() error = %v, want ErrMFARequired", err)
		}
		if f.tokens.countForUser(user.ID) != 0 {
			t.Error("MFA-gated login persisted a refresh token")
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		f, _, user := buildFixture(t)
		_, err := f.svc.Login(context.Background(), &LoginRequest{
			Email:    "user@example.com",
			Password: testPassword,
			MFACode:  "000000",
		})
		if !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("Login() error = %v, want ErrInvalidMFACode", err)
		}
		if f.tokens.countForUser(user.ID) != 0 {
			t.Error("MFA-gated login persisted a refresh token")
		}
	})

	t.Run("valid code", func(t *testing.T) {
		f, secret, _ := buildFixture(t)
		code, err := otplib.GenerateCode(secret, time.Now())
		if err != nil {
			t.Fatalf("Failed to generate code: %v", err)
		}
		resp, err := f.svc.Login(context.Background(), &LoginRequest{
			Email:    "user@example.com",
			Password: testPassword,
			MFACode:  code,
		})
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if resp.AccessToken == "" {
			t.Error("Login() returned empty access token")
		}
	})
}

func TestRefreshRotation(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	login, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	refreshed, err := f.svc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("Refresh() did not rotate the refresh token")
	}

	// The superseded record is gone and exactly one remains.
	if _, err := f.tokens.GetByHash(context.Background(), repository.HashToken(login.RefreshToken)); !errors.Is(err, repository.ErrNotFound) {
		t.Error("superseded refresh token still stored")
	}
	if n := f.tokens.countForUser(user.ID); n != 1 {
		t.Errorf("stored refresh tokens = %d, want 1", n)
	}
}

func TestRefreshInvalid(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, nil)

	if _, err := f.svc.Refresh(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Refresh() error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	login, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := f.users.UpdateStatus(context.Background(), user.ID, repository.StatusInactive); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if _, err := f.svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Refresh() error = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshConcurrentLeavesSingleToken(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	login, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Refresh(context.Background(), login.RefreshToken)
		}()
	}
	wg.Wait()

	if n := f.tokens.countForUser(user.ID); n != 1 {
		t.Errorf("stored refresh tokens after concurrent refresh = %d, want 1", n)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	login, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := f.svc.Logout(context.Background(), user.ID, login.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if n := f.tokens.countForUser(user.ID); n != 0 {
		t.Errorf("stored refresh tokens after logout = %d, want 0", n)
	}

	// Logging out an already-deleted token is not an error.
	if err := f.svc.Logout(context.Background(), user.ID, login.RefreshToken); err != nil {
		t.Errorf("repeated Logout() error = %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	if err := f.svc.ChangePassword(context.Background(), user.ID, "WrongOld1!", "NewPassword1!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("ChangePassword() error = %v, want ErrInvalidCredentials", err)
	}

	if err := f.svc.ChangePassword(context.Background(), user.ID, testPassword, "NewPassword1!"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password still accepted after change")
	}
	if _, err := f.svc.Login(context.Background(), &LoginRequest{Email: "user@example.com", Password: "NewPassword1!"}); err != nil {
		t.Errorf("new password rejected after change: %v", err)
	}
}

func TestMe(t *testing.T) {
	f := newAuthFixture(t)
	phone, err := f.cipher.Encrypt("+1-555-0142")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	user := f.seedUser(t, func(u *repository.User) {
		u.Phone = &phone
	})

	summary, err := f.svc.Me(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if summary.Phone != "+1-555-0142" {
		t.Errorf("Me() phone = %q, want decrypted value", summary.Phone)
	}
	if summary.Email != user.Email {
		t.Errorf("Me() email = %q, want %q", summary.Email, user.Email)
	}
}

func TestMeUndecryptablePhoneReturnsUnset(t *testing.T) {
	f := newAuthFixture(t)
	garbage := "not-an-envelope"
	user := f.seedUser(t, func(u *repository.User) {
		u.Phone = &garbage
	})

	summary, err := f.svc.Me(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if summary.Phone != "" {
		t.Errorf("Me() phone = %q, want empty for undecryptable field", summary.Phone)
	}
}

func TestSetupAndVerifyMFA(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, nil)

	// Verify before setup fails.
	if err := f.svc.VerifyMFA(context.Background(), user.ID, "123456"); !errors.Is(err, ErrMFANotSetUp) {
		t.Errorf("VerifyMFA() error = %v, want ErrMFANotSetUp", err)
	}

	enrollment, err := f.svc.SetupMFA(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("SetupMFA() error = %v", err)
	}
	if enrollment.Secret == "" || enrollment.QRCodePNG == "" {
		t.Error("SetupMFA() returned incomplete enrollment")
	}

	// Secret stored but MFA not yet enabled.
	stored, _ := f.users.GetByID(context.Background(), user.ID)
	if stored.MFASecret == nil || *stored.MFASecret != enrollment.Secret {
		t.Error("SetupMFA() did not store the secret")
	}
	if stored.MFAEnabled {
		t.Error("SetupMFA() enabled MFA before verification")
	}

	// Wrong code leaves the secret usable for a retry.
	if err := f.svc.VerifyMFA(context.Background(), user.ID, "000000"); !errors.Is(err, ErrInvalidMFACode) {
		t.Errorf("VerifyMFA() error = %v, want ErrInvalidMFACode", err)
	}
	stored, _ = f.users.GetByID(context.Background(), user.ID)
	if stored.MFASecret == nil {
		t.Error("failed verification cleared the secret")
	}

	code, err := otplib.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("Failed to generate code: %v", err)
	}
	if err := f.svc.VerifyMFA(context.Background(), user.ID, code); err != nil {
		t.Fatalf("VerifyMFA() error = %v", err)
	}

	stored, _ = f.users.GetByID(context.Background(), user.ID)
	if !stored.MFAEnabled {
		t.Error("VerifyMFA() did not enable MFA")
	}

	// A second setup is rejected while MFA is on.
	if _, err := f.svc.SetupMFA(context.Background(), user.ID); !errors.Is(err, ErrMFAAlreadyEnabled) {
		t.Errorf("SetupMFA() error = %v, want ErrMFAAlreadyEnabled", err)
	}
}
