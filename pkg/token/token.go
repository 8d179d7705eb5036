// Package token signs and verifies the JWT access/refresh token pair.
//
// Access and refresh tokens carry the same payload shape but are signed with
// independent secrets, so a leaked access secret cannot mint refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims is the payload carried by both token kinds: {email, sub, role,
// status}. Role and status are snapshots taken at issuance; a status change
// does not take effect on the access path until the token expires.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair holds a freshly issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // access token lifetime in seconds
}

// Manager signs and verifies token pairs.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
}

// NewManager creates a Manager. The two secrets must be non-empty and
// distinct; zero durations fall back to the defaults.
func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token: both secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        "shepherd-identity",
	}, nil
}

// RefreshTTL reports the configured refresh token lifetime, used when
// persisting the refresh token record.
func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Sign creates an access/refresh pair for the given identity snapshot.
func (m *Manager) Sign(userID, email, role, status string) (*Pair, error) {
	accessToken, err := m.sign(userID, email, role, status, typeAccess, m.accessSecret, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshToken, err := m.sign(userID, email, role, status, typeRefresh, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

func (m *Manager) sign(userID, email, role, status, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:     email,
		Role:      role,
		Status:    status,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			ID:        uuid.New().String(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateAccess verifies an access token and returns its claims.
func (m *Manager) ValidateAccess(tokenString string) (*Claims, error) {
	return m.validate(tokenString, typeAccess, m.accessSecret)
}

// ValidateRefresh verifies a refresh token and returns its claims. The
// caller is responsible for re-fetching the identity; these claims are only
// a pointer into the store.
func (m *Manager) ValidateRefresh(tokenString string) (*Claims, error) {
	return m.validate(tokenString, typeRefresh, m.refreshSecret)
}

func (m *Manager) validate(tokenString, wantType string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
