package repository

import (
	"fmt"
	"time"
)

// Role is the closed set of staff roles. Unknown values are rejected at the
// boundary by ParseRole; nothing downstream compares against arbitrary strings.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RoleAdmin          Role = "ADMIN"
	RolePastoralStaff  Role = "PASTORAL_STAFF"
	RoleAdminStaff     Role = "ADMIN_STAFF"
	RoleMinistryLeader Role = "MINISTRY_LEADER"
	RoleVolunteer      Role = "VOLUNTEER"
)

// ParseRole validates a role value coming from outside the service.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSuperAdmin, RoleAdmin, RolePastoralStaff, RoleAdminStaff, RoleMinistryLeader, RoleVolunteer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Status is the closed set of account statuses. PENDING accounts exist but
// have not been approved by an administrator; ACTIVE is the only status
// reachable from PENDING, and only after email verification.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// ParseStatus validates a status value coming from outside the service.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusInactive:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// User represents a staff account.
//
// Phone is stored encrypted at rest (fieldcrypt envelope); the repository
// stores and returns the envelope unchanged, decryption happens in the
// service layer.
type User struct {
	ID                     string
	Email                  string
	PasswordHash           string
	FirstName              string
	LastName               string
	Phone                  *string
	Role                   Role
	Status                 Status
	EmailVerified          bool
	EmailVerificationToken *string
	EmailVerificationExp   *time.Time
	PasswordResetToken     *string
	PasswordResetExp       *time.Time
	MFASecret              *string
	MFAEnabled             bool
	LastLoginAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RefreshToken is the single persisted refresh token for a user. The raw
// token never touches the database; only its SHA-256 hash is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuditEntry is an append-only record of a mutating action. Details holds a
// redacted copy of the request payload as JSON.
type AuditEntry struct {
	ID           string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   *string
	IPAddress    *string
	UserAgent    *string
	Details      []byte
	OccurredAt   time.Time
}
