package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is one of the fixed HR roles.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleHR       Role = "HR"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// Roles lists every valid role, most privileged first.
var Roles = []Role{RoleAdmin, RoleHR, RoleManager, RoleEmployee}

// ParseRole normalizes s and reports ErrInvalidInput for unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether r is part of the role enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleManager, RoleEmployee:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// User is the identity record. Users are never deleted, only deactivated.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	EmployeeID   string     `json:"employeeId,omitempty"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Identity returns the caller identity encoded into access tokens for u.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Role: u.Role, EmployeeID: u.EmployeeID}
}

// UserUpdate carries optional field changes; nil fields are left untouched.
// An empty EmployeeID clears the employee link.
type UserUpdate struct {
	Role       *Role
	Active     *bool
	EmployeeID *string
}

// RefreshToken is a persisted refresh credential. Only the hash of the value is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PasswordResetToken is a single-use, time-boxed reset credential.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Identity is the authenticated caller as resolved from an access token.
type Identity struct {
	UserID     string `json:"userId"`
	Role       Role   `json:"role"`
	EmployeeID string `json:"employeeId,omitempty"`
}

// AccessToken is a signed short-lived credential and its expiry.
type AccessToken struct {
	Token     string    `json:"accessToken"`
	ExpiresAt time.Time `json:"accessExpiresAt"`
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
