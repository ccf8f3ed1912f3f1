// Package models holds the persistent records of the identity core.
package models

import (
	"strings"
	"time"
)

// Role is the authorization role carried in token claims.
type Role string

const (
	RoleTrader  Role = "TRADER"
	RoleSupport Role = "SUPPORT"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleTrader, RoleSupport, RoleAdmin:
		return true
	}
	return false
}

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusActive              Status = "ACTIVE"
	StatusSuspended           Status = "SUSPENDED"
	StatusBanned              Status = "BANNED"
)

// Blocked reports whether the status forbids authentication.
func (s Status) Blocked() bool {
	return s == StatusSuspended || s == StatusBanned
}

// User is the identity record. It never carries credential secrets and is
// safe to return to callers.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Role          Role       `json:"role"`
	Status        Status     `json:"status"`
	EmailVerified bool       `json:"emailVerified"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP   string     `json:"lastLoginIp,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// UserWithCredential is the login projection: the user plus its password
// credential, if any. Credential is nil for federated-only users.
type UserWithCredential struct {
	User       User
	Credential *Credential
}

// NormalizeEmail lower-cases and trims an address. Emails are unique
// case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
