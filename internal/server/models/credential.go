package models

import "time"

// Credential is the password credential of a user (at most one per user).
type Credential struct {
	UserID            string
	PasswordHash      string
	FailedAttempts    int
	LockedUntil       *time.Time
	PasswordChangedAt time.Time
}

// FailureRecord is the state of a credential right after an atomic
// failed-attempt increment.
type FailureRecord struct {
	FailedAttempts int
	LockedUntil    *time.Time
}
