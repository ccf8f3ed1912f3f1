// Package credentials declares the repository contract for password
// credentials and their brute-force counters.
package credentials

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

// Repository manages the password credential of a user.
type Repository interface {
	// Create stores the credential of a freshly created user.
	Create(ctx context.Context, cred *models.Credential) error

	// RegisterFailure atomically increments the failed-attempt counter and,
	// when the post-increment value reaches threshold, sets locked_until to
	// lockUntil in the same statement. It returns the post-increment state.
	RegisterFailure(ctx context.Context, userID string, threshold int, lockUntil time.Time) (*models.FailureRecord, error)

	// Reset clears the counter after a successful login unless a lock is
	// active at now. It returns the resulting state; a LockedUntil after now
	// means the reset was refused because a concurrent failure locked the
	// credential. Returns common.ErrorNotFound when the user has no credential.
	Reset(ctx context.Context, userID string, now time.Time) (*models.FailureRecord, error)

	// Unlock clears the counter and any lock window unconditionally.
	// Returns common.ErrorNotFound when the user has no credential.
	Unlock(ctx context.Context, userID string) error

	// Lock sets an explicit lock window. Returns common.ErrorNotFound when the
	// user has no credential.
	Lock(ctx context.Context, userID string, until time.Time) error
}
