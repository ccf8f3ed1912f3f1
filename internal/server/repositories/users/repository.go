// Package users declares the server-side repository contract for user
// identity records.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

// Repository reads and writes users. Soft-deleted users are invisible to
// every lookup; lookups by email are case-insensitive.
type Repository interface {
	// Create inserts user and fills its ID and timestamps. A duplicate email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// FindByEmail returns common.ErrorNotFound when no live user has the email.
	FindByEmail(ctx context.Context, email string) (*models.User, error)

	// FindByID returns common.ErrorNotFound when no live user has the id.
	FindByID(ctx context.Context, id string) (*models.User, error)

	// FindByEmailWithCredential returns the user joined with its password
	// credential (nil for federated-only users).
	FindByEmailWithCredential(ctx context.Context, email string) (*models.UserWithCredential, error)

	// UpdateLastLogin records a successful authentication.
	UpdateLastLogin(ctx context.Context, id string, ip string, at time.Time) error
}
