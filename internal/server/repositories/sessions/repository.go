// Package sessions declares the server-side repository contract for
// refresh-token sessions.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

// Repository defines operations for persisting, retrieving, and revoking sessions.
type Repository interface {
	// Create stores a new session row for an issued refresh token.
	Create(ctx context.Context, s *models.Session) error

	// Find looks up a session by its refresh token. Implementations return
	// common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.Session, error)

	// Delete removes a session by its token. Deleting a non-existent
	// session is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes every session whose expiry is before now and
	// reports how many rows were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
