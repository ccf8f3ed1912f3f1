// Package sessions tracks issued refresh tokens so they can be revoked.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	sessionrepo "github.com/dmitrijs2005/tradeauth/internal/server/repositories/sessions"
)

// ErrSessionNotFound is returned by Find for unknown or revoked tokens.
var ErrSessionNotFound = errors.New("session not found")

// Registry is the persisted set of live refresh-token sessions.
type Registry struct {
	repo sessionrepo.Repository
	log  logging.Logger
}

func NewRegistry(repo sessionrepo.Repository, log logging.Logger) *Registry {
	return &Registry{repo: repo, log: log.With("module", "sessions")}
}

// Create records a session for a freshly issued refresh token.
func (r *Registry) Create(ctx context.Context, userID, token, ip, userAgent string, expiresAt time.Time) (*models.Session, error) {
	s := &models.Session{
		UserID:    userID,
		Token:     token,
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: expiresAt,
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Find returns the session for token or ErrSessionNotFound.
func (r *Registry) Find(ctx context.Context, token string) (*models.Session, error) {
	s, err := r.repo.Find(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

// Revoke deletes the session for token. Revoking an unknown token succeeds.
func (r *Registry) Revoke(ctx context.Context, token string) error {
	if err := r.repo.Delete(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// CleanupExpired removes every session that expired before now.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return n, nil
}

// RunJanitor calls CleanupExpired every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info(ctx, "session janitor started", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			r.log.Info(context.Background(), "session janitor stopped")
			return
		case now := <-ticker.C:
			n, err := r.CleanupExpired(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Error(ctx, "session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				r.log.Info(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}
