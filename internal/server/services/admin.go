package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
	"github.com/dmitrijs2005/tradeauth/internal/server/lockout"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tradeauth/internal/server/sessions"
)

// AdminService exposes operator actions on accounts and sessions.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	guard       *lockout.Guard
	sessions    *sessions.Registry
	log         logging.Logger
	now         func() time.Time
}

func NewAdminService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) (*AdminService, error) {
	guard, err := lockout.NewGuard(m.Credentials(db), cfg.LockoutThreshold, cfg.LockoutDuration)
	if err != nil {
		return nil, err
	}
	return &AdminService{
		db:          db,
		repomanager: m,
		guard:       guard,
		sessions:    sessions.NewRegistry(m.Sessions(db), log),
		log:         log.With("module", "admin"),
		now:         time.Now,
	}, nil
}

// UnlockAccount clears the lockout state of the password credential of email.
func (s *AdminService) UnlockAccount(ctx context.Context, email string) error {
	u, err := s.repomanager.Users(s.db).FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if err := s.guard.Unlock(ctx, u.ID); err != nil {
		return err
	}
	s.log.Info(ctx, "account unlocked", "user_id", u.ID)
	return nil
}

// LockAccount blocks password logins for email for d and returns when the
// lock ends.
func (s *AdminService) LockAccount(ctx context.Context, email string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, fmt.Errorf("lock duration must be positive, got %s", d)
	}
	u, err := s.repomanager.Users(s.db).FindByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return time.Time{}, fmt.Errorf("find user: %w", err)
	}
	until := s.now().Add(d)
	if err := s.guard.Lock(ctx, u.ID, until); err != nil {
		return time.Time{}, err
	}
	s.log.Info(ctx, "account locked by operator", "user_id", u.ID, "until", until)
	return until, nil
}

// CleanupSessions deletes every expired session.
func (s *AdminService) CleanupSessions(ctx context.Context) (int64, error) {
	return s.sessions.CleanupExpired(ctx, s.now())
}
