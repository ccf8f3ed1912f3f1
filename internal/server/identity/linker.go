package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/oauthaccounts"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/users"
)

// Outcome tells which resolution path a Resolve call took.
type Outcome int

const (
	// Existing: the (provider, subject) pair was already linked.
	Existing Outcome = iota + 1
	// Linked: a user with the same email existed and the pair was linked to it.
	Linked
	// Created: a new user and link were created together.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Existing:
		return "existing"
	case Linked:
		return "linked"
	case Created:
		return "created"
	}
	return "unknown"
}

// UserCreator inserts a user and its first external link atomically.
type UserCreator interface {
	CreateOAuthUser(ctx context.Context, user *models.User, acc *models.OAuthAccount) (*models.User, error)
}

// Linker maps a verified assertion to exactly one local user.
type Linker struct {
	users    users.Repository
	accounts oauthaccounts.Repository
	creator  UserCreator
	log      logging.Logger
}

func NewLinker(u users.Repository, a oauthaccounts.Repository, c UserCreator, log logging.Logger) *Linker {
	return &Linker{users: u, accounts: a, creator: c, log: log.With("module", "identity")}
}

// Resolve returns the user owning the asserted identity, linking or creating
// as needed. Each call performs at most one of: nothing, one link insert, or
// one user-plus-link insert.
func (l *Linker) Resolve(ctx context.Context, provider string, a Assertion) (*models.User, Outcome, error) {
	if !a.EmailVerified {
		return nil, 0, ErrEmailNotVerified
	}
	if a.Subject == "" || models.NormalizeEmail(a.Email) == "" {
		return nil, 0, ErrIncompleteAssertion
	}

	u, out, err := l.resolve(ctx, provider, a)
	if errors.Is(err, common.ErrorAlreadyExists) {
		// A concurrent first login inserted the same link or user; its row
		// is now visible.
		l.log.Debug(ctx, "identity insert raced, resolving again", "provider", provider)
		u, out, err = l.resolve(ctx, provider, a)
		if errors.Is(err, common.ErrorAlreadyExists) {
			// Still colliding with a row no lookup can see.
			return nil, 0, fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
		}
	}
	if err != nil {
		return nil, 0, err
	}

	if out != Existing {
		l.log.Info(ctx, "identity linked", "provider", provider, "user_id", u.ID, "outcome", out.String())
	}
	return u, out, nil
}

func (l *Linker) resolve(ctx context.Context, provider string, a Assertion) (*models.User, Outcome, error) {
	acc, err := l.accounts.Find(ctx, provider, a.Subject)
	switch {
	case err == nil:
		u, err := l.users.FindByID(ctx, acc.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, 0, ErrAccountUnavailable
			}
			return nil, 0, fmt.Errorf("find linked user: %w", err)
		}
		if u.Status.Blocked() {
			return nil, 0, ErrAccountBlocked
		}
		return u, Existing, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, 0, fmt.Errorf("find oauth account: %w", err)
	}

	email := models.NormalizeEmail(a.Email)
	link := &models.OAuthAccount{Provider: provider, ProviderSubject: a.Subject}

	u, err := l.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Status.Blocked() {
			return nil, 0, ErrAccountBlocked
		}
		link.UserID = u.ID
		if _, err := l.accounts.Create(ctx, link); err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("link oauth account: %w", err)
		}
		return u, Linked, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, 0, fmt.Errorf("find user by email: %w", err)
	}

	u, err = l.creator.CreateOAuthUser(ctx, &models.User{
		Email:         email,
		FirstName:     a.GivenName,
		LastName:      a.FamilyName,
		Role:          models.RoleTrader,
		Status:        models.StatusActive,
		EmailVerified: true,
	}, link)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("create oauth user: %w", err)
	}
	return u, Created, nil
}
