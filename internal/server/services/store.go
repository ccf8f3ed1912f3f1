package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tradeauth/internal/dbx"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/repomanager"
)

// Store runs the multi-row creation flows inside one transaction so that
// a user never exists without its credential or first external link.
type Store struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewStore(db *sql.DB, m repomanager.RepositoryManager) *Store {
	return &Store{db: db, repomanager: m}
}

// CreateUserWithPassword inserts user and its password credential.
// A duplicate email yields common.ErrorAlreadyExists and nothing is written.
func (s *Store) CreateUserWithPassword(ctx context.Context, user *models.User, cred *models.Credential) (*models.User, error) {
	var created *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		cred.UserID = u.ID
		if err := s.repomanager.Credentials(tx).Create(ctx, cred); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateOAuthUser inserts user and its first external identity link.
func (s *Store) CreateOAuthUser(ctx context.Context, user *models.User, acc *models.OAuthAccount) (*models.User, error) {
	var created *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		acc.UserID = u.ID
		if _, err := s.repomanager.OAuthAccounts(tx).Create(ctx, acc); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
