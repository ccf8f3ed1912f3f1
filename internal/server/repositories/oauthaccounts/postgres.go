package oauthaccounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/dbx"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Find(ctx context.Context, provider, subject string) (*models.OAuthAccount, error) {
	query := `
		SELECT id, user_id, provider, provider_subject, created_at
		FROM oauth_accounts
		WHERE provider = $1 AND provider_subject = $2
	`
	acc := &models.OAuthAccount{}
	err := r.db.QueryRowContext(ctx, query, provider, subject).
		Scan(&acc.ID, &acc.UserID, &acc.Provider, &acc.ProviderSubject, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}

func (r *PostgresRepository) Create(ctx context.Context, acc *models.OAuthAccount) (*models.OAuthAccount, error) {
	query := `
		INSERT INTO oauth_accounts (user_id, provider, provider_subject, access_token, refresh_token)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		acc.UserID, acc.Provider, acc.ProviderSubject, acc.AccessToken, acc.RefreshToken,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return acc, nil
}
