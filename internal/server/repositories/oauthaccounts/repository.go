// Package oauthaccounts declares the repository contract for links between
// external identities and local users.
package oauthaccounts

import (
	"context"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

// Repository stores (provider, subject) → user links.
type Repository interface {
	// Find returns common.ErrorNotFound when the pair is not linked.
	Find(ctx context.Context, provider, subject string) (*models.OAuthAccount, error)

	// Create inserts a link. A second link for the same pair yields
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, acc *models.OAuthAccount) (*models.OAuthAccount, error)
}
