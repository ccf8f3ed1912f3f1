package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tradeauth/internal/dbx"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/oauthaccounts"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, so composite writes can share one dbx.DBTX.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	OAuthAccounts(db dbx.DBTX) oauthaccounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
