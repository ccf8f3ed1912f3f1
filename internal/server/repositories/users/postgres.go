package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/dbx"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
)

const userColumns = `u.id, u.email, u.first_name, u.last_name, u.role, u.status,
		       u.email_verified, u.last_login_at, u.last_login_ip, u.created_at, u.updated_at`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, first_name, last_name, role, status, email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		models.NormalizeEmail(user.Email), user.FirstName, user.LastName,
		string(user.Role), string(user.Status), user.EmailVerified,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Email = models.NormalizeEmail(user.Email)
	return user, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT ` + userColumns + `
		 FROM users u
		 WHERE lower(u.email) = $1 AND u.deleted_at IS NULL`

	return r.findOne(ctx, query, models.NormalizeEmail(email))
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT ` + userColumns + `
		 FROM users u
		 WHERE u.id = $1 AND u.deleted_at IS NULL`

	return r.findOne(ctx, query, id)
}

func (r *PostgresRepository) FindByEmailWithCredential(ctx context.Context, email string) (*models.UserWithCredential, error) {
	query :=
		`SELECT ` + userColumns + `,
		        c.password_hash, c.failed_attempts, c.locked_until, c.password_changed_at
		 FROM users u
		 LEFT JOIN credentials c ON c.user_id = u.id
		 WHERE lower(u.email) = $1 AND u.deleted_at IS NULL`

	var (
		out         models.UserWithCredential
		lastLoginAt sql.NullTime
		lastLoginIP sql.NullString
		hash        sql.NullString
		attempts    sql.NullInt64
		lockedUntil sql.NullTime
		changedAt   sql.NullTime
	)

	u := &out.User
	err := r.db.QueryRowContext(ctx, query, models.NormalizeEmail(email)).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Status,
		&u.EmailVerified, &lastLoginAt, &lastLoginIP, &u.CreatedAt, &u.UpdatedAt,
		&hash, &attempts, &lockedUntil, &changedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	applyLastLogin(u, lastLoginAt, lastLoginIP)

	if hash.Valid {
		cred := &models.Credential{
			UserID:         u.ID,
			PasswordHash:   hash.String,
			FailedAttempts: int(attempts.Int64),
		}
		if lockedUntil.Valid {
			t := lockedUntil.Time
			cred.LockedUntil = &t
		}
		if changedAt.Valid {
			cred.PasswordChangedAt = changedAt.Time
		}
		out.Credential = cred
	}

	return &out, nil
}

func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, ip string, at time.Time) error {
	query :=
		`UPDATE users SET last_login_at = $2, last_login_ip = $3, updated_at = $2
		 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, at, ip); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var (
		u           models.User
		lastLoginAt sql.NullTime
		lastLoginIP sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Status,
		&u.EmailVerified, &lastLoginAt, &lastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	applyLastLogin(&u, lastLoginAt, lastLoginIP)

	return &u, nil
}

func applyLastLogin(u *models.User, at sql.NullTime, ip sql.NullString) {
	if at.Valid {
		t := at.Time
		u.LastLoginAt = &t
	}
	u.LastLoginIP = ip.String
}
