package credentials

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

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (user_id, password_hash, password_changed_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, cred.UserID, cred.PasswordHash, cred.PasswordChangedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RegisterFailure(ctx context.Context, userID string, threshold int, lockUntil time.Time) (*models.FailureRecord, error) {
	// SET expressions see the pre-update row, so failed_attempts + 1 in the
	// CASE is the post-increment value.
	query := `
		UPDATE credentials
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END
		WHERE user_id = $1
		RETURNING failed_attempts, locked_until
	`

	var (
		rec    models.FailureRecord
		locked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, threshold, lockUntil).Scan(&rec.FailedAttempts, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if locked.Valid {
		t := locked.Time
		rec.LockedUntil = &t
	}
	return &rec, nil
}

func (r *PostgresRepository) Reset(ctx context.Context, userID string, now time.Time) (*models.FailureRecord, error) {
	// The update is skipped while a lock is active; the second branch then
	// reports the untouched row. Both branches read the same snapshot, so a
	// lock committed by a racing failure is either seen or not overwritten.
	query := `
		WITH cleared AS (
			UPDATE credentials
			SET failed_attempts = 0, locked_until = NULL
			WHERE user_id = $1 AND (locked_until IS NULL OR locked_until <= $2)
			RETURNING failed_attempts, locked_until
		)
		SELECT failed_attempts, locked_until FROM cleared
		UNION ALL
		SELECT failed_attempts, locked_until FROM credentials
		WHERE user_id = $1 AND NOT EXISTS (SELECT 1 FROM cleared)
	`

	var (
		rec    models.FailureRecord
		locked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID, now).Scan(&rec.FailedAttempts, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if locked.Valid {
		t := locked.Time
		rec.LockedUntil = &t
	}
	return &rec, nil
}

func (r *PostgresRepository) Unlock(ctx context.Context, userID string) error {
	query := `
		UPDATE credentials
		SET failed_attempts = 0, locked_until = NULL
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Lock(ctx context.Context, userID string, until time.Time) error {
	query := `
		UPDATE credentials
		SET locked_until = $2
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, until)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
