package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/ierr"
)

type APIKeyRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAPIKeyRepository(db *pgxpool.Pool, logger *zap.Logger) *APIKeyRepository {
	return &APIKeyRepository{
		db:     db,
		logger: logger.Named("APIKeyRepository"),
	}
}

var _ apikey.Repository = (*APIKeyRepository)(nil)

const apiKeyColumns = `id, key_hash, account_id, label, status, created_at, last_used_at`

func scanAPIKey(row pgx.Row) (*apikey.APIKey, error) {
	var key apikey.APIKey
	err := row.Scan(&key.ID, &key.KeyHash, &key.AccountID, &key.Label, &key.Status, &key.CreatedAt, &key.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, key *apikey.APIKey) (int64, error) {
	var insertedID int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, account_id, label, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, key.KeyHash, key.AccountID, key.Label, key.Status).Scan(&insertedID)

	if err != nil {
		r.logger.Error("Failed to create api key", zap.Int64("account_id", key.AccountID), zap.Error(err))
		return 0, fmt.Errorf("db error creating api key: %w", err)
	}

	r.logger.Info("API key created", zap.Int64("id", insertedID), zap.Int64("account_id", key.AccountID))
	return insertedID, nil
}

func (r *APIKeyRepository) FindActiveByHash(ctx context.Context, keyHash string) (*apikey.APIKey, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE key_hash = $1 AND status = $2
	`, keyHash, apikey.StatusActive)

	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrAPIKeyNotFound
		}
		r.logger.Error("Failed to find api key by hash", zap.Error(err))
		return nil, fmt.Errorf("db error finding api key: %w", err)
	}
	return key, nil
}

func (r *APIKeyRepository) FindByID(ctx context.Context, id int64) (*apikey.APIKey, error) {
	row := r.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrAPIKeyNotFound
		}
		r.logger.Error("Failed to find api key by id", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("db error finding api key: %w", err)
	}
	return key, nil
}

func (r *APIKeyRepository) ListByAccount(ctx context.Context, accountID int64) ([]*apikey.APIKey, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		r.logger.Error("Failed to list api keys", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []*apikey.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("db error scanning api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// UpdateStatus is scoped by account id so one account can never flip another
// account's credential.
func (r *APIKeyRepository) UpdateStatus(ctx context.Context, id int64, accountID int64, status apikey.Status) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE api_keys SET status = $1 WHERE id = $2 AND account_id = $3
	`, status, id, accountID)
	if err != nil {
		r.logger.Error("Failed to update api key status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("db error updating api key status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ierr.ErrAPIKeyNotFound
	}
	return nil
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id int64, lastUsed time.Time) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, lastUsed, id)
	if err != nil {
		r.logger.Error("Failed to update api key last_used_at", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("db error updating last used time: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.Warn("API key not found when updating last_used_at", zap.Int64("id", id))
	}
	return nil
}
