package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/util"
)

func NewPgxPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pgxConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}

	pgxConfig.MaxConns = int32(cfg.MaxOpenConns)
	pgxConfig.MinConns = int32(cfg.MaxIdleConns)
	pgxConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL")
	return pool, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		stripe_customer_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_stripe_customer_id ON accounts (stripe_customer_id)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_account_id ON api_keys (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys (status)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		stripe_subscription_id TEXT UNIQUE,
		status TEXT NOT NULL,
		plan TEXT NOT NULL,
		current_period_end TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_account_id ON subscriptions (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id BIGSERIAL PRIMARY KEY,
		api_key_id BIGINT NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		endpoint TEXT NOT NULL,
		status_code INT NOT NULL,
		response_ms INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_api_key_id ON usage_logs (api_key_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs (created_at)`,
}

// EnsureSchema creates all tables and indexes when they do not exist yet. It
// runs at startup and again from the authorization gate's reconnect path.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool, logger *zap.Logger) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			logger.Error("Schema bootstrap statement failed", zap.Error(err))
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// SeedBootstrapKeys upserts the system account and makes sure every statically
// configured raw key has an active credential row under it. Existing rows are
// left untouched, so re-seeding is idempotent.
func SeedBootstrapKeys(ctx context.Context, db *pgxpool.Pool, rawKeys []string, logger *zap.Logger) error {
	if len(rawKeys) == 0 {
		return nil
	}

	var accountID int64
	err := db.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, '!')
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, account.BootstrapEmail).Scan(&accountID)
	if err != nil {
		return fmt.Errorf("failed to upsert bootstrap account: %w", err)
	}

	for i, rawKey := range rawKeys {
		label := "master"
		if i > 0 {
			label = fmt.Sprintf("bootstrap-%d", i)
		}

		_, err := db.Exec(ctx, `
			INSERT INTO api_keys (key_hash, account_id, label, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key_hash) DO NOTHING
		`, util.HashAPIKey(rawKey), accountID, label, apikey.StatusActive)
		if err != nil {
			return fmt.Errorf("failed to seed bootstrap key %q: %w", label, err)
		}
	}

	logger.Info("Bootstrap API keys seeded", zap.Int("configured", len(rawKeys)))
	return nil
}
