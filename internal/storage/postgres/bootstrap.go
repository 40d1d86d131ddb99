package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Bootstrapper re-creates the credential store on demand: schema first, then
// the statically configured keys. The authorization gate invokes it when a
// lookup hits a connectivity failure, and startup runs it once up front.
type Bootstrapper struct {
	db      *pgxpool.Pool
	rawKeys []string
	logger  *zap.Logger
}

func NewBootstrapper(db *pgxpool.Pool, rawKeys []string, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		db:      db,
		rawKeys: rawKeys,
		logger:  logger.Named("Bootstrapper"),
	}
}

func (b *Bootstrapper) Reinitialize(ctx context.Context) error {
	if err := EnsureSchema(ctx, b.db, b.logger); err != nil {
		return err
	}
	return SeedBootstrapKeys(ctx, b.db, b.rawKeys, b.logger)
}
