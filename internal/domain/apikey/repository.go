package apikey

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, key *APIKey) (int64, error)
	FindActiveByHash(ctx context.Context, keyHash string) (*APIKey, error)
	FindByID(ctx context.Context, id int64) (*APIKey, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*APIKey, error)
	UpdateStatus(ctx context.Context, id int64, accountID int64, status Status) error
	UpdateLastUsed(ctx context.Context, id int64, lastUsed time.Time) error
}
