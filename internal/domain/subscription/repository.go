package subscription

import "context"

type Repository interface {
	HasActiveForAccount(ctx context.Context, accountID int64) (bool, error)
	FindCurrentForAccount(ctx context.Context, accountID int64) (*Subscription, error)
}
