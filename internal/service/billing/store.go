package billing

import (
	"context"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
)

// Store scopes all reconciliation mutations to a single transaction per
// event, so two concurrent deliveries of the same event cannot both observe
// "no key yet" and both provision one.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view the reconciler works against. Find methods
// return (nil, nil) when no row matches; absence is a normal branch of the
// state machine, not an error.
type Tx interface {
	FindAccountByID(ctx context.Context, id int64) (*account.Account, error)
	FindAccountByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*account.Account, error)
	SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error

	// LockAccount takes a row-level lock on the account for the remainder of
	// the transaction, serializing check-then-provision across deliveries.
	LockAccount(ctx context.Context, accountID int64) error

	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscription.Subscription, error)
	LatestSubscriptionForAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error)
	InsertSubscription(ctx context.Context, sub *subscription.Subscription) (int64, error)
	UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error

	AccountHasActiveKey(ctx context.Context, accountID int64) (bool, error)
	InsertAPIKey(ctx context.Context, key *apikey.APIKey) (int64, error)
}
