package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/ierr"
)

type SubscriptionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSubscriptionRepository(db *pgxpool.Pool, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger.Named("SubscriptionRepository"),
	}
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

const subscriptionColumns = `id, account_id, stripe_subscription_id, status, plan, current_period_end`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.StripeSubscriptionID, &sub.Status, &sub.Plan, &sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// HasActiveForAccount reports whether any subscription row for the account is
// in a status that grants access. Existence is all the gate needs.
func (r *SubscriptionRepository) HasActiveForAccount(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE account_id = $1 AND status IN ($2, $3)
		)
	`, accountID, subscription.StatusActive, subscription.StatusTrialing).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check active subscription", zap.Int64("account_id", accountID), zap.Error(err))
		return false, fmt.Errorf("db error checking subscription: %w", err)
	}
	return exists, nil
}

// FindCurrentForAccount returns the most recently created subscription row.
func (r *SubscriptionRepository) FindCurrentForAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, accountID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to find current subscription", zap.Int64("account_id", accountID), zap.Error(err))
		return nil, fmt.Errorf("db error finding subscription: %w", err)
	}
	return sub, nil
}
