package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/service/billing"
)

// BillingStore runs each webhook reconciliation in a single transaction with
// row-level account locking.
type BillingStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewBillingStore(db *pgxpool.Pool, logger *zap.Logger) *BillingStore {
	return &BillingStore{
		db:     db,
		logger: logger.Named("BillingStore"),
	}
}

var _ billing.Store = (*BillingStore)(nil)

func (s *BillingStore) WithinTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	pgTx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin billing transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&billingTx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit billing transaction: %w", err)
	}
	return nil
}

type billingTx struct {
	tx pgx.Tx
}

var _ billing.Tx = (*billingTx)(nil)

func (t *billingTx) findAccount(ctx context.Context, query string, arg any) (*account.Account, error) {
	row := t.tx.QueryRow(ctx, query, arg)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error finding account: %w", err)
	}
	return acc, nil
}

func (t *billingTx) FindAccountByID(ctx context.Context, id int64) (*account.Account, error) {
	return t.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (t *billingTx) FindAccountByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	return t.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
}

func (t *billingTx) FindAccountByEmail(ctx context.Context, email string) (*account.Account, error) {
	return t.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (t *billingTx) SetStripeCustomerID(ctx context.Context, accountID int64, customerID string) error {
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET stripe_customer_id = $1 WHERE id = $2`, customerID, accountID)
	if err != nil {
		return fmt.Errorf("db error updating stripe customer id: %w", err)
	}
	return nil
}

func (t *billingTx) LockAccount(ctx context.Context, accountID int64) error {
	_, err := t.tx.Exec(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	if err != nil {
		return fmt.Errorf("db error locking account: %w", err)
	}
	return nil
}

func (t *billingTx) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscription.Subscription, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error finding subscription: %w", err)
	}
	return sub, nil
}

func (t *billingTx) LatestSubscriptionForAccount(ctx context.Context, accountID int64) (*subscription.Subscription, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, accountID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db error finding latest subscription: %w", err)
	}
	return sub, nil
}

func (t *billingTx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) (int64, error) {
	var insertedID int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO subscriptions (account_id, stripe_subscription_id, status, plan, current_period_end)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, sub.AccountID, sub.StripeSubscriptionID, sub.Status, sub.Plan, sub.CurrentPeriodEnd).Scan(&insertedID)
	if err != nil {
		return 0, fmt.Errorf("db error inserting subscription: %w", err)
	}
	return insertedID, nil
}

func (t *billingTx) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE subscriptions
		SET stripe_subscription_id = $1, status = $2, plan = $3, current_period_end = $4
		WHERE id = $5
	`, sub.StripeSubscriptionID, sub.Status, sub.Plan, sub.CurrentPeriodEnd, sub.ID)
	if err != nil {
		return fmt.Errorf("db error updating subscription: %w", err)
	}
	return nil
}

func (t *billingTx) AccountHasActiveKey(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM api_keys WHERE account_id = $1 AND status = $2
		)
	`, accountID, apikey.StatusActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error checking active keys: %w", err)
	}
	return exists, nil
}

func (t *billingTx) InsertAPIKey(ctx context.Context, key *apikey.APIKey) (int64, error) {
	var insertedID int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, account_id, label, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, key.KeyHash, key.AccountID, key.Label, key.Status).Scan(&insertedID)
	if err != nil {
		return 0, fmt.Errorf("db error inserting api key: %w", err)
	}
	return insertedID, nil
}
