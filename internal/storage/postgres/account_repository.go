package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/account"
	"github.com/finbridge/marketgate/internal/ierr"
)

type AccountRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAccountRepository(db *pgxpool.Pool, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger.Named("AccountRepository"),
	}
}

var _ account.Repository = (*AccountRepository)(nil)

const accountColumns = `id, email, password_hash, stripe_customer_id, created_at`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acc account.Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &acc.StripeCustomerID, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) (int64, error) {
	var insertedID int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, strings.ToLower(acc.Email), acc.PasswordHash).Scan(&insertedID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Warn("Account email already registered", zap.String("email", acc.Email))
			return 0, ierr.ErrEmailTaken
		}
		r.logger.Error("Failed to create account", zap.Error(err))
		return 0, fmt.Errorf("db error creating account: %w", err)
	}

	return insertedID, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrAccountNotFound
		}
		r.logger.Error("Failed to find account by id", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("db error finding account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email))
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrAccountNotFound
		}
		r.logger.Error("Failed to find account by email", zap.Error(err))
		return nil, fmt.Errorf("db error finding account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrAccountNotFound
		}
		r.logger.Error("Failed to find account by stripe customer id", zap.Error(err))
		return nil, fmt.Errorf("db error finding account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) SetStripeCustomerID(ctx context.Context, id int64, customerID string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE accounts SET stripe_customer_id = $1 WHERE id = $2`, customerID, id)
	if err != nil {
		r.logger.Error("Failed to set stripe customer id", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("db error updating account: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ierr.ErrAccountNotFound
	}
	return nil
}
