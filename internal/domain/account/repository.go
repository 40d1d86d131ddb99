package account

import "context"

type Repository interface {
	Create(ctx context.Context, acc *Account) (int64, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*Account, error)
	SetStripeCustomerID(ctx context.Context, id int64, customerID string) error
}
