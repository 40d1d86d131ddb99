package account

import "time"

// BootstrapEmail is the reserved system account that owns the statically
// configured API keys. Its keys bypass the subscription gate.
const BootstrapEmail = "system@marketgate.local"

type Account struct {
	ID               int64     `db:"id"`
	Email            string    `db:"email"`
	PasswordHash     string    `db:"password_hash"`
	StripeCustomerID *string   `db:"stripe_customer_id"`
	CreatedAt        time.Time `db:"created_at"`
}
