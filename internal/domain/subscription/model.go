package subscription

import "time"

// Status values come from the billing provider verbatim (active, trialing,
// past_due, canceled, incomplete, ...). Only active and trialing grant access.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

type Subscription struct {
	ID                   int64      `db:"id"`
	AccountID            int64      `db:"account_id"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id"`
	Status               Status     `db:"status"`
	Plan                 string     `db:"plan"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end"`
}
