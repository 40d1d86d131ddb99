package billing

import "encoding/json"

// Recognized billing-provider event types. Anything else is acknowledged but
// ignored so the provider stops retrying.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is a signature-verified webhook event. Object is the raw
// `data.object` payload; the reconciler trusts it.
type Event struct {
	Type   string
	Object json.RawMessage
}

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	CustomerEmail string            `json:"customer_email"`
	PaymentStatus string            `json:"payment_status"`
	Subscription  string            `json:"subscription"`
	Metadata      map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// Result is echoed back to the provider as the acknowledgment body.
type Result struct {
	Handled        bool
	ProvisionedKey bool

	// rawKey holds the newly provisioned secret, when one was minted. It is
	// never serialized; tests use it to exercise the full auth round trip.
	rawKey string
}

// RawProvisionedKey exposes the minted secret for callers that need to hand
// it to the account owner out of band.
func (r Result) RawProvisionedKey() string { return r.rawKey }
