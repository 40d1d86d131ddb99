package apikey

import "time"

type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

const (
	KeyPrefix       = "mg_live_"
	KeySecretLength = 32

	// PrimaryKeyLabel names the key the billing reconciler provisions after
	// the first successful checkout.
	PrimaryKeyLabel = "Primary live key"
)

type APIKey struct {
	ID         int64      `db:"id"`
	KeyHash    string     `db:"key_hash"`
	AccountID  int64      `db:"account_id"`
	Label      string     `db:"label"`
	Status     Status     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
}
