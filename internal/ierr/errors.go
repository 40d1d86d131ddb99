package ierr

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource conflict")
	ErrInternalServer = errors.New("internal server error")

	// Authorization gate denials. The three reasons are distinct on purpose:
	// callers build different remediation flows from each one.
	ErrMissingAPIKey        = errors.New("missing api key")
	ErrInvalidAPIKey        = errors.New("invalid api key")
	ErrSubscriptionInactive = errors.New("subscription inactive")

	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired session token")
	ErrAPIKeyNotFound     = errors.New("api key not found")

	// "someone sent a forged event" vs "we forgot to configure the secret".
	ErrWebhookSignature     = errors.New("invalid webhook signature")
	ErrBillingNotConfigured = errors.New("billing provider not configured")

	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")
	ErrSymbolUnavailable   = errors.New("symbol not found or unavailable")
)
