package dto

type CreateCheckoutSessionRequest struct {
	Email      string `json:"email" binding:"required,email"`
	SuccessURL string `json:"success_url" binding:"required,url"`
	CancelURL  string `json:"cancel_url" binding:"required,url"`
}

type CheckoutSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
}

// WebhookAckResponse acknowledges a verified webhook delivery. The
// provisioned key itself is never echoed back to the billing provider.
type WebhookAckResponse struct {
	Received       bool   `json:"received"`
	Type           string `json:"type"`
	Handled        bool   `json:"handled"`
	ProvisionedKey bool   `json:"provisioned_key"`
}
