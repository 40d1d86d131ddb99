package dto

import "time"

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type RegisterResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Label string `json:"label" binding:"max=100"`
}

type APIKeyResponse struct {
	ID         int64      `json:"id"`
	Label      string     `json:"label"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// MintedAPIKeyResponse is the only place a raw key secret ever appears.
type MintedAPIKeyResponse struct {
	Key     string         `json:"key"`
	Details APIKeyResponse `json:"details"`
}
