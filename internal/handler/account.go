package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/handler/dto"
	"github.com/finbridge/marketgate/internal/handler/middleware"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/service/accounts"
)

type AccountHandler struct {
	accounts *accounts.Service
	logger   *zap.Logger
}

func NewAccountHandler(accountService *accounts.Service, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accountService,
		logger:   logger.Named("AccountHandler"),
	}
}

func (h *AccountHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	acc, err := h.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.RegisterResponse{ID: acc.ID, Email: acc.Email})
}

func (h *AccountHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	token, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}

func (h *AccountHandler) CreateKey(c *gin.Context) {
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	accountID := middleware.GetSessionAccountID(c)
	rawKey, key, err := h.accounts.CreateKey(c.Request.Context(), accountID, req.Label)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.MintedAPIKeyResponse{
		Key:     rawKey,
		Details: toAPIKeyResponse(key),
	})
}

func (h *AccountHandler) ListKeys(c *gin.Context) {
	accountID := middleware.GetSessionAccountID(c)
	keys, err := h.accounts.ListKeys(c.Request.Context(), accountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]dto.APIKeyResponse, 0, len(keys))
	for _, key := range keys {
		resp = append(resp, toAPIKeyResponse(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": resp})
}

func (h *AccountHandler) RotateKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	accountID := middleware.GetSessionAccountID(c)
	rawKey, key, err := h.accounts.RotateKey(c.Request.Context(), accountID, keyID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.MintedAPIKeyResponse{
		Key:     rawKey,
		Details: toAPIKeyResponse(key),
	})
}

func (h *AccountHandler) RevokeKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	accountID := middleware.GetSessionAccountID(c)
	if err := h.accounts.RevokeKey(c.Request.Context(), accountID, keyID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) ActivateKey(c *gin.Context) {
	keyID, ok := keyIDParam(c)
	if !ok {
		return
	}

	accountID := middleware.GetSessionAccountID(c)
	if err := h.accounts.ActivateKey(c.Request.Context(), accountID, keyID); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func keyIDParam(c *gin.Context) (int64, bool) {
	keyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || keyID <= 0 {
		_ = c.Error(ierr.ErrAPIKeyNotFound)
		return 0, false
	}
	return keyID, true
}

func toAPIKeyResponse(key *apikey.APIKey) dto.APIKeyResponse {
	return dto.APIKeyResponse{
		ID:         key.ID,
		Label:      key.Label,
		Status:     string(key.Status),
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
	}
}
