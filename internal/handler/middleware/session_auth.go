package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/service/accounts"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	accountIDContextKey = "sessionAccountID"
)

// SessionAuthMiddleware protects the dashboard and key-management routes
// with the JWT issued at login.
func SessionAuthMiddleware(accountService *accounts.Service, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("SessionAuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeader)
		if authHeader == "" {
			log.Debug("Authorization header is missing")
			_ = c.Error(fmt.Errorf("%w: authorization header required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, bearerPrefix) {
			log.Debug("Authorization header format is invalid")
			_ = c.Error(fmt.Errorf("%w: invalid authorization header format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		if tokenString == "" {
			_ = c.Error(fmt.Errorf("%w: token missing", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		accountID, err := accountService.ValidateToken(tokenString)
		if err != nil {
			log.Warn("Session token validation failed", zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(accountIDContextKey, accountID)
		c.Next()
	}
}

// OptionalSessionAuthMiddleware resolves a session token when one is
// presented but lets anonymous requests through. Used on checkout, where a
// logged-in caller gets the session bound to their account.
func OptionalSessionAuthMiddleware(accountService *accounts.Service, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("OptionalSessionAuthMiddleware")
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeader)
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
		accountID, err := accountService.ValidateToken(tokenString)
		if err != nil {
			// A bad token on an optional route is treated as anonymous.
			log.Debug("Ignoring invalid session token", zap.Error(err))
			c.Next()
			return
		}

		c.Set(accountIDContextKey, accountID)
		c.Next()
	}
}

// GetSessionAccountID returns the authenticated account ID, or 0 outside a
// session-protected route.
func GetSessionAccountID(c *gin.Context) int64 {
	value, exists := c.Get(accountIDContextKey)
	if !exists {
		return 0
	}
	accountID, ok := value.(int64)
	if !ok {
		return 0
	}
	return accountID
}
