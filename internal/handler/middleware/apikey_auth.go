package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/metrics"
	"github.com/finbridge/marketgate/internal/service/authgate"
)

const (
	apiKeyHeader        = "X-API-Key"
	principalContextKey = "apiKeyPrincipal"
)

// APIKeyAuthMiddleware runs the authorization gate before any market-data
// handler. It runs ahead of parameter validation on purpose: an unauthorized
// caller learns nothing about what inputs would have been accepted.
func APIKeyAuthMiddleware(gate *authgate.Service, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("APIKeyAuthMiddleware")
	return func(c *gin.Context) {
		rawKey := c.GetHeader(apiKeyHeader)

		principal, err := gate.Authorize(c.Request.Context(), rawKey)
		if err != nil {
			switch {
			case errors.Is(err, ierr.ErrMissingAPIKey):
				m.DeniedRequests.WithLabelValues("missing").Inc()
			case errors.Is(err, ierr.ErrInvalidAPIKey):
				m.DeniedRequests.WithLabelValues("invalid").Inc()
				log.Warn("Rejected unknown or revoked API key", zap.String("path", c.FullPath()))
			case errors.Is(err, ierr.ErrSubscriptionInactive):
				m.DeniedRequests.WithLabelValues("subscription_inactive").Inc()
			default:
				m.DeniedRequests.WithLabelValues("error").Inc()
			}
			_ = c.Error(err)
			c.Abort()
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// GetPrincipal returns the admitted caller set by APIKeyAuthMiddleware, or
// nil outside a gated route.
func GetPrincipal(c *gin.Context) *authgate.Principal {
	value, exists := c.Get(principalContextKey)
	if !exists {
		return nil
	}
	principal, ok := value.(*authgate.Principal)
	if !ok {
		return nil
	}
	return principal
}
