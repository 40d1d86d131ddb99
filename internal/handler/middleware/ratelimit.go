package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/handler/dto"
)

// RateLimitMiddleware applies a Redis fixed-window limit per API key. Redis
// being down degrades to allow; rate limiting protects the upstream, it is
// not a security control.
func RateLimitMiddleware(client *redis.Client, cfg *config.RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("RateLimitMiddleware")
	return func(c *gin.Context) {
		if cfg.RequestsPerSecond <= 0 || cfg.Window <= 0 || client == nil {
			c.Next()
			return
		}

		principal := GetPrincipal(c)
		if principal == nil || principal.KeyID == 0 {
			c.Next()
			return
		}

		now := time.Now()
		window := now.UnixNano() / int64(cfg.Window)
		key := "rl:key:" + strconv.FormatInt(principal.KeyID, 10) + ":" + strconv.FormatInt(window, 10)

		pipe := client.Pipeline()
		cnt := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, cfg.Window*2)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			log.Warn("Rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}

		if cnt.Val() > int64(cfg.RequestsPerSecond) {
			remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
			c.Header("Retry-After", strconv.Itoa(int(remain.Round(time.Second)/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.APIErrorResponse{
				Code:    "RATE_LIMITED",
				Message: "Request allowance exceeded, slow down.",
			})
			return
		}

		c.Next()
	}
}
