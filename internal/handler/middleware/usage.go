package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finbridge/marketgate/internal/metrics"
	"github.com/finbridge/marketgate/internal/service/metering"
)

// UsageRecorderMiddleware meters every gated request after it completes:
// one usage-log row attributed to the API key, plus the Prometheus request
// counters. Denied requests are metered too; a 401 is still traffic.
func UsageRecorderMiddleware(meteringSvc *metering.Service, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		// This middleware unwinds before the outer error handler writes the
		// response, so a pending error's status is not on the writer yet.
		status := c.Writer.Status()
		if len(c.Errors) > 0 {
			status, _ = mapError(c.Errors.Last().Err)
		}

		m.ObserveRequest(endpoint, status, elapsed.Seconds())

		if principal := GetPrincipal(c); principal != nil {
			meteringSvc.Record(principal.KeyID, endpoint, status, elapsed)
		}
	}
}
