package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/metrics"
	"github.com/finbridge/marketgate/internal/service/authgate"
	"github.com/finbridge/marketgate/internal/service/metering"
	"github.com/finbridge/marketgate/internal/storage/memstorage"
)

// The recorder unwinds before the outer error handler writes the response,
// so the recorded status must come from the pending error, not the writer.
func TestUsageRecorder_RecordsErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "validation failure", err: fmt.Errorf("%w: bad symbol", ierr.ErrValidation), wantStatus: http.StatusBadRequest},
		{name: "unknown symbol", err: ierr.ErrSymbolUnavailable, wantStatus: http.StatusNotFound},
		{name: "upstream outage", err: ierr.ErrUpstreamUnavailable, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)

			store := memstorage.NewStore()
			acc := store.SeedAccount("trader@example.com", nil)
			key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)

			meteringSvc := metering.NewService(store.Usage(), 90, zap.NewNop())
			m := metrics.New(prometheus.NewRegistry())

			router := gin.New()
			router.Use(ErrorHandlerMiddleware(zap.NewNop()))
			router.GET("/v1/quote/:symbol", UsageRecorderMiddleware(meteringSvc, m), func(c *gin.Context) {
				c.Set(principalContextKey, &authgate.Principal{KeyID: key.ID, AccountID: acc.ID})
				_ = c.Error(tt.err)
			})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quote/AAPL", nil))
			require.Equal(t, tt.wantStatus, rec.Code)

			require.Eventually(t, func() bool {
				return len(store.Usage().Entries()) == 1
			}, time.Second, time.Millisecond)

			entry := store.Usage().Entries()[0]
			assert.Equal(t, key.ID, entry.APIKeyID)
			assert.Equal(t, "/v1/quote/:symbol", entry.Endpoint)
			assert.Equal(t, tt.wantStatus, entry.StatusCode)
		})
	}
}

func TestUsageRecorder_SuccessUsesWriterStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	key := store.SeedKey(acc.ID, "hash", "Primary live key", apikey.StatusActive)

	meteringSvc := metering.NewService(store.Usage(), 90, zap.NewNop())
	m := metrics.New(prometheus.NewRegistry())

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop()))
	router.GET("/v1/quote/:symbol", UsageRecorderMiddleware(meteringSvc, m), func(c *gin.Context) {
		c.Set(principalContextKey, &authgate.Principal{KeyID: key.ID, AccountID: acc.ID})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quote/AAPL", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(store.Usage().Entries()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, http.StatusOK, store.Usage().Entries()[0].StatusCode)
}
