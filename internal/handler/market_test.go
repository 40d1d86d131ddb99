package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/cache"
	"github.com/finbridge/marketgate/internal/domain/apikey"
	"github.com/finbridge/marketgate/internal/domain/subscription"
	"github.com/finbridge/marketgate/internal/handler/middleware"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/market"
	"github.com/finbridge/marketgate/internal/metrics"
	"github.com/finbridge/marketgate/internal/service/authgate"
	"github.com/finbridge/marketgate/internal/service/marketdata"
	"github.com/finbridge/marketgate/internal/storage/memstorage"
	"github.com/finbridge/marketgate/internal/util"
)

type stubProvider struct {
	mu    sync.Mutex
	down  bool
	calls int
}

func (p *stubProvider) Quote(ctx context.Context, symbol string) (*market.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down {
		return nil, fmt.Errorf("%w: connect timeout", ierr.ErrUpstreamUnavailable)
	}
	if symbol != "AAPL" {
		return nil, fmt.Errorf("%w: %s", ierr.ErrSymbolUnavailable, symbol)
	}
	price := 187.44
	return &market.Quote{Symbol: symbol, LastPrice: &price}, nil
}

func (p *stubProvider) Fundamentals(ctx context.Context, symbol string) (*market.Fundamentals, error) {
	return &market.Fundamentals{Symbol: symbol}, nil
}

func (p *stubProvider) History(ctx context.Context, symbol string, q market.HistoryQuery) ([]market.Bar, error) {
	return []market.Bar{{TS: time.Now().UTC()}}, nil
}

func (p *stubProvider) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

type noopReinit struct{}

func (noopReinit) Reinitialize(ctx context.Context) error { return nil }

type marketFixture struct {
	router   *gin.Engine
	provider *stubProvider
	store    *memstorage.Store
	clock    *time.Time
	validKey string
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstorage.NewStore()
	acc := store.SeedAccount("trader@example.com", nil)
	subID := "sub_123"
	store.SeedSubscription(acc.ID, &subID, subscription.StatusActive)

	rawKey, keyHash, err := util.GenerateAPIKey()
	require.NoError(t, err)
	store.SeedKey(acc.ID, keyHash, "Primary live key", apikey.StatusActive)

	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	clock := time.Now()
	c := cache.New(30*time.Second, 5*time.Minute).WithClock(func() time.Time { return clock })

	provider := &stubProvider{}
	marketData := marketdata.NewService(provider, c, m, logger)
	gate := authgate.NewService(store.Keys(), store, store.Subscriptions(), noopReinit{}, nil, logger)
	marketHandler := NewMarketHandler(marketData, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuthMiddleware(gate, m, logger))
	{
		v1.GET("/quote/:symbol", marketHandler.GetQuote)
		v1.GET("/quotes", marketHandler.GetQuotes)
		v1.GET("/history/:symbol", marketHandler.GetHistory)
		v1.GET("/fundamentals/:symbol", marketHandler.GetFundamentals)
	}

	return &marketFixture{
		router:   router,
		provider: provider,
		store:    store,
		clock:    &clock,
		validKey: rawKey,
	}
}

func (f *marketFixture) get(path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestGetQuote_Authorized(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quote/AAPL", f.validKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source string `json:"source"`
		Stale  bool   `json:"stale"`
		Data   struct {
			Symbol    string   `json:"symbol"`
			LastPrice *float64 `json:"last_price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "upstream", body.Source)
	assert.False(t, body.Stale)
	assert.Equal(t, "AAPL", body.Data.Symbol)
	require.NotNil(t, body.Data.LastPrice)
}

func TestGetQuote_DenialReasonsAreDistinct(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quote/AAPL", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API_KEY_MISSING", decodeError(t, rec))

	rec = f.get("/v1/quote/AAPL", "mg_live_unknownunknown")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API_KEY_INVALID", decodeError(t, rec))

	lapsed := f.store.SeedAccount("lapsed@example.com", nil)
	rawKey, keyHash, err := util.GenerateAPIKey()
	require.NoError(t, err)
	f.store.SeedKey(lapsed.ID, keyHash, "Primary live key", apikey.StatusActive)

	rec = f.get("/v1/quote/AAPL", rawKey)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SUBSCRIPTION_INACTIVE", decodeError(t, rec))
}

// An unauthenticated caller must get the auth error even when the symbol is
// also invalid: the gate runs before parameter validation.
func TestGetQuote_AuthRunsBeforeValidation(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quote/@@invalid@@", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "API_KEY_MISSING", decodeError(t, rec))

	rec = f.get("/v1/quote/@@invalid@@", f.validKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestGetQuote_StaleFallback(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quote/AAPL", f.validKey)
	require.Equal(t, http.StatusOK, rec.Code)

	*f.clock = f.clock.Add(2 * time.Minute)
	f.provider.setDown(true)

	rec = f.get("/v1/quote/AAPL", f.validKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source string `json:"source"`
		Stale  bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stale_cache", body.Source)
	assert.True(t, body.Stale)
}

func TestGetQuote_UpstreamDownNoCache(t *testing.T) {
	f := newMarketFixture(t)
	f.provider.setDown(true)

	rec := f.get("/v1/quote/AAPL", f.validKey)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", decodeError(t, rec))
}

func TestGetQuote_UnknownSymbol(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quote/MSFT", f.validKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SYMBOL_UNAVAILABLE", decodeError(t, rec))
}

func TestGetQuotes_Batch(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/quotes?symbols=AAPL,MSFT", f.validKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Quotes []struct {
			Symbol string `json:"symbol"`
			OK     bool   `json:"ok"`
			Error  string `json:"error"`
		} `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Quotes, 2)
	assert.True(t, body.Quotes[0].OK)
	assert.Empty(t, body.Quotes[0].Error)
	assert.False(t, body.Quotes[1].OK)
	assert.NotEmpty(t, body.Quotes[1].Error)
}

func TestGetHistory_InvalidPeriod(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/history/AAPL?period=7mo", f.validKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestGetHistory_Defaults(t *testing.T) {
	f := newMarketFixture(t)

	rec := f.get("/v1/history/AAPL", f.validKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Period   string `json:"period"`
		Interval string `json:"interval"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1mo", body.Period)
	assert.Equal(t, "1d", body.Interval)
}
