package marketdata

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/cache"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/market"
	"github.com/finbridge/marketgate/internal/metrics"
)

type fakeProvider struct {
	mu     sync.Mutex
	quotes map[string]*market.Quote
	calls  int
	down   bool

	// when set, Quote blocks until the channel is closed
	gate chan struct{}
}

func newFakeProvider() *fakeProvider {
	price := 187.44
	return &fakeProvider{
		quotes: map[string]*market.Quote{
			"AAPL": {Symbol: "AAPL", LastPrice: &price},
		},
	}
}

func (p *fakeProvider) Quote(ctx context.Context, symbol string) (*market.Quote, error) {
	p.mu.Lock()
	p.calls++
	down := p.down
	gate := p.gate
	quote, ok := p.quotes[symbol]
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if down {
		return nil, fmt.Errorf("%w: connect timeout", ierr.ErrUpstreamUnavailable)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ierr.ErrSymbolUnavailable, symbol)
	}
	cp := *quote
	return &cp, nil
}

func (p *fakeProvider) Fundamentals(ctx context.Context, symbol string) (*market.Fundamentals, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down {
		return nil, fmt.Errorf("%w: connect timeout", ierr.ErrUpstreamUnavailable)
	}
	return &market.Fundamentals{Symbol: symbol}, nil
}

func (p *fakeProvider) History(ctx context.Context, symbol string, q market.HistoryQuery) ([]market.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down {
		return nil, fmt.Errorf("%w: connect timeout", ierr.ErrUpstreamUnavailable)
	}
	return []market.Bar{{TS: time.Now().UTC()}}, nil
}

func (p *fakeProvider) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestService(provider market.Provider, c *cache.Cache) *Service {
	m := metrics.New(prometheus.NewRegistry())
	return NewService(provider, c, m, zap.NewNop())
}

func TestQuote_HealthyUpstreamAlwaysRefetches(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))
	ctx := context.Background()

	quote, source, err := svc.Quote(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, source)
	assert.Equal(t, "AAPL", quote.Symbol)

	_, source, err = svc.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceUpstream, source, "a cached entry never shadows a healthy upstream")
	assert.Equal(t, 2, provider.callCount())
}

func TestQuote_StaleFallbackWhenUpstreamDown(t *testing.T) {
	provider := newFakeProvider()
	clock := time.Now()
	c := cache.New(30*time.Second, 5*time.Minute).WithClock(func() time.Time { return clock })
	svc := newTestService(provider, c)
	ctx := context.Background()

	_, _, err := svc.Quote(ctx, "AAPL")
	require.NoError(t, err)

	// Past the TTL but inside the stale window, with the upstream down.
	clock = clock.Add(2 * time.Minute)
	provider.setDown(true)

	quote, source, err := svc.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceStaleCache, source)
	assert.True(t, source.IsStale())
	assert.Equal(t, "AAPL", quote.Symbol)
}

func TestQuote_FreshEntryDoesNotMaskFailure(t *testing.T) {
	provider := newFakeProvider()
	clock := time.Now()
	c := cache.New(30*time.Second, 5*time.Minute).WithClock(func() time.Time { return clock })
	svc := newTestService(provider, c)
	ctx := context.Background()

	_, _, err := svc.Quote(ctx, "AAPL")
	require.NoError(t, err)

	// Still inside the freshness window; the fallback only serves entries
	// that have aged past the TTL.
	clock = clock.Add(10 * time.Second)
	provider.setDown(true)

	_, _, err = svc.Quote(ctx, "AAPL")
	assert.ErrorIs(t, err, ierr.ErrUpstreamUnavailable)
}

func TestQuote_MissAndUpstreamDownFails(t *testing.T) {
	provider := newFakeProvider()
	provider.setDown(true)
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	_, _, err := svc.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ierr.ErrUpstreamUnavailable)
}

func TestQuote_ExpiredBeyondStaleWindowFails(t *testing.T) {
	provider := newFakeProvider()
	clock := time.Now()
	c := cache.New(30*time.Second, 5*time.Minute).WithClock(func() time.Time { return clock })
	svc := newTestService(provider, c)
	ctx := context.Background()

	_, _, err := svc.Quote(ctx, "AAPL")
	require.NoError(t, err)

	clock = clock.Add(10 * time.Minute)
	provider.setDown(true)

	_, _, err = svc.Quote(ctx, "AAPL")
	assert.ErrorIs(t, err, ierr.ErrUpstreamUnavailable)
}

func TestQuote_UnknownSymbolNoStaleFallback(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	_, _, err := svc.Quote(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, ierr.ErrSymbolUnavailable)
}

func TestQuote_InvalidSymbolRejectedBeforeUpstream(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	for _, symbol := range []string{"", "../etc/passwd", "TOOLONGSYMBOL1234", "AA PL"} {
		_, _, err := svc.Quote(context.Background(), symbol)
		assert.ErrorIs(t, err, ierr.ErrValidation, "symbol %q", symbol)
	}
	assert.Equal(t, 0, provider.callCount())
}

func TestHistory_ValidatesPeriodAndInterval(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))
	ctx := context.Background()

	_, err := svc.History(ctx, "AAPL", market.HistoryQuery{Period: "7mo", Interval: "1d"})
	assert.ErrorIs(t, err, ierr.ErrValidation)

	_, err = svc.History(ctx, "AAPL", market.HistoryQuery{Period: "1mo", Interval: "7m"})
	assert.ErrorIs(t, err, ierr.ErrValidation)

	bars, err := svc.History(ctx, "AAPL", market.HistoryQuery{Period: "1mo", Interval: "1d"})
	require.NoError(t, err)
	assert.NotEmpty(t, bars)
}

func TestHistory_NotCached(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))
	ctx := context.Background()

	q := market.HistoryQuery{Period: "1mo", Interval: "1d"}
	_, err := svc.History(ctx, "AAPL", q)
	require.NoError(t, err)
	_, err = svc.History(ctx, "AAPL", q)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.callCount())

	provider.setDown(true)
	_, err = svc.History(ctx, "AAPL", q)
	assert.ErrorIs(t, err, ierr.ErrUpstreamUnavailable, "history has no stale fallback")
}

func TestQuotes_BatchReportsPerSymbolOutcomes(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	results, err := svc.Quotes(context.Background(), []string{"aapl", "AAPL", "ZZZZZZ"})
	require.NoError(t, err)
	require.Len(t, results, 2, "duplicates collapse after normalization")

	bySymbol := make(map[string]BatchQuote, len(results))
	for _, r := range results {
		bySymbol[r.Symbol] = r
	}

	require.NoError(t, bySymbol["AAPL"].Err)
	assert.NotNil(t, bySymbol["AAPL"].Quote)
	assert.ErrorIs(t, bySymbol["ZZZZZZ"].Err, ierr.ErrSymbolUnavailable)
}

func TestQuotes_EmptyBatchRejected(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	_, err := svc.Quotes(context.Background(), nil)
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestQuotes_InvalidSymbolFailsBatch(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	_, err := svc.Quotes(context.Background(), []string{"AAPL", "bad symbol"})
	assert.ErrorIs(t, err, ierr.ErrValidation)
	assert.Equal(t, 0, provider.callCount())
}

func TestQuote_ConcurrentRequestsCollapse(t *testing.T) {
	provider := newFakeProvider()
	provider.gate = make(chan struct{})
	svc := newTestService(provider, cache.New(30*time.Second, 5*time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Quote(context.Background(), "AAPL")
			assert.NoError(t, err)
		}()
	}

	// Let the requests pile up behind the blocked first fetch, then let it
	// finish; the waiters share its result.
	assert.Eventually(t, func() bool { return provider.callCount() >= 1 },
		time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	assert.LessOrEqual(t, provider.callCount(), 2, "concurrent requests share upstream calls")
}

func TestFundamentals_StaleFallbackIndependentOfQuote(t *testing.T) {
	provider := newFakeProvider()
	clock := time.Now()
	c := cache.New(30*time.Second, 5*time.Minute).WithClock(func() time.Time { return clock })
	svc := newTestService(provider, c)
	ctx := context.Background()

	_, _, err := svc.Fundamentals(ctx, "AAPL")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	provider.setDown(true)

	_, source, err := svc.Fundamentals(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, SourceStaleCache, source)

	// The quote key holds no entry, so quotes fail outright.
	_, _, err = svc.Quote(ctx, "AAPL")
	assert.ErrorIs(t, err, ierr.ErrUpstreamUnavailable)
}
