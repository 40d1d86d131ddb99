// Package marketdata serves quotes, history and fundamentals. The upstream
// provider is always tried first, so a healthy upstream yields live data;
// the stale-while-revalidate cache only answers when the fetch fails and a
// recent-enough entry is still usable.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/finbridge/marketgate/internal/cache"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/market"
	"github.com/finbridge/marketgate/internal/metrics"
)

// Source reports where a response body came from; handlers echo it so
// clients can tell a live answer from a degraded one.
type Source string

const (
	SourceUpstream   Source = "upstream"
	SourceStaleCache Source = "stale_cache"
)

// IsStale reports whether the payload was served from an expired cache entry.
func (s Source) IsStale() bool { return s == SourceStaleCache }

// batchConcurrency bounds parallel upstream fetches for multi-symbol
// requests.
const batchConcurrency = 4

type Service struct {
	provider market.Provider
	cache    *cache.Cache
	metrics  *metrics.Metrics
	group    singleflight.Group
	logger   *zap.Logger
}

func NewService(provider market.Provider, c *cache.Cache, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		cache:    c,
		metrics:  m,
		logger:   logger.Named("MarketDataService"),
	}
}

// lookup implements the fetch-then-fallback path shared by the cached data
// kinds. Concurrent requests for the same key collapse into a single
// upstream call.
func (s *Service) lookup(ctx context.Context, kind, key string, load func(context.Context) (any, error)) (any, Source, error) {
	payload, err, _ := s.group.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err == nil {
		s.cache.Put(key, payload)
		return payload, SourceUpstream, nil
	}

	if errors.Is(err, ierr.ErrSymbolUnavailable) {
		// A definitive "no such symbol" is an answer, not an outage; the
		// stale fallback does not apply.
		return nil, "", err
	}

	s.metrics.UpstreamErrors.WithLabelValues(kind).Inc()

	if stale, state := s.cache.Get(key); state == cache.Stale {
		s.metrics.CacheLookups.WithLabelValues("stale").Inc()
		s.logger.Warn("Serving stale cache entry, upstream unavailable",
			zap.String("key", key),
			zap.Error(err))
		return stale, SourceStaleCache, nil
	}

	s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, "", err
}

func (s *Service) Quote(ctx context.Context, symbol string) (*market.Quote, Source, error) {
	symbol, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, "", err
	}

	payload, source, err := s.lookup(ctx, "quote", "quote:"+symbol, func(ctx context.Context) (any, error) {
		return s.provider.Quote(ctx, symbol)
	})
	if err != nil {
		return nil, "", err
	}
	return payload.(*market.Quote), source, nil
}

func (s *Service) Fundamentals(ctx context.Context, symbol string) (*market.Fundamentals, Source, error) {
	symbol, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, "", err
	}

	payload, source, err := s.lookup(ctx, "fundamentals", "fundamentals:"+symbol, func(ctx context.Context) (any, error) {
		return s.provider.Fundamentals(ctx, symbol)
	})
	if err != nil {
		return nil, "", err
	}
	return payload.(*market.Fundamentals), source, nil
}

// History fetches a bar series. History responses are not cached; an
// upstream failure surfaces directly.
func (s *Service) History(ctx context.Context, symbol string, q market.HistoryQuery) ([]market.Bar, error) {
	symbol, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if q.Period, err = market.ValidatePeriod(q.Period); err != nil {
		return nil, err
	}
	if q.Interval, err = market.ValidateInterval(q.Interval); err != nil {
		return nil, err
	}

	bars, err := s.provider.History(ctx, symbol, q)
	if err != nil {
		if !errors.Is(err, ierr.ErrSymbolUnavailable) {
			s.metrics.UpstreamErrors.WithLabelValues("history").Inc()
		}
		return nil, err
	}
	return bars, nil
}

// BatchQuote is one symbol's outcome inside a multi-symbol request. The
// batch never fails as a whole; each symbol reports its own error.
type BatchQuote struct {
	Symbol string
	Quote  *market.Quote
	Source Source
	Err    error
}

func (s *Service) Quotes(ctx context.Context, symbols []string) ([]BatchQuote, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ierr.ErrValidation)
	}

	normalized := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		symbol, err := market.NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		normalized = append(normalized, symbol)
	}
	sort.Strings(normalized)

	results := make([]BatchQuote, len(normalized))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for i, symbol := range normalized {
		g.Go(func() error {
			quote, source, err := s.Quote(gctx, symbol)
			results[i] = BatchQuote{Symbol: symbol, Quote: quote, Source: source, Err: err}
			return nil
		})
	}
	// Workers never return errors; per-symbol failures stay in the slice.
	_ = g.Wait()

	return results, nil
}
