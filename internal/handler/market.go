package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/handler/dto"
	"github.com/finbridge/marketgate/internal/ierr"
	"github.com/finbridge/marketgate/internal/market"
	"github.com/finbridge/marketgate/internal/service/marketdata"
)

// maxBatchSymbols caps a single /quotes request.
const maxBatchSymbols = 25

type MarketHandler struct {
	marketData *marketdata.Service
	logger     *zap.Logger
}

func NewMarketHandler(marketData *marketdata.Service, logger *zap.Logger) *MarketHandler {
	return &MarketHandler{
		marketData: marketData,
		logger:     logger.Named("MarketHandler"),
	}
}

func (h *MarketHandler) GetQuote(c *gin.Context) {
	quote, source, err := h.marketData.Quote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.MarketResponse{Source: string(source), Stale: source.IsStale(), Data: quote})
}

func (h *MarketHandler) GetQuotes(c *gin.Context) {
	raw := c.Query("symbols")
	symbols := make([]string, 0, 8)
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) > maxBatchSymbols {
		_ = c.Error(errTooManySymbols())
		return
	}

	results, err := h.marketData.Quotes(c.Request.Context(), symbols)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := dto.BatchQuotesResponse{Quotes: make([]dto.BatchQuoteEntry, 0, len(results))}
	for _, r := range results {
		entry := dto.BatchQuoteEntry{Symbol: r.Symbol}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		} else {
			entry.OK = true
			entry.Stale = r.Source.IsStale()
			entry.Source = string(r.Source)
			entry.Quote = r.Quote
		}
		resp.Quotes = append(resp.Quotes, entry)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MarketHandler) GetHistory(c *gin.Context) {
	q := market.HistoryQuery{
		Period:   c.DefaultQuery("period", "1mo"),
		Interval: c.DefaultQuery("interval", "1d"),
	}
	if start, ok := parseDateQuery(c, "start"); ok {
		q.Start = start
	} else {
		return
	}
	if end, ok := parseDateQuery(c, "end"); ok {
		q.End = end
	} else {
		return
	}

	bars, err := h.marketData.History(c.Request.Context(), c.Param("symbol"), q)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Symbol:   strings.ToUpper(strings.TrimSpace(c.Param("symbol"))),
		Period:   q.Period,
		Interval: q.Interval,
		Bars:     bars,
	})
}

func (h *MarketHandler) GetFundamentals(c *gin.Context) {
	fundamentals, source, err := h.marketData.Fundamentals(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.MarketResponse{Source: string(source), Stale: source.IsStale(), Data: fundamentals})
}

func errTooManySymbols() error {
	return fmt.Errorf("%w: at most %d symbols per request", ierr.ErrValidation, maxBatchSymbols)
}

func errBadDate(name string) error {
	return fmt.Errorf("%w: query parameter %q must be formatted YYYY-MM-DD", ierr.ErrValidation, name)
}

func parseDateQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		_ = c.Error(errBadDate(name))
		return nil, false
	}
	return &t, true
}
