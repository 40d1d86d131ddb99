package dto

import "github.com/finbridge/marketgate/internal/market"

// MarketResponse wraps every market-data payload with its provenance, so a
// client can tell a live answer from one served out of the degraded-mode
// cache.
type MarketResponse struct {
	Source string `json:"source"`
	Stale  bool   `json:"stale"`
	Data   any    `json:"data"`
}

type BatchQuoteEntry struct {
	Symbol string        `json:"symbol"`
	OK     bool          `json:"ok"`
	Stale  bool          `json:"stale"`
	Source string        `json:"source,omitempty"`
	Quote  *market.Quote `json:"quote,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type BatchQuotesResponse struct {
	Quotes []BatchQuoteEntry `json:"quotes"`
}

type HistoryResponse struct {
	Symbol   string       `json:"symbol"`
	Period   string       `json:"period"`
	Interval string       `json:"interval"`
	Bars     []market.Bar `json:"bars"`
}
