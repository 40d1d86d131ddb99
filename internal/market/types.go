package market

import (
	"context"
	"time"
)

type Quote struct {
	Symbol        string   `json:"symbol"`
	Currency      *string  `json:"currency"`
	Exchange      *string  `json:"exchange"`
	LastPrice     *float64 `json:"last_price"`
	Open          *float64 `json:"open"`
	DayHigh       *float64 `json:"day_high"`
	DayLow        *float64 `json:"day_low"`
	PreviousClose *float64 `json:"previous_close"`
	Volume        *int64   `json:"volume"`
	MarketCap     *int64   `json:"market_cap"`
}

type Fundamentals struct {
	Symbol           string   `json:"symbol"`
	LongName         *string  `json:"long_name"`
	Sector           *string  `json:"sector"`
	Industry         *string  `json:"industry"`
	Website          *string  `json:"website"`
	TrailingPE       *float64 `json:"trailing_pe"`
	ForwardPE        *float64 `json:"forward_pe"`
	PriceToBook      *float64 `json:"price_to_book"`
	DividendYield    *float64 `json:"dividend_yield"`
	Beta             *float64 `json:"beta"`
	FiftyTwoWeekHigh *float64 `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  *float64 `json:"fifty_two_week_low"`
}

type Bar struct {
	TS     time.Time `json:"ts"`
	Open   *float64  `json:"open"`
	High   *float64  `json:"high"`
	Low    *float64  `json:"low"`
	Close  *float64  `json:"close"`
	Volume *int64    `json:"volume"`
}

type HistoryQuery struct {
	Period   string
	Interval string
	Start    *time.Time
	End      *time.Time
}

// Provider is the opaque upstream market-data collaborator. Any error other
// than ierr.ErrSymbolUnavailable is treated uniformly as an upstream failure
// and is eligible for the stale-cache fallback.
type Provider interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
	History(ctx context.Context, symbol string, q HistoryQuery) ([]Bar, error)
}
