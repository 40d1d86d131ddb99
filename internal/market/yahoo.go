package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/finbridge/marketgate/internal/config"
	"github.com/finbridge/marketgate/internal/ierr"
)

// YahooProvider fetches quotes, history and fundamentals from the public
// Yahoo Finance chart/quoteSummary endpoints.
type YahooProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewYahooProvider(cfg *config.MarketConfig, logger *zap.Logger) *YahooProvider {
	return &YahooProvider{
		baseURL: cfg.UpstreamBaseURL,
		client:  &http.Client{Timeout: cfg.UpstreamTimeout},
		logger:  logger.Named("YahooProvider"),
	}
}

var _ Provider = (*YahooProvider)(nil)

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency             *string  `json:"currency"`
				ExchangeName         *string  `json:"exchangeName"`
				RegularMarketPrice   *float64 `json:"regularMarketPrice"`
				PreviousClose        *float64 `json:"previousClose"`
				RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
				RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
				RegularMarketVolume  *float64 `json:"regularMarketVolume"`
				RegularMarketOpen    *float64 `json:"regularMarketOpen"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol string, params url.Values) (*chartResponse, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(symbol), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ierr.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", "marketgate/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Upstream chart request failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ierr.ErrSymbolUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Upstream chart returned non-200", zap.String("symbol", symbol), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: upstream status %d", ierr.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding chart response: %v", ierr.ErrUpstreamUnavailable, err)
	}
	if body.Chart.Error != nil {
		if body.Chart.Error.Code == "Not Found" {
			return nil, ierr.ErrSymbolUnavailable
		}
		return nil, fmt.Errorf("%w: %s", ierr.ErrUpstreamUnavailable, body.Chart.Error.Description)
	}
	if len(body.Chart.Result) == 0 {
		return nil, ierr.ErrSymbolUnavailable
	}
	return &body, nil
}

func (p *YahooProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	body, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	meta := body.Chart.Result[0].Meta
	return &Quote{
		Symbol:        symbol,
		Currency:      meta.Currency,
		Exchange:      meta.ExchangeName,
		LastPrice:     meta.RegularMarketPrice,
		Open:          meta.RegularMarketOpen,
		DayHigh:       meta.RegularMarketDayHigh,
		DayLow:        meta.RegularMarketDayLow,
		PreviousClose: meta.PreviousClose,
		Volume:        floatToInt(meta.RegularMarketVolume),
	}, nil
}

func (p *YahooProvider) History(ctx context.Context, symbol string, q HistoryQuery) ([]Bar, error) {
	params := url.Values{}
	params.Set("interval", q.Interval)
	if q.Start != nil && q.End != nil {
		params.Set("period1", strconv.FormatInt(q.Start.Unix(), 10))
		params.Set("period2", strconv.FormatInt(q.End.Unix(), 10))
	} else {
		params.Set("range", q.Period)
	}

	body, err := p.fetchChart(ctx, symbol, params)
	if err != nil {
		return nil, err
	}

	result := body.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, ierr.ErrSymbolUnavailable
	}
	ohlcv := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		bar := Bar{TS: time.Unix(ts, 0).UTC()}
		if i < len(ohlcv.Open) {
			bar.Open = ohlcv.Open[i]
		}
		if i < len(ohlcv.High) {
			bar.High = ohlcv.High[i]
		}
		if i < len(ohlcv.Low) {
			bar.Low = ohlcv.Low[i]
		}
		if i < len(ohlcv.Close) {
			bar.Close = ohlcv.Close[i]
		}
		if i < len(ohlcv.Volume) {
			bar.Volume = floatToInt(ohlcv.Volume[i])
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile *struct {
				Sector   *string `json:"sector"`
				Industry *string `json:"industry"`
				Website  *string `json:"website"`
			} `json:"assetProfile"`
			SummaryDetail *struct {
				TrailingPE       rawValue `json:"trailingPE"`
				ForwardPE        rawValue `json:"forwardPE"`
				PriceToBook      rawValue `json:"priceToBook"`
				DividendYield    rawValue `json:"dividendYield"`
				Beta             rawValue `json:"beta"`
				FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  rawValue `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
			Price *struct {
				LongName *string `json:"longName"`
			} `json:"price"`
		} `json:"result"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// rawValue unwraps Yahoo's {"raw": 1.23, "fmt": "1.23"} number envelopes.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (p *YahooProvider) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=assetProfile,summaryDetail,price",
		p.baseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ierr.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", "marketgate/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Upstream quoteSummary request failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ierr.ErrSymbolUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream status %d", ierr.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body quoteSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding quoteSummary response: %v", ierr.ErrUpstreamUnavailable, err)
	}
	if body.QuoteSummary.Error != nil || len(body.QuoteSummary.Result) == 0 {
		return nil, ierr.ErrSymbolUnavailable
	}

	result := body.QuoteSummary.Result[0]
	f := &Fundamentals{Symbol: symbol}
	if result.Price != nil {
		f.LongName = result.Price.LongName
	}
	if result.AssetProfile != nil {
		f.Sector = result.AssetProfile.Sector
		f.Industry = result.AssetProfile.Industry
		f.Website = result.AssetProfile.Website
	}
	if sd := result.SummaryDetail; sd != nil {
		f.TrailingPE = sd.TrailingPE.Raw
		f.ForwardPE = sd.ForwardPE.Raw
		f.PriceToBook = sd.PriceToBook.Raw
		f.DividendYield = sd.DividendYield.Raw
		f.Beta = sd.Beta.Raw
		f.FiftyTwoWeekHigh = sd.FiftyTwoWeekHigh.Raw
		f.FiftyTwoWeekLow = sd.FiftyTwoWeekLow.Raw
	}
	return f, nil
}

func floatToInt(v *float64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
