package market

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finbridge/marketgate/internal/ierr"
)

var symbolRe = regexp.MustCompile(`^[A-Z0-9.\-]{1,15}$`)

var allowedPeriods = map[string]struct{}{
	"1d": {}, "5d": {}, "1mo": {}, "3mo": {}, "6mo": {}, "1y": {},
	"2y": {}, "5y": {}, "10y": {}, "ytd": {}, "max": {},
}

var allowedIntervals = map[string]struct{}{
	"1m": {}, "2m": {}, "5m": {}, "15m": {}, "30m": {}, "60m": {},
	"90m": {}, "1h": {}, "1d": {}, "5d": {}, "1wk": {}, "1mo": {}, "3mo": {},
}

// NormalizeSymbol uppercases and validates a caller-supplied ticker symbol.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRe.MatchString(symbol) {
		return "", fmt.Errorf("%w: invalid symbol format", ierr.ErrValidation)
	}
	return symbol, nil
}

func ValidatePeriod(period string) (string, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if _, ok := allowedPeriods[period]; !ok {
		return "", fmt.Errorf("%w: invalid period", ierr.ErrValidation)
	}
	return period, nil
}

func ValidateInterval(interval string) (string, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if _, ok := allowedIntervals[interval]; !ok {
		return "", fmt.Errorf("%w: invalid interval", ierr.ErrValidation)
	}
	return interval, nil
}
