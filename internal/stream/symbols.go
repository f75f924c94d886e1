// Package stream maintains a best-effort live connection to an external
// push-based ticker source and fans normalized price updates out to
// subscribers.
package stream

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// QuoteSuffix is the fixed quote-currency suffix the external source keys
// its tickers by. A display symbol "BTC" subscribes as "btcusdt".
const QuoteSuffix = "usdt"

// streamSymbolRegex matches a well-formed external ticker: lower-cased
// base symbol plus the quote suffix, e.g. "btcusdt".
var streamSymbolRegex = regexp.MustCompile(`^[a-z0-9]+` + QuoteSuffix + `$`)

// ErrInvalidStreamSymbol is returned when an external ticker does not
// follow the source's naming convention.
var ErrInvalidStreamSymbol = errors.New("stream: invalid stream symbol")

// StreamSymbol converts a display symbol to the external source's ticker
// form: lower-cased and suffixed with the quote currency.
func StreamSymbol(displaySymbol string) string {
	return strings.ToLower(displaySymbol) + QuoteSuffix
}

// BaseSymbol extracts the display symbol back out of an external ticker.
func BaseSymbol(streamSymbol string) (string, error) {
	if !streamSymbolRegex.MatchString(streamSymbol) {
		return "", fmt.Errorf("%w: %s (expected <symbol>%s)", ErrInvalidStreamSymbol, streamSymbol, QuoteSuffix)
	}
	return strings.TrimSuffix(streamSymbol, QuoteSuffix), nil
}
