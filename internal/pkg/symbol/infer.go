// Package symbol holds the pure mapping rules used to keep exits executable
// when a leg record omits its exchange or product.
package symbol

import (
	"strings"
)

const (
	ExchangeNSE = "NSE"
	ExchangeNFO = "NFO"
	ExchangeBFO = "BFO"

	ProductIntraday = "MIS"
)

// bseUnderlyings are the index families whose option contracts trade on the
// BSE derivatives segment. Every other recognized index family maps to NFO.
var bseUnderlyings = []string{"SENSEX", "BANKEX"}

var nseUnderlyings = []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY"}

// IsOption reports whether a symbol looks like an option contract
// (CE/PE marker in the trading symbol).
func IsOption(sym string) bool {
	up := strings.ToUpper(strings.TrimSpace(sym))
	return strings.Contains(up, "CE") || strings.Contains(up, "PE")
}

// InferExchange maps a bare trading symbol to its most likely exchange.
// Options route to the derivatives segment of their underlying's venue,
// unrecognized option underlyings default to NFO, and anything that does not
// look like an option is treated as cash-segment equity on NSE.
func InferExchange(sym string) string {
	up := strings.ToUpper(strings.TrimSpace(sym))
	if !IsOption(up) {
		return ExchangeNSE
	}
	for _, u := range bseUnderlyings {
		if strings.Contains(up, u) {
			return ExchangeBFO
		}
	}
	for _, u := range nseUnderlyings {
		if strings.Contains(up, u) {
			return ExchangeNFO
		}
	}
	return ExchangeNFO
}

// DefaultProduct is the product code assumed when a leg carries none.
func DefaultProduct() string {
	return ProductIntraday
}
