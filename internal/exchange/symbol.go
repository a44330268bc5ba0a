// symbol.go holds symbol normalization shared by all adapters. Each venue
// spells the same perpetual differently (FOOUSDT, FOO_USDT, FOO-USDT);
// internally everything is keyed by the normalized base ticker.
package exchange

import (
	"strings"
)

// NormalizeBase strips quote-currency decorations and uppercases a raw
// ticker. "wojak_usdt", "WOJAK-USDT" and "WOJAKUSDT" all normalize to
// "WOJAK". Plain tickers pass through unchanged.
func NormalizeBase(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "#")
	for _, suffix := range []string{"/USDT:USDT", "_USDT", "-USDT", "/USDT", "USDT"} {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s
}

// ValidBase reports whether s looks like a base ticker: 1-15 alphanumeric
// characters. Digits are allowed anywhere ("0G", "1INCH").
func ValidBase(s string) bool {
	if len(s) < 1 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Default taker-fee rates used when the venue's instrument list does not
// publish one and config does not override it.
var defaultTakerFees = map[string]float64{
	"bybit": 0.0006,
	"gate":  0.0005,
	"mexc":  0.0004,
	"bingx": 0.0004,
}

const fallbackTakerFee = 0.001

// takerFee resolves the taker fee for a venue, preferring the published
// rate, then the per-venue default, then the conservative fallback.
func takerFee(venue string, published float64) float64 {
	if published > 0 {
		return published
	}
	if fee, ok := defaultTakerFees[venue]; ok {
		return fee
	}
	return fallbackTakerFee
}
