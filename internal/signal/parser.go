// Package signal turns raw alert text into structured arbitrage signals.
//
// The monitored channels post in several formats, all variations on:
//
//	📈📈#WOJAK | Spread: 14.11%
//	Short GATE: $0.1251 | Long MEXC: $0.1104
//
// The parser is pure and deterministic; the Router wraps it with LRU
// deduplication and feeds the filter.
package signal

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"crossarb/internal/exchange"
	"crossarb/pkg/types"
)

var (
	spreadRe = regexp.MustCompile(`(?i)spread[:\s]*([0-9]+(?:\.[0-9]+)?)\s*%`)
	hashRe   = regexp.MustCompile(`#([A-Za-z0-9]+)`)
	copyRe   = regexp.MustCompile(`(?i)\(\s*copy:\s*([A-Za-z0-9_-]+)\s*\)`)
	pairRe   = regexp.MustCompile(`\b([A-Za-z0-9]+)[_-]USDT\b`)
	legRe    = regexp.MustCompile(`(?i)(long|short)[\s_]*([A-Za-z]{3,12})\s*:?\s*\$\s*([0-9]+(?:\.[0-9]+)?)`)
	dollarRe = regexp.MustCompile(`\$\s*([0-9]+(?:\.[0-9]+)?)`)
)

// venueAliases maps the channel's venue spellings to adapter names.
var venueAliases = map[string]string{
	"bybit":  "bybit",
	"gate":   "gate",
	"gateio": "gate",
	"mexc":   "mexc",
	"bingx":  "bingx",
}

// words that look like tickers but never are, for the proximity fallback.
var symbolStopwords = map[string]bool{
	"SPREAD": true, "LONG": true, "SHORT": true, "USDT": true, "USD": true,
	"BYBIT": true, "GATE": true, "GATEIO": true, "MEXC": true, "BINGX": true,
	"COPY": true, "NEW": true, "ALERT": true,
}

// Parse extracts a SignalEvent from raw message text. The second return
// is false when the message is not an actionable signal: no spread, no
// recognizable symbol, no priced long and short leg, or an explicit
// "aligned" (converged) notice.
func Parse(text string) (types.SignalEvent, bool) {
	if strings.Contains(strings.ToLower(text), "aligned") {
		return types.SignalEvent{}, false
	}

	sm := spreadRe.FindStringSubmatch(text)
	if sm == nil {
		return types.SignalEvent{}, false
	}
	spread, err := strconv.ParseFloat(sm[1], 64)
	if err != nil || spread <= 0 {
		return types.SignalEvent{}, false
	}

	symbol, ok := extractSymbol(text)
	if !ok {
		return types.SignalEvent{}, false
	}

	// A tradeable alert names both sides. Unknown venue spellings still
	// satisfy the leg requirement; they just carry no usable price.
	prices := make(map[string]float64)
	var sawLong, sawShort bool
	for _, leg := range legRe.FindAllStringSubmatch(text, -1) {
		price, err := strconv.ParseFloat(leg[3], 64)
		if err != nil || price <= 0 {
			continue
		}
		if strings.EqualFold(leg[1], "long") {
			sawLong = true
		} else {
			sawShort = true
		}
		venue, ok := venueAliases[strings.ToLower(leg[2])]
		if !ok {
			continue
		}
		prices[venue] = price
	}
	if !sawLong || !sawShort {
		return types.SignalEvent{}, false
	}

	return types.SignalEvent{
		Symbol:   symbol,
		Spread:   spread,
		Prices:   prices,
		RefPrice: medianDollar(text),
		ParsedAt: time.Now(),
	}, true
}

// extractSymbol tries the formats in decreasing reliability: an explicit
// #TOKEN tag, a (COPY: TOKEN) marker, a TOKEN_USDT pair spelling, then
// any plausible ticker on the line mentioning the spread.
func extractSymbol(text string) (string, bool) {
	if m := hashRe.FindStringSubmatch(text); m != nil {
		if s := normalize(m[1]); s != "" {
			return s, true
		}
	}
	if m := copyRe.FindStringSubmatch(text); m != nil {
		if s := normalize(m[1]); s != "" {
			return s, true
		}
	}
	if m := pairRe.FindStringSubmatch(text); m != nil {
		if s := normalize(m[1]); s != "" {
			return s, true
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if !spreadRe.MatchString(line) {
			continue
		}
		for _, word := range strings.FieldsFunc(line, func(r rune) bool {
			return (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9')
		}) {
			// Only tokens the channel wrote in caps qualify; prose
			// around the spread figure must not become a ticker.
			if len(word) < 2 || word != strings.ToUpper(word) || symbolStopwords[word] {
				continue
			}
			// Pure numbers are spread fragments, not tickers.
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				continue
			}
			if s := normalize(word); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func normalize(raw string) string {
	s := exchange.NormalizeBase(raw)
	if !exchange.ValidBase(s) {
		return ""
	}
	return s
}

// medianDollar returns the median of every dollar-prefixed number in the
// message, or 0 when there are none. Used as a sanity reference against
// live quotes.
func medianDollar(text string) float64 {
	matches := dollarRe.FindAllStringSubmatch(text, -1)
	values := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
