// Package filter decides whether a parsed signal becomes a trade.
//
// Checks run in a fixed order and the first failure wins, so rejection
// logs are comparable across signals. Quantity math runs on decimals:
// float drift must not flip a lot-step or notional boundary.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"crossarb/pkg/types"
)

// Reject labels why a signal was not admitted.
type Reject string

const (
	RejectNone               Reject = ""
	RejectBlacklisted        Reject = "Blacklisted"
	RejectSpreadTooLow       Reject = "SpreadTooLow"
	RejectSpreadTooHigh      Reject = "SpreadTooHigh"
	RejectTradeLimit         Reject = "TradeLimit"
	RejectDailyLossLimit     Reject = "DailyLossLimit"
	RejectMarketMissing      Reject = "MarketMissing"
	RejectVenueDisabled      Reject = "VenueDisabled"
	RejectQuoteMissing       Reject = "QuoteMissing"
	RejectLiveSpreadBelowMin Reject = "LiveSpreadBelowMin"
	RejectNotionalCap        Reject = "NotionalCap"
	RejectInsufficientMargin Reject = "InsufficientMargin"
)

// Quotes is the slice of the price stream the filter needs.
type Quotes interface {
	ResolveAll(ctx context.Context, base string) map[string]types.Market
	Subscribe(ctx context.Context, symbol string)
	GetQuoteBlocking(ctx context.Context, symbol, venue string, timeout time.Duration) (types.Quote, error)
}

// Accounts exposes venue margin and health from the reconciler.
type Accounts interface {
	Free(venue string) (float64, time.Time)
	Disabled(venue string) bool
}

// Books exposes the day's realized P&L from the ledger.
type Books interface {
	Realized() float64
}

// Registry exposes the live trade count from the coordinator.
type Registry interface {
	Count() int
}

// Limits carries the admission thresholds, pre-extracted from config.
type Limits struct {
	MinSpread        float64
	MaxAllowedSpread float64
	Leverage         int
	MaxConcurrent    int
	MaxNotional      float64 // per leg, USDT
	MaxDailyLoss     float64
	QuoteTimeout     time.Duration

	RiskyMultipliers map[string]float64
	Blacklist        map[string]bool
}

// Filter is safe for concurrent use; all state lives in its collaborators.
type Filter struct {
	limits   Limits
	quotes   Quotes
	accounts Accounts
	books    Books
	registry Registry
	logger   *slog.Logger
}

func New(limits Limits, quotes Quotes, accounts Accounts, books Books, registry Registry, logger *slog.Logger) *Filter {
	if limits.QuoteTimeout == 0 {
		limits.QuoteTimeout = 3 * time.Second
	}
	return &Filter{
		limits:   limits,
		quotes:   quotes,
		accounts: accounts,
		books:    books,
		registry: registry,
		logger:   logger.With("component", "filter"),
	}
}

// BlacklistSet builds the lookup set from the config slice.
func BlacklistSet(symbols []string) map[string]bool {
	out := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		out[strings.ToUpper(s)] = true
	}
	return out
}

// Evaluate runs the admission checks. On success the returned reject is
// RejectNone and the request is ready for the coordinator.
func (f *Filter) Evaluate(ctx context.Context, evt types.SignalEvent) (types.TradeRequest, Reject) {
	req, reject := f.evaluate(ctx, evt)
	if reject != RejectNone {
		f.logger.Info("signal rejected",
			"symbol", evt.Symbol,
			"reason", string(reject),
			"spread", evt.Spread,
		)
		return types.TradeRequest{}, reject
	}
	f.logger.Info("signal admitted",
		"symbol", req.Symbol,
		"long", req.LongVenue,
		"short", req.ShortVenue,
		"live_spread", req.Spread,
		"qty", req.Quantity,
		"notional", req.Notional,
	)
	return req, RejectNone
}

func (f *Filter) evaluate(ctx context.Context, evt types.SignalEvent) (types.TradeRequest, Reject) {
	lim := f.limits

	if lim.Blacklist[evt.Symbol] {
		return types.TradeRequest{}, RejectBlacklisted
	}
	if f.registry.Count() >= lim.MaxConcurrent {
		return types.TradeRequest{}, RejectTradeLimit
	}
	if f.books.Realized() <= -lim.MaxDailyLoss {
		return types.TradeRequest{}, RejectDailyLossLimit
	}

	// The signal names its venue pair through the leg prices: long the
	// cheap line, short the dear one. Only a price-less event falls back
	// to scanning every venue that lists the contract.
	implLong, implShort, implicated := impliedLegs(evt.Prices)
	if implicated && (f.accounts.Disabled(implLong) || f.accounts.Disabled(implShort)) {
		return types.TradeRequest{}, RejectVenueDisabled
	}

	if evt.Spread < lim.MinSpread {
		return types.TradeRequest{}, RejectSpreadTooLow
	}
	if evt.Spread > lim.MaxAllowedSpread {
		return types.TradeRequest{}, RejectSpreadTooHigh
	}

	markets := f.quotes.ResolveAll(ctx, evt.Symbol)
	live := make(map[string]types.Market, len(markets))
	if implicated {
		for _, venue := range []string{implLong, implShort} {
			m, ok := markets[venue]
			if !ok {
				return types.TradeRequest{}, RejectMarketMissing
			}
			live[venue] = m
		}
	} else {
		if len(markets) < 2 {
			return types.TradeRequest{}, RejectMarketMissing
		}
		for venue, m := range markets {
			if !f.accounts.Disabled(venue) {
				live[venue] = m
			}
		}
		if len(live) < 2 {
			return types.TradeRequest{}, RejectVenueDisabled
		}
	}

	// Start streams, then block briefly for quotes on every candidate.
	f.quotes.Subscribe(ctx, evt.Symbol)
	prices := make(map[string]float64, len(live))
	for venue := range live {
		q, err := f.quotes.GetQuoteBlocking(ctx, evt.Symbol, venue, lim.QuoteTimeout)
		if err != nil || q.Price <= 0 {
			continue
		}
		prices[venue] = q.Price
	}
	if len(prices) < 2 {
		return types.TradeRequest{}, RejectQuoteMissing
	}

	longVenue, shortVenue := implLong, implShort
	if !implicated {
		longVenue, shortVenue = extremes(prices)
	}
	longPrice, shortPrice := prices[longVenue], prices[shortVenue]
	liveSpread := (shortPrice - longPrice) / longPrice * 100
	if liveSpread < lim.MinSpread {
		return types.TradeRequest{}, RejectLiveSpreadBelowMin
	}
	if liveSpread > lim.MaxAllowedSpread {
		return types.TradeRequest{}, RejectSpreadTooHigh
	}

	qty := f.quantity(evt.Symbol, live[longVenue], live[shortVenue], longPrice)
	if qty <= 0 {
		return types.TradeRequest{}, RejectNotionalCap
	}

	// Both legs must fit the notional cap independently.
	longNotional := mulDec(qty, longPrice)
	shortNotional := mulDec(qty, shortPrice)
	if longNotional > lim.MaxNotional || shortNotional > lim.MaxNotional {
		return types.TradeRequest{}, RejectNotionalCap
	}

	// Margin check per leg from the reconciler's last snapshot.
	for venue, notional := range map[string]float64{
		longVenue:  longNotional,
		shortVenue: shortNotional,
	} {
		free, at := f.accounts.Free(venue)
		if at.IsZero() || free < notional/float64(lim.Leverage) {
			return types.TradeRequest{}, RejectInsufficientMargin
		}
	}

	return types.TradeRequest{
		Symbol:     evt.Symbol,
		LongVenue:  longVenue,
		ShortVenue: shortVenue,
		LongPrice:  longPrice,
		ShortPrice: shortPrice,
		Spread:     liveSpread,
		Quantity:   qty,
		Notional:   longNotional,
	}, RejectNone
}

// quantity sizes the trade at the venues' minimum: the larger of both
// lot minima and min-notional floors, rounded up to the coarser lot
// step, then scaled down by the risky-symbol multiplier.
func (f *Filter) quantity(symbol string, longM, shortM types.Market, longPrice float64) float64 {
	step := decimal.Max(decimal.NewFromFloat(longM.LotStep), decimal.NewFromFloat(shortM.LotStep))
	if step.IsZero() {
		step = decimal.NewFromInt(1)
	}
	minQty := decimal.Max(decimal.NewFromFloat(longM.MinQty), decimal.NewFromFloat(shortM.MinQty))
	for _, m := range []types.Market{longM, shortM} {
		if m.MinNotional > 0 && longPrice > 0 {
			byNotional := decimal.NewFromFloat(m.MinNotional).Div(decimal.NewFromFloat(longPrice))
			minQty = decimal.Max(minQty, byNotional)
		}
	}
	qty := ceilToStep(minQty, step)

	if mult, ok := f.limits.RiskyMultipliers[symbol]; ok && mult > 0 && mult < 1 {
		qty = floorToStep(qty.Mul(decimal.NewFromFloat(mult)), step)
	}
	return qty.InexactFloat64()
}

// impliedLegs derives the venue pair from the signal's leg prices. ok
// is false when fewer than two venues carried a usable price.
func impliedLegs(prices map[string]float64) (low, high string, ok bool) {
	if len(prices) < 2 {
		return "", "", false
	}
	low, high = extremes(prices)
	if low == high {
		return "", "", false
	}
	return low, high, true
}

func ceilToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Ceil().Mul(step)
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}

// mulDec multiplies qty by price in decimal space so boundary checks
// against the notional cap are exact.
func mulDec(qty, price float64) float64 {
	return decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// extremes returns the venues with the lowest and highest price. Ties
// break lexicographically so the decision is deterministic.
func extremes(prices map[string]float64) (low, high string) {
	for venue, p := range prices {
		switch {
		case low == "" || p < prices[low] || (p == prices[low] && venue < low):
			low = venue
		}
		switch {
		case high == "" || p > prices[high] || (p == prices[high] && venue < high):
			high = venue
		}
	}
	return low, high
}

// String implements fmt.Stringer for log fields.
func (r Reject) String() string {
	if r == RejectNone {
		return "admitted"
	}
	return string(r)
}

var _ fmt.Stringer = RejectNone
