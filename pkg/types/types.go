// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — venues, market
// metadata, quotes, signals, trade requests, and trade lifecycle state.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the unwinding side for a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// QuoteSource records how a quote reached the cache. Stream quotes come
// from a persistent ticker WebSocket, one-shot quotes from a single watch,
// REST quotes from the fallback snapshot endpoint.
type QuoteSource string

const (
	SourceStream QuoteSource = "stream"
	SourceOnce   QuoteSource = "one-shot-ws"
	SourceREST   QuoteSource = "rest"
	SourceStale  QuoteSource = "stale"
)

// OrderStatus is the normalized order state across venues.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// TradeState is the lifecycle state of an arbitrage pair.
type TradeState string

const (
	StateOpening  TradeState = "opening"
	StateOpen     TradeState = "open"
	StateAborting TradeState = "aborting"
	StateClosing  TradeState = "closing"
	StateSettling TradeState = "settling"
	StateClosed   TradeState = "closed"
	StateError    TradeState = "error"
)

// Terminal reports whether no further transitions are possible.
func (s TradeState) Terminal() bool {
	return s == StateClosed || s == StateError || s == StateAborting
}

// CloseReason labels why a pair was (or is being) unwound.
type CloseReason string

const (
	CloseTargetSpread CloseReason = "target_spread"
	CloseTimeout      CloseReason = "timeout"
	CloseTrailingStop CloseReason = "trailing_stop"
	CloseLiquidation  CloseReason = "liquidation_asymmetry"
	CloseShutdown     CloseReason = "shutdown"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is the normalized metadata for a perpetual contract on one venue.
// Populated from the venue's instrument list during LoadMarkets and cached.
type Market struct {
	Venue       string  // venue identifier, e.g. "bybit"
	Symbol      string  // normalized base ticker, e.g. "FOO"
	Native      string  // venue-native symbol, e.g. "FOOUSDT" or "FOO_USDT"
	TickSize    float64 // minimum price increment
	LotStep     float64 // minimum quantity increment
	MinQty      float64 // minimum order quantity in tokens
	MinNotional float64 // minimum order value in USDT, 0 when not published
	TakerFee    float64 // taker fee rate, e.g. 0.0006
}

// ————————————————————————————————————————————————————————————————————————
// Quotes
// ————————————————————————————————————————————————————————————————————————

// Tick is a single price observation from a ticker stream.
type Tick struct {
	Last float64
	Ts   time.Time
}

// Quote is the freshest known price for a (symbol, venue) pair.
type Quote struct {
	Symbol string
	Venue  string
	Price  float64
	Ts     time.Time
	Source QuoteSource
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Ts)
}

// Fresh reports whether the quote was updated within the freshness window.
func (q Quote) Fresh(now time.Time, window time.Duration) bool {
	return q.Price > 0 && q.Age(now) <= window
}

// ————————————————————————————————————————————————————————————————————————
// Signals and trade requests
// ————————————————————————————————————————————————————————————————————————

// SignalEvent is a parsed arbitrage signal from a monitored feed.
type SignalEvent struct {
	Symbol   string             // uppercased base ticker
	Spread   float64            // reported spread in percent
	Prices   map[string]float64 // venue → price quoted in the message
	RefPrice float64            // median of dollar-prefixed numbers, 0 if none
	ParsedAt time.Time
}

// TradeRequest is an admitted opportunity ready for execution. The long
// venue is the cheaper side, the short venue the more expensive one.
type TradeRequest struct {
	Symbol     string
	LongVenue  string
	ShortVenue string
	LongPrice  float64 // live quote on the long venue
	ShortPrice float64 // live quote on the short venue
	Spread     float64 // recomputed from live quotes, percent
	Quantity   float64 // identical on both legs
	Notional   float64 // Quantity × LongPrice
}

// ————————————————————————————————————————————————————————————————————————
// Active trades
// ————————————————————————————————————————————————————————————————————————

// ActiveTrade is the full state of one arbitrage pair. It is owned by
// exactly one coordinator task; nothing else mutates it.
type ActiveTrade struct {
	ID     string     `json:"id"`
	Symbol string     `json:"symbol"`
	State  TradeState `json:"state"`

	LongVenue  string `json:"long_venue"`
	ShortVenue string `json:"short_venue"`

	EntryLongPrice  float64   `json:"entry_long_price"`
	EntryShortPrice float64   `json:"entry_short_price"`
	Quantity        float64   `json:"quantity"`
	EntrySpread     float64   `json:"entry_spread"`
	EntryTime       time.Time `json:"entry_time"`

	MaxSpreadSeen float64 `json:"max_spread_seen"`
	MaxPnL        float64 `json:"max_pnl"`

	LongOrderID  string `json:"long_order_id"`
	ShortOrderID string `json:"short_order_id"`

	CloseReason CloseReason `json:"close_reason,omitempty"`
	RealizedPnL float64     `json:"realized_pnl"`
}

// TradeOutcome is published when a trade reaches a terminal state.
type TradeOutcome struct {
	TradeID     string
	Symbol      string
	LongVenue   string
	ShortVenue  string
	Quantity    float64
	EntrySpread float64
	CloseReason CloseReason
	GrossPnL    float64
	Fees        float64
	NetPnL      float64
	Residual    float64 // unfilled remainder on partial closes, in tokens
	Estimated   bool    // true when a liquidated leg could not be reconciled
	Duration    time.Duration
	ClosedAt    time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders, balances, positions
// ————————————————————————————————————————————————————————————————————————

// Order is the normalized order representation across venues.
type Order struct {
	ID        string
	Venue     string
	Symbol    string
	Side      Side
	Quantity  float64
	Price     float64
	Filled    float64 // cumulative filled quantity
	AvgPrice  float64 // average fill price, 0 until first fill
	Status    OrderStatus
	CreatedAt time.Time
}

// Done reports whether the order can no longer fill further.
func (o Order) Done() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled || o.Status == OrderRejected
}

// Balance is a venue's USDT futures balance, normalized by the adapter.
type Balance struct {
	Venue string
	Free  float64
	Used  float64
	Total float64
}

// Position is an open futures position as reported by a venue.
type Position struct {
	Venue    string
	Symbol   string
	Side     Side // Buy = long, Sell = short
	Quantity float64
	Entry    float64 // average entry price
	Mark     float64 // venue mark price, 0 if not reported
}
