// Package exchange defines the venue contract and implements the four
// perpetual-futures adapters the bot trades on: Bybit, Gate, MEXC, BingX.
//
// All adapters satisfy the Client interface:
//   - LoadMarkets / Market / ResolveSymbol — instrument discovery
//   - WatchTicker / FetchTicker            — streaming and snapshot quotes
//   - CreateLimitOrder / CancelOrder / FetchOrder — order lifecycle
//   - FetchBalance / FetchPositions        — account state
//   - SetLeverage / SetMarginMode / SetPositionMode — pre-trade setup
//
// Every request is rate-limited via per-category TokenBuckets and every
// error is classified into the typed model in errors.go. Venue-specific
// symbol formats, auth schemes, and hedge-mode quirks never leave this
// package.
package exchange

import (
	"context"

	"crossarb/pkg/types"
)

// Credentials holds a venue API key pair. Secrets come from config env
// overrides and are never logged.
type Credentials struct {
	Key    string
	Secret string
}

// OrderParams carries optional per-order venue hints. Adapters ignore
// fields they have no mapping for.
type OrderParams struct {
	ReduceOnly   bool
	PositionSide types.Side // hedge-mode venues: which side of the book the order acts on
}

// Client is the normalized contract a venue adapter must satisfy. All
// blocking methods honor ctx cancellation. Implementations are safe for
// concurrent use.
type Client interface {
	// Name returns the venue identifier ("bybit", "gate", "mexc", "bingx").
	Name() string

	// LoadMarkets fetches and caches the venue's instrument list. Must be
	// called before Market or any order method.
	LoadMarkets(ctx context.Context) error

	// Market returns cached metadata for a normalized base ticker, or
	// a NotFound error when the venue does not list the contract.
	Market(symbol string) (types.Market, error)

	// ResolveSymbol checks whether the venue lists a tradeable USDT
	// perpetual for the base ticker and returns its normalized metadata.
	ResolveSymbol(ctx context.Context, base string) (types.Market, error)

	// WatchTicker opens a ticker stream for one symbol. The returned
	// channel is closed when the stream fails or ctx is cancelled; the
	// caller owns reconnection.
	WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error)

	// FetchTicker returns a one-shot REST price snapshot.
	FetchTicker(ctx context.Context, symbol string) (types.Tick, error)

	// FetchBalance returns the venue's USDT futures balance.
	FetchBalance(ctx context.Context) (types.Balance, error)

	// SetLeverage sets the leverage for a symbol. Hedge-mode venues apply
	// it to both sides.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetMarginMode switches the symbol to isolated or cross margin.
	// Venues that fix the mode per account return nil.
	SetMarginMode(ctx context.Context, symbol, mode string) error

	// SetPositionMode enables or disables hedge mode where the venue
	// supports toggling it. No-op elsewhere.
	SetPositionMode(ctx context.Context, symbol string, hedge bool) error

	// CreateLimitOrder places a limit order and returns its normalized
	// representation. Quantity and price are pre-rounded by the caller.
	CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params OrderParams) (types.Order, error)

	// CancelOrder cancels an order. A NotFound error usually means the
	// order already filled.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// FetchOrder returns the current state of an order.
	FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error)

	// FetchPositions returns all open positions, or the one for symbol
	// when symbol is non-empty.
	FetchPositions(ctx context.Context, symbol string) ([]types.Position, error)

	// ServerTime returns the venue's current time in unix milliseconds.
	ServerTime(ctx context.Context) (int64, error)
}
