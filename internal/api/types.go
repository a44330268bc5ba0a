// Package api serves the read-only status dashboard over HTTP and
// WebSocket: venue balances and health, the active-trade registry, and
// the daily ledger.
package api

import (
	"sort"
	"time"

	"crossarb/internal/ledger"
	"crossarb/pkg/types"
)

// StatusProvider is the slice of the engine the dashboard reads.
type StatusProvider interface {
	ActiveTrades() []types.ActiveTrade
	LedgerSnapshot() ledger.State
	Balances() map[string]types.Balance
	VenueDisabled(venue string) bool
}

// StatusSnapshot is the full dashboard state, sent on connect and on
// every broadcast tick.
type StatusSnapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Venues    []VenueStatus `json:"venues"`
	Trades    []TradeView   `json:"trades"`
	Ledger    LedgerSummary `json:"ledger"`
}

// VenueStatus is one venue's margin balance and health.
type VenueStatus struct {
	Venue    string  `json:"venue"`
	Free     float64 `json:"free"`
	Total    float64 `json:"total"`
	Disabled bool    `json:"disabled"`
}

// TradeView is the dashboard projection of an active trade.
type TradeView struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	State       string    `json:"state"`
	LongVenue   string    `json:"long_venue"`
	ShortVenue  string    `json:"short_venue"`
	Quantity    float64   `json:"quantity"`
	EntrySpread float64   `json:"entry_spread"`
	MaxSpread   float64   `json:"max_spread"`
	MaxPnL      float64   `json:"max_pnl"`
	EntryTime   time.Time `json:"entry_time"`
	HeldSeconds float64   `json:"held_seconds"`
}

// LedgerSummary is the day's realized figures plus all-time counters.
type LedgerSummary struct {
	Day        string             `json:"day"`
	Realized   float64            `json:"realized"`
	TradeCount int                `json:"trade_count"`
	PerVenue   map[string]float64 `json:"per_venue"`
	Wins       int                `json:"wins"`
	Losses     int                `json:"losses"`
	Commission float64            `json:"commission"`
	TotalPnL   float64            `json:"total_pnl"`
}

// BuildSnapshot assembles the dashboard state from the provider.
func BuildSnapshot(p StatusProvider) StatusSnapshot {
	now := time.Now()

	balances := p.Balances()
	venues := make([]VenueStatus, 0, len(balances))
	for venue, bal := range balances {
		venues = append(venues, VenueStatus{
			Venue:    venue,
			Free:     bal.Free,
			Total:    bal.Total,
			Disabled: p.VenueDisabled(venue),
		})
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i].Venue < venues[j].Venue })

	active := p.ActiveTrades()
	trades := make([]TradeView, 0, len(active))
	for _, t := range active {
		trades = append(trades, TradeView{
			ID:          t.ID,
			Symbol:      t.Symbol,
			State:       string(t.State),
			LongVenue:   t.LongVenue,
			ShortVenue:  t.ShortVenue,
			Quantity:    t.Quantity,
			EntrySpread: t.EntrySpread,
			MaxSpread:   t.MaxSpreadSeen,
			MaxPnL:      t.MaxPnL,
			EntryTime:   t.EntryTime,
			HeldSeconds: now.Sub(t.EntryTime).Seconds(),
		})
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].EntryTime.Before(trades[j].EntryTime) })

	state := p.LedgerSnapshot()
	return StatusSnapshot{
		Timestamp: now,
		Venues:    venues,
		Trades:    trades,
		Ledger: LedgerSummary{
			Day:        state.Day,
			Realized:   state.Realized,
			TradeCount: state.TradeCount,
			PerVenue:   state.PerVenue,
			Wins:       state.Wins,
			Losses:     state.Losses,
			Commission: state.Commission,
			TotalPnL:   state.TotalPnL,
		},
	}
}
