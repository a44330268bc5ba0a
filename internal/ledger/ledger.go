// Package ledger tracks realized P&L for the current UTC day plus
// all-time performance counters.
//
// The daily figures gate new trade admission (max daily loss) and reset
// lazily at UTC midnight: the first read or write on a new day rolls the
// day over, so no timer is needed. All-time stats survive rollovers and
// restarts via Snapshot/Restore.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"crossarb/pkg/types"
)

// maxHistory bounds the in-memory closed-trade list. The store keeps the
// full snapshot on disk regardless.
const maxHistory = 200

// State is the persistable ledger snapshot.
type State struct {
	Day        string             `json:"day"` // UTC date, e.g. "2026-08-24"
	Realized   float64            `json:"realized"`
	TradeCount int                `json:"trade_count"`
	PerVenue   map[string]float64 `json:"per_venue"`

	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Commission float64 `json:"commission"`
	TotalPnL   float64 `json:"total_pnl"`

	History []types.TradeOutcome `json:"history"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	state  State
	now    func() time.Time // injectable for rollover tests
	logger *slog.Logger
}

// New creates an empty ledger for the current UTC day.
func New(logger *slog.Logger) *Ledger {
	l := &Ledger{
		now:    time.Now,
		logger: logger.With("component", "ledger"),
	}
	l.state = emptyDay(l.today())
	return l
}

func emptyDay(day string) State {
	return State{Day: day, PerVenue: make(map[string]float64)}
}

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// rollIfNeeded resets the daily figures when the UTC day changed.
// Caller holds l.mu.
func (l *Ledger) rollIfNeeded() {
	today := l.today()
	if l.state.Day == today {
		return
	}
	l.logger.Info("daily ledger rolled over",
		"previous_day", l.state.Day,
		"realized", l.state.Realized,
		"trades", l.state.TradeCount,
	)
	prev := l.state
	l.state = emptyDay(today)
	// All-time counters carry across days.
	l.state.Wins = prev.Wins
	l.state.Losses = prev.Losses
	l.state.Commission = prev.Commission
	l.state.TotalPnL = prev.TotalPnL
	l.state.History = prev.History
}

// Record books a closed trade: net P&L into the day's realized total,
// half attributed to each venue, fees into the commission counter.
func (l *Ledger) Record(out types.TradeOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollIfNeeded()

	l.state.Realized += out.NetPnL
	l.state.TradeCount++
	half := out.NetPnL / 2
	l.state.PerVenue[out.LongVenue] += half
	l.state.PerVenue[out.ShortVenue] += half

	l.state.Commission += out.Fees
	l.state.TotalPnL += out.NetPnL
	if out.NetPnL >= 0 {
		l.state.Wins++
	} else {
		l.state.Losses++
	}

	l.state.History = append(l.state.History, out)
	if len(l.state.History) > maxHistory {
		l.state.History = l.state.History[len(l.state.History)-maxHistory:]
	}
}

// Realized returns the current UTC day's realized P&L.
func (l *Ledger) Realized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollIfNeeded()
	return l.state.Realized
}

// TradeCount returns the number of trades closed today.
func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollIfNeeded()
	return l.state.TradeCount
}

// VenuePnL returns today's P&L attributed to one venue.
func (l *Ledger) VenuePnL(venue string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollIfNeeded()
	return l.state.PerVenue[venue]
}

// Snapshot returns a deep copy of the full state for persistence.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollIfNeeded()

	out := l.state
	out.PerVenue = make(map[string]float64, len(l.state.PerVenue))
	for k, v := range l.state.PerVenue {
		out.PerVenue[k] = v
	}
	out.History = append([]types.TradeOutcome(nil), l.state.History...)
	return out
}

// Restore replaces the state with a persisted snapshot. A snapshot from
// an earlier day contributes only its all-time counters.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.PerVenue == nil {
		s.PerVenue = make(map[string]float64)
	}
	l.state = s
	l.rollIfNeeded()
}
