package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crossarb/internal/ledger"
	"crossarb/pkg/types"
)

type stubProvider struct {
	trades   []types.ActiveTrade
	state    ledger.State
	balances map[string]types.Balance
	disabled map[string]bool
}

func (s *stubProvider) ActiveTrades() []types.ActiveTrade  { return s.trades }
func (s *stubProvider) LedgerSnapshot() ledger.State       { return s.state }
func (s *stubProvider) Balances() map[string]types.Balance { return s.balances }
func (s *stubProvider) VenueDisabled(venue string) bool    { return s.disabled[venue] }

func testProvider() *stubProvider {
	return &stubProvider{
		trades: []types.ActiveTrade{
			{
				ID:         "t1",
				Symbol:     "WOJAK",
				State:      types.StateOpen,
				LongVenue:  "mexc",
				ShortVenue: "gate",
				Quantity:   31,
				EntryTime:  time.Now().Add(-time.Minute),
			},
		},
		state: ledger.State{
			Day:        "2026-08-24",
			Realized:   1.5,
			TradeCount: 3,
			PerVenue:   map[string]float64{"mexc": 0.75, "gate": 0.75},
			Wins:       2,
			Losses:     1,
		},
		balances: map[string]types.Balance{
			"mexc": {Venue: "mexc", Free: 90, Total: 100},
			"gate": {Venue: "gate", Free: 40, Total: 45},
		},
		disabled: map[string]bool{"gate": true},
	}
}

func newTestHandlers() *Handlers {
	logger := slog.New(slog.DiscardHandler)
	return NewHandlers(testProvider(), NewHub(logger), logger)
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestHandlers().HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	newTestHandlers().HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}

	if len(snap.Venues) != 2 {
		t.Fatalf("venues = %d, want 2", len(snap.Venues))
	}
	// Sorted by venue name: gate first, flagged disabled.
	if snap.Venues[0].Venue != "gate" || !snap.Venues[0].Disabled {
		t.Errorf("venues[0] = %+v", snap.Venues[0])
	}
	if snap.Venues[1].Venue != "mexc" || snap.Venues[1].Free != 90 {
		t.Errorf("venues[1] = %+v", snap.Venues[1])
	}

	if len(snap.Trades) != 1 || snap.Trades[0].Symbol != "WOJAK" {
		t.Fatalf("trades = %+v", snap.Trades)
	}
	if snap.Trades[0].HeldSeconds < 59 {
		t.Errorf("held = %v, want about a minute", snap.Trades[0].HeldSeconds)
	}

	if snap.Ledger.Realized != 1.5 || snap.Ledger.Wins != 2 {
		t.Errorf("ledger = %+v", snap.Ledger)
	}
}
