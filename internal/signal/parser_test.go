package signal

import (
	"testing"
)

func TestParseFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantSymbol string
		wantSpread float64
	}{
		{
			name:       "hash_tag_with_emoji",
			text:       "📈📈#WOJAK | Spread: 14.11%\nShort GATE: $0.1251 | Long MEXC: $0.1104",
			wantSymbol: "WOJAK",
			wantSpread: 14.11,
		},
		{
			name:       "copy_marker_overrides_nothing_else",
			text:       "New listing arb (COPY: PEPE_USDT) Spread: 5.2%\nShort GATE: $0.55 | Long MEXC: $0.52",
			wantSymbol: "PEPE",
			wantSpread: 5.2,
		},
		{
			name:       "pair_spelling_underscore",
			text:       "WOJAK_USDT spread 7.5% go go go\nLong MEXC: $0.11 | Short GATE: $0.12",
			wantSymbol: "WOJAK",
			wantSpread: 7.5,
		},
		{
			name:       "pair_spelling_dash",
			text:       "Spread: 4.0% on TURBO-USDT\nLong BYBIT: $2.0 | Short BINGX: $2.1",
			wantSymbol: "TURBO",
			wantSpread: 4.0,
		},
		{
			name:       "proximity_fallback",
			text:       "MOODENG spread: 6.25%\nLong GATE: $0.20 | Short MEXC: $0.21",
			wantSymbol: "MOODENG",
			wantSpread: 6.25,
		},
		{
			name:       "digit_leading_ticker",
			text:       "#0G | Spread: 9.9%\nLong MEXC: $1.1 | Short GATE: $1.2",
			wantSymbol: "0G",
			wantSpread: 9.9,
		},
		{
			name:       "underscore_leg_format",
			text:       "#MET | Spread: 3.4%\nShort_BYBIT: $1.25 | Long_GATE: $1.21",
			wantSymbol: "MET",
			wantSpread: 3.4,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, ok := Parse(tt.text)
			if !ok {
				t.Fatal("Parse rejected actionable signal")
			}
			if evt.Symbol != tt.wantSymbol {
				t.Errorf("symbol = %q, want %q", evt.Symbol, tt.wantSymbol)
			}
			if evt.Spread != tt.wantSpread {
				t.Errorf("spread = %v, want %v", evt.Spread, tt.wantSpread)
			}
		})
	}
}

func TestParseRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"aligned_notice", "#WOJAK prices aligned, spread: 0.2%"},
		{"no_spread", "#WOJAK pumping hard $0.13"},
		{"no_symbol", "Spread: 12.0% somewhere\nLong MEXC: $1.0 | Short GATE: $1.1"},
		{"empty", ""},
		{"spread_zero", "#WOJAK | Spread: 0%"},
		{"symbol_too_long", "#ABCDEFGHIJKLMNOP | Spread: 5%\nLong MEXC: $1.0 | Short GATE: $1.1"},
		{"no_legs", "📈📈#WOJAK | Spread: 14.11%"},
		{"long_leg_only", "#WOJAK | Spread: 14.11%\nLong MEXC: $0.1104"},
		{"short_leg_only", "#WOJAK | Spread: 14.11%\nShort GATE: $0.1251"},
		{"legs_without_prices", "#WOJAK | Spread: 14.11%\nShort GATE 0.1251 | Long MEXC 0.1104"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if evt, ok := Parse(tt.text); ok {
				t.Errorf("Parse accepted %q: %+v", tt.text, evt)
			}
		})
	}
}

func TestParseLegPrices(t *testing.T) {
	t.Parallel()

	evt, ok := Parse("📈#WOJAK | Spread: 14.11%\nShort GATE: $0.1251 | Long MEXC: $0.1104")
	if !ok {
		t.Fatal("Parse rejected signal")
	}
	if evt.Prices["gate"] != 0.1251 {
		t.Errorf("gate price = %v, want 0.1251", evt.Prices["gate"])
	}
	if evt.Prices["mexc"] != 0.1104 {
		t.Errorf("mexc price = %v, want 0.1104", evt.Prices["mexc"])
	}
	// Unknown venues are skipped, not errors.
	evt2, ok := Parse("#X | Spread: 5%\nShort BINANCE: $1.0 | Long GATE: $0.9")
	if !ok {
		t.Fatal("Parse rejected signal")
	}
	if len(evt2.Prices) != 1 {
		t.Errorf("prices = %v, want only gate", evt2.Prices)
	}
}

func TestParseRefPriceMedian(t *testing.T) {
	t.Parallel()

	// Odd count: median is the middle value.
	evt, _ := Parse("#X | Spread: 5%  $2.0\nLong MEXC: $1.0 | Short GATE: $3.0")
	if evt.RefPrice != 2.0 {
		t.Errorf("ref price = %v, want 2.0", evt.RefPrice)
	}

	// Even count: mean of the middle pair.
	evt, _ = Parse("#X | Spread: 5%  $2.0 $4.0\nLong MEXC: $1.0 | Short GATE: $3.0")
	if evt.RefPrice != 2.5 {
		t.Errorf("ref price = %v, want 2.5", evt.RefPrice)
	}

	// Leg prices alone still yield a reference.
	evt, _ = Parse("#X | Spread: 5%\nLong MEXC: $0.9 | Short GATE: $1.1")
	if evt.RefPrice != 1.0 {
		t.Errorf("ref price = %v, want 1.0", evt.RefPrice)
	}
}

func TestParseDeterministic(t *testing.T) {
	t.Parallel()

	text := "📈📈#WOJAK | Spread: 14.11%\nShort GATE: $0.1251 | Long MEXC: $0.1104"
	first, ok := Parse(text)
	if !ok {
		t.Fatal("Parse rejected signal")
	}
	for i := 0; i < 100; i++ {
		evt, ok := Parse(text)
		if !ok || evt.Symbol != first.Symbol || evt.Spread != first.Spread ||
			evt.RefPrice != first.RefPrice || len(evt.Prices) != len(first.Prices) {
			t.Fatalf("iteration %d diverged: %+v vs %+v", i, evt, first)
		}
	}
}
