package exchange

import "testing"

func TestNormalizeBase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"WOJAK_USDT", "WOJAK"},
		{"wojak-usdt", "WOJAK"},
		{"WOJAKUSDT", "WOJAK"},
		{"WOJAK/USDT:USDT", "WOJAK"},
		{"WOJAK/USDT", "WOJAK"},
		{"#PEPE", "PEPE"},
		{"pepe", "PEPE"},
		{"0G", "0G"},
		{"1INCH", "1INCH"},
		{"  btc_usdt ", "BTC"},
		// Only one suffix is stripped; the remainder is the base.
		{"USDT", "USDT"},
	}
	for _, tt := range tests {
		if got := NormalizeBase(tt.in); got != tt.want {
			t.Errorf("NormalizeBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidBase(t *testing.T) {
	t.Parallel()

	valid := []string{"BTC", "0G", "1INCH", "A", "ABCDEFGHIJKLMNO"}
	for _, s := range valid {
		if !ValidBase(s) {
			t.Errorf("ValidBase(%q) = false, want true", s)
		}
	}

	invalid := []string{"", "abc", "TOO-LONG-TICKER!", "ABCDEFGHIJKLMNOP", "BTC/USDT", "A B"}
	for _, s := range invalid {
		if ValidBase(s) {
			t.Errorf("ValidBase(%q) = true, want false", s)
		}
	}
}

func TestTakerFeeResolution(t *testing.T) {
	t.Parallel()

	if got := takerFee("bybit", 0.00055); got != 0.00055 {
		t.Errorf("published fee ignored: %v", got)
	}
	if got := takerFee("gate", 0); got != 0.0005 {
		t.Errorf("gate default = %v, want 0.0005", got)
	}
	if got := takerFee("unknown", 0); got != fallbackTakerFee {
		t.Errorf("fallback = %v, want %v", got, fallbackTakerFee)
	}
}
