package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
venues:
  bybit:
    enabled: true
    key: k1
    secret: s1
  gate:
    enabled: true
    key: k2
    secret: s2
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Trading.MinSpread != 3.0 {
		t.Errorf("MinSpread = %v, want 3.0", cfg.Trading.MinSpread)
	}
	if cfg.Trading.MaxAllowedSpread != 50.0 {
		t.Errorf("MaxAllowedSpread = %v, want 50.0", cfg.Trading.MaxAllowedSpread)
	}
	if cfg.Trading.CloseSpread != 0.5 {
		t.Errorf("CloseSpread = %v, want 0.5", cfg.Trading.CloseSpread)
	}
	if cfg.Trading.Leverage != 3 {
		t.Errorf("Leverage = %v, want 3", cfg.Trading.Leverage)
	}
	if cfg.Risk.MaxConcurrentTrades != 3 {
		t.Errorf("MaxConcurrentTrades = %v, want 3", cfg.Risk.MaxConcurrentTrades)
	}
	if cfg.Risk.MaxDailyLoss != 8.0 {
		t.Errorf("MaxDailyLoss = %v, want 8.0", cfg.Risk.MaxDailyLoss)
	}
	if cfg.Stream.FreshnessWindow != 3*time.Second {
		t.Errorf("FreshnessWindow = %v, want 3s", cfg.Stream.FreshnessWindow)
	}
	if len(cfg.Trading.TrailingLevels) != 3 {
		t.Errorf("TrailingLevels = %v, want 3 defaults", cfg.Trading.TrailingLevels)
	}
}

func TestLoadEnvCredentialOverride(t *testing.T) {
	t.Setenv("ARB_BYBIT_KEY", "env-key")
	t.Setenv("ARB_BYBIT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venues["bybit"].Key != "env-key" || cfg.Venues["bybit"].Secret != "env-secret" {
		t.Errorf("env override not applied: %+v", cfg.Venues["bybit"])
	}
	// Gate untouched.
	if cfg.Venues["gate"].Key != "k2" {
		t.Errorf("unrelated venue mutated: %+v", cfg.Venues["gate"])
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"one_venue", func(c *Config) {
			vc := c.Venues["gate"]
			vc.Enabled = false
			c.Venues["gate"] = vc
		}},
		{"missing_secret", func(c *Config) {
			vc := c.Venues["bybit"]
			vc.Secret = ""
			c.Venues["bybit"] = vc
		}},
		{"unknown_venue", func(c *Config) {
			c.Venues["binance"] = VenueConfig{Enabled: false}
		}},
		{"close_above_min", func(c *Config) { c.Trading.CloseSpread = 4.0 }},
		{"max_below_min", func(c *Config) { c.Trading.MaxAllowedSpread = 2.0 }},
		{"leverage_zero", func(c *Config) { c.Trading.Leverage = -1 }},
		{"bad_multiplier", func(c *Config) {
			c.Trading.RiskyMultipliers = map[string]float64{"0G": 1.5}
		}},
		{"bad_trailing_keep", func(c *Config) {
			c.Trading.TrailingLevels = []TrailingLevel{{After: time.Minute, Keep: 0}}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalYAML))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnabledVenuesOrder(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
venues:
  gate: {enabled: true, key: k, secret: s}
  bingx: {enabled: true, key: k, secret: s}
  bybit: {enabled: true, key: k, secret: s}
  mexc: {enabled: false}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.EnabledVenues()
	want := []string{"bybit", "gate", "bingx"}
	if len(got) != len(want) {
		t.Fatalf("EnabledVenues = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EnabledVenues = %v, want %v", got, want)
			break
		}
	}
}
