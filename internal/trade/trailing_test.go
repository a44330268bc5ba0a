package trade

import (
	"testing"
	"time"

	"crossarb/internal/config"
)

func TestKeepRatio(t *testing.T) {
	t.Parallel()

	// Deliberately unordered to prove levels are matched longest-first.
	levels := []config.TrailingLevel{
		{After: 180 * time.Second, Keep: 0.80},
		{After: 60 * time.Second, Keep: 0.90},
		{After: 600 * time.Second, Keep: 0.70},
	}

	tests := []struct {
		held   time.Duration
		keep   float64
		active bool
	}{
		{30 * time.Second, 1.0, false},
		{59 * time.Second, 1.0, false},
		{60 * time.Second, 0.90, true},
		{179 * time.Second, 0.90, true},
		{180 * time.Second, 0.80, true},
		{599 * time.Second, 0.80, true},
		{600 * time.Second, 0.70, true},
		{2 * time.Hour, 0.70, true},
	}
	for _, tt := range tests {
		keep, active := keepRatio(levels, tt.held)
		if keep != tt.keep || active != tt.active {
			t.Errorf("keepRatio(%v) = %v, %v; want %v, %v", tt.held, keep, active, tt.keep, tt.active)
		}
	}
}

func TestKeepRatioNoLevels(t *testing.T) {
	t.Parallel()

	if _, active := keepRatio(nil, time.Hour); active {
		t.Error("trailing active with no levels configured")
	}
}
