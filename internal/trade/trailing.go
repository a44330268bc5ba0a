package trade

import (
	"sort"
	"time"

	"crossarb/internal/config"
)

// keepRatio returns the fraction of peak P&L a pair must retain after
// holding for held, and whether the trailing stop is active at all.
// Levels are matched longest hold first; below the earliest level the
// stop is inactive.
func keepRatio(levels []config.TrailingLevel, held time.Duration) (float64, bool) {
	sorted := append([]config.TrailingLevel(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After > sorted[j].After })
	for _, lvl := range sorted {
		if held >= lvl.After {
			return lvl.Keep, true
		}
	}
	return 1.0, false
}
