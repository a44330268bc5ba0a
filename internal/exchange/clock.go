// clock.go keeps local time aligned with the venues. Signed requests carry
// a timestamp the venue validates against its own clock; with four venues
// the safest reference is the median of their public time endpoints.
//
// Sync samples every venue in parallel, takes the median offset, and
// stores it atomically. Resync fires when observed drift exceeds 3s.
package exchange

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const (
	// maxDrift is the observed skew that triggers a resync.
	maxDrift    = 3 * time.Second
	syncTimeout = 5 * time.Second
)

// Clock provides venue-aligned wall time. The zero offset (no Sync yet)
// falls back to local time.
type Clock struct {
	offsetMs atomic.Int64
	logger   *slog.Logger

	mu       sync.Mutex
	lastSync time.Time
}

// NewClock returns an unsynchronized clock.
func NewClock(logger *slog.Logger) *Clock {
	return &Clock{logger: logger.With("component", "clock")}
}

// Now returns the current time shifted by the median venue offset.
func (c *Clock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offsetMs.Load()) * time.Millisecond)
}

// Offset returns the current offset applied by Now.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offsetMs.Load()) * time.Millisecond
}

// Sync samples each venue's time endpoint in parallel and stores the
// median offset. Venues that fail to answer are skipped; at least one
// sample is required for the offset to move.
func (c *Clock) Sync(ctx context.Context, clients []Client) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	var mu sync.Mutex
	offsets := make([]int64, 0, len(clients))

	p := pool.New().WithMaxGoroutines(len(clients))
	for _, cl := range clients {
		cl := cl
		p.Go(func() {
			before := time.Now()
			serverMs, err := cl.ServerTime(ctx)
			rtt := time.Since(before)
			if err != nil {
				c.logger.Warn("time endpoint unreachable", "venue", cl.Name(), "error", err)
				return
			}
			// Attribute half the round trip to the request leg.
			local := before.Add(rtt / 2).UnixMilli()
			mu.Lock()
			offsets = append(offsets, serverMs-local)
			mu.Unlock()
		})
	}
	p.Wait()

	if len(offsets) == 0 {
		return &Error{Kind: KindTransient, Venue: "all", Op: "clock_sync",
			Err: context.DeadlineExceeded}
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	median := offsets[len(offsets)/2]
	if len(offsets)%2 == 0 {
		median = (offsets[len(offsets)/2-1] + offsets[len(offsets)/2]) / 2
	}

	c.offsetMs.Store(median)
	c.mu.Lock()
	c.lastSync = time.Now()
	c.mu.Unlock()

	c.logger.Info("clock synced", "offset_ms", median, "samples", len(offsets))
	return nil
}

// NeedsResync reports whether a fresh venue timestamp disagrees with Now
// by more than the drift tolerance.
func (c *Clock) NeedsResync(venueMs int64) bool {
	drift := time.Duration(venueMs-c.Now().UnixMilli()) * time.Millisecond
	if drift < 0 {
		drift = -drift
	}
	return drift > maxDrift
}
