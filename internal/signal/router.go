package signal

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"crossarb/pkg/types"
)

// Router parses raw messages, drops duplicates, and emits SignalEvents.
// Duplicate means the same symbol at (approximately) the same spread seen
// within the TTL; re-posts and cross-channel echoes are common.
type Router struct {
	ttl    time.Duration
	size   int
	logger *slog.Logger

	mu   sync.Mutex
	seen map[uint64]time.Time
}

// NewRouter creates a router with an LRU dedup window of size entries
// expiring after ttl.
func NewRouter(ttl time.Duration, size int, logger *slog.Logger) *Router {
	return &Router{
		ttl:    ttl,
		size:   size,
		logger: logger.With("component", "signal"),
		seen:   make(map[uint64]time.Time, size),
	}
}

// Run consumes raw message text until ctx ends or in closes, emitting
// deduplicated signals on out. A full out channel drops the signal: a
// signal that cannot be acted on promptly is worthless anyway.
func (r *Router) Run(ctx context.Context, in <-chan string, out chan<- types.SignalEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-in:
			if !ok {
				return
			}
			evt, ok := Parse(text)
			if !ok {
				continue
			}
			if r.duplicate(evt) {
				r.logger.Debug("duplicate signal dropped", "symbol", evt.Symbol, "spread", evt.Spread)
				continue
			}
			r.logger.Info("signal parsed",
				"symbol", evt.Symbol,
				"spread", evt.Spread,
				"ref_price", evt.RefPrice,
			)
			select {
			case out <- evt:
			default:
				r.logger.Warn("signal channel full, dropping", "symbol", evt.Symbol)
			}
		}
	}
}

// duplicate records the event and reports whether an equivalent one was
// already seen within the TTL.
func (r *Router) duplicate(evt types.SignalEvent) bool {
	key := dedupKey(evt)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if seenAt, ok := r.seen[key]; ok && now.Sub(seenAt) < r.ttl {
		return true
	}
	r.seen[key] = now

	if len(r.seen) > r.size {
		r.evict(now)
	}
	return false
}

// evict drops expired entries, then the oldest ones until under size.
func (r *Router) evict(now time.Time) {
	for k, ts := range r.seen {
		if now.Sub(ts) >= r.ttl {
			delete(r.seen, k)
		}
	}
	for len(r.seen) > r.size {
		var oldestKey uint64
		var oldest time.Time
		first := true
		for k, ts := range r.seen {
			if first || ts.Before(oldest) {
				oldestKey, oldest = k, ts
				first = false
			}
		}
		delete(r.seen, oldestKey)
	}
}

// dedupKey hashes symbol plus the spread rounded to 0.1%, so minor
// re-quotes of the same opportunity still collide.
func dedupKey(evt types.SignalEvent) uint64 {
	h := fnv.New64a()
	h.Write([]byte(evt.Symbol))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(roundTenth(evt.Spread), 'f', 1, 64)))
	return h.Sum64()
}

func roundTenth(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
