// Package balance keeps a near-live view of every venue's USDT margin
// balance and doubles as the venue health registry.
//
// The reconciler fans out to all venues on a fixed interval. Consecutive
// failures (from here or reported by other layers) quarantine a venue
// once they reach the disable threshold; the periodic balance fetch then
// acts as the recovery probe, re-enabling the venue on its first
// success. Quarantined venues are skipped by the opportunity filter but
// their open trades keep being managed.
package balance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"crossarb/internal/exchange"
	"crossarb/pkg/types"
)

const fetchTimeout = 15 * time.Second

// Reconciler is safe for concurrent use.
type Reconciler struct {
	clients   map[string]exchange.Client
	interval  time.Duration
	threshold int
	logger    *slog.Logger

	// onSnapshot, when set, receives a copy of the balances after every
	// reconcile pass (persistence hook).
	onSnapshot func(map[string]types.Balance)

	mu        sync.RWMutex
	balances  map[string]types.Balance
	updatedAt map[string]time.Time
	failures  map[string]int
	disabled  map[string]bool
}

// New creates a reconciler polling every interval, quarantining venues
// after threshold consecutive failures.
func New(clients map[string]exchange.Client, interval time.Duration, threshold int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		clients:   clients,
		interval:  interval,
		threshold: threshold,
		logger:    logger.With("component", "balance"),
		balances:  make(map[string]types.Balance),
		updatedAt: make(map[string]time.Time),
		failures:  make(map[string]int),
		disabled:  make(map[string]bool),
	}
}

// OnSnapshot registers the persistence hook. Must be called before Run.
func (r *Reconciler) OnSnapshot(fn func(map[string]types.Balance)) {
	r.onSnapshot = fn
}

// Run reconciles immediately, then on every tick until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	p := pool.New().WithMaxGoroutines(len(r.clients))
	for venue, client := range r.clients {
		venue, client := venue, client
		p.Go(func() {
			bal, err := client.FetchBalance(ctx)
			if err != nil {
				r.ReportFailure(venue)
				r.logger.Warn("balance fetch failed", "venue", venue, "error", err)
				return
			}
			r.ReportSuccess(venue)
			r.mu.Lock()
			r.balances[venue] = bal
			r.updatedAt[venue] = time.Now()
			r.mu.Unlock()
		})
	}
	p.Wait()

	if r.onSnapshot != nil {
		r.onSnapshot(r.Snapshot())
	}
}

// Snapshot returns a copy of the last known balances.
func (r *Reconciler) Snapshot() map[string]types.Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.Balance, len(r.balances))
	for venue, bal := range r.balances {
		out[venue] = bal
	}
	return out
}

// Free returns the last known free margin on a venue and when it was
// observed. Zero time means never.
func (r *Reconciler) Free(venue string) (float64, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[venue].Free, r.updatedAt[venue]
}

// Restore seeds the balance view from a persisted snapshot, so margin
// checks work before the first live reconcile completes.
func (r *Reconciler) Restore(balances map[string]types.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for venue, bal := range balances {
		if _, ok := r.balances[venue]; !ok {
			r.balances[venue] = bal
		}
	}
}

// ReportFailure counts a consecutive failure against venue, quarantining
// it at the threshold.
func (r *Reconciler) ReportFailure(venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[venue]++
	if r.failures[venue] >= r.threshold && !r.disabled[venue] {
		r.disabled[venue] = true
		r.logger.Error("venue disabled after consecutive failures",
			"venue", venue,
			"failures", r.failures[venue],
		)
	}
}

// ReportSuccess clears the failure count and lifts any quarantine.
func (r *Reconciler) ReportSuccess(venue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[venue] = 0
	if r.disabled[venue] {
		r.disabled[venue] = false
		r.logger.Info("venue recovered", "venue", venue)
	}
}

// Disabled reports whether venue is currently quarantined.
func (r *Reconciler) Disabled(venue string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[venue]
}
