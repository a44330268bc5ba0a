// Package pricestream maintains a live quote cache across all venues.
//
// For every subscribed symbol the stream runs one watch task per venue.
// A watch opens the venue's ticker WebSocket and copies ticks into the
// cache; when the stream drops, it retries on an exponential schedule
// (1s doubling to an 8s cap) that resets after a healthy connection.
// Consumers read the cache through GetQuote, or GetQuoteBlocking which
// subscribes on demand, polls briefly, and falls back to one REST
// snapshot.
package pricestream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"crossarb/internal/exchange"
	"crossarb/pkg/types"
)

const (
	watchBackoffInit = 1 * time.Second
	watchBackoffMax  = 8 * time.Second
	blockingPoll     = 200 * time.Millisecond
)

// Health receives venue success/failure reports. The balance reconciler
// implements it; a nil Health disables reporting.
type Health interface {
	ReportFailure(venue string)
	ReportSuccess(venue string)
	Disabled(venue string) bool
}

// Stream is the venue-spanning quote cache. Safe for concurrent use.
type Stream struct {
	clients   map[string]exchange.Client
	health    Health
	freshness time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	quotes map[string]map[string]types.Quote // symbol → venue → quote
	subs   map[string]context.CancelFunc     // symbol → watch group cancel
}

// New creates a stream over the given venue clients. freshness is the
// window within which a cached quote counts as live.
func New(clients map[string]exchange.Client, health Health, freshness time.Duration, logger *slog.Logger) *Stream {
	return &Stream{
		clients:   clients,
		health:    health,
		freshness: freshness,
		logger:    logger.With("component", "pricestream"),
		quotes:    make(map[string]map[string]types.Quote),
		subs:      make(map[string]context.CancelFunc),
	}
}

// Subscribe starts watch tasks for symbol on every venue that lists it.
// Subscribing an already-subscribed symbol is a no-op.
func (s *Stream) Subscribe(ctx context.Context, symbol string) {
	s.mu.Lock()
	if _, ok := s.subs[symbol]; ok {
		s.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.subs[symbol] = cancel
	s.mu.Unlock()

	for venue, client := range s.clients {
		if _, err := client.Market(symbol); err != nil {
			continue
		}
		go s.watch(watchCtx, venue, client, symbol)
	}
	s.logger.Info("subscribed", "symbol", symbol)
}

// Unsubscribe stops all watch tasks for symbol and drops its quotes.
func (s *Stream) Unsubscribe(symbol string) {
	s.mu.Lock()
	cancel, ok := s.subs[symbol]
	if ok {
		delete(s.subs, symbol)
		delete(s.quotes, symbol)
	}
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info("unsubscribed", "symbol", symbol)
	}
}

// watch keeps one (venue, symbol) ticker stream alive until ctx ends.
func (s *Stream) watch(ctx context.Context, venue string, client exchange.Client, symbol string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = watchBackoffInit
	bo.MaxInterval = watchBackoffMax
	bo.Multiplier = 2

	log := s.logger.With("venue", venue, "symbol", symbol)

	for {
		if ctx.Err() != nil {
			return
		}
		if s.health != nil && s.health.Disabled(venue) {
			// Quarantined venue: wait out a backoff step before probing.
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		ticks, err := client.WatchTicker(ctx, symbol)
		if err != nil {
			if s.health != nil {
				s.health.ReportFailure(venue)
			}
			wait := bo.NextBackOff()
			log.Warn("ticker watch failed", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		delivered := false
		for tick := range ticks {
			s.store(types.Quote{
				Symbol: symbol,
				Venue:  venue,
				Price:  tick.Last,
				Ts:     tick.Ts,
				Source: types.SourceStream,
			})
			if !delivered {
				delivered = true
				if s.health != nil {
					s.health.ReportSuccess(venue)
				}
			}
		}
		// Channel closed: stream ended. A connection that delivered data
		// earns a fresh retry schedule.
		if delivered {
			bo.Reset()
		} else if s.health != nil {
			s.health.ReportFailure(venue)
		}
		if ctx.Err() != nil {
			return
		}
		wait := bo.NextBackOff()
		log.Debug("ticker stream ended", "retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (s *Stream) store(q types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVenue, ok := s.quotes[q.Symbol]
	if !ok {
		byVenue = make(map[string]types.Quote)
		s.quotes[q.Symbol] = byVenue
	}
	byVenue[q.Venue] = q
}

// GetQuote returns the cached quote for (symbol, venue). The second
// return is false when no quote was ever cached. A stale quote is
// returned with Source set to SourceStale.
func (s *Stream) GetQuote(symbol, venue string) (types.Quote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[symbol][venue]
	s.mu.RUnlock()
	if !ok {
		return types.Quote{}, false
	}
	if !q.Fresh(time.Now(), s.freshness) {
		q.Source = types.SourceStale
	}
	return q, true
}

// Quotes returns a copy of all cached quotes for symbol.
func (s *Stream) Quotes(symbol string) map[string]types.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Quote, len(s.quotes[symbol]))
	for venue, q := range s.quotes[symbol] {
		out[venue] = q
	}
	return out
}

// GetQuoteBlocking subscribes the symbol on demand, then waits up to
// timeout for a fresh cached quote, polling every 200ms. If none
// arrives it takes one REST snapshot, caches it, and returns it.
func (s *Stream) GetQuoteBlocking(ctx context.Context, symbol, venue string, timeout time.Duration) (types.Quote, error) {
	s.Subscribe(ctx, symbol)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(blockingPoll)
	defer ticker.Stop()

	for {
		if q, ok := s.GetQuote(symbol, venue); ok && q.Source != types.SourceStale {
			return q, nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return types.Quote{}, ctx.Err()
		case <-ticker.C:
		}
	}

	client, ok := s.clients[venue]
	if !ok {
		return types.Quote{}, &exchange.Error{
			Kind: exchange.KindNotFound, Venue: venue, Op: "get_quote",
			Err: context.DeadlineExceeded,
		}
	}
	tick, err := client.FetchTicker(ctx, symbol)
	if err != nil {
		if s.health != nil {
			s.health.ReportFailure(venue)
		}
		return types.Quote{}, err
	}
	if s.health != nil {
		s.health.ReportSuccess(venue)
	}
	q := types.Quote{
		Symbol: symbol,
		Venue:  venue,
		Price:  tick.Last,
		Ts:     tick.Ts,
		Source: types.SourceREST,
	}
	s.store(q)
	return q, nil
}

// ResolveAll checks every venue for a tradeable contract in parallel and
// returns the markets found, keyed by venue.
func (s *Stream) ResolveAll(ctx context.Context, base string) map[string]types.Market {
	var mu sync.Mutex
	found := make(map[string]types.Market)

	p := pool.New().WithMaxGoroutines(len(s.clients))
	for venue, client := range s.clients {
		venue, client := venue, client
		p.Go(func() {
			m, err := client.ResolveSymbol(ctx, base)
			if err != nil {
				if exchange.IsTransient(err) && s.health != nil {
					s.health.ReportFailure(venue)
				}
				return
			}
			mu.Lock()
			found[venue] = m
			mu.Unlock()
		})
	}
	p.Wait()
	return found
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
