// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. Four venue adapters (Bybit, Gate, MEXC, BingX) share one synced clock.
//  2. SignalRouter parses raw feed messages into SignalEvents.
//  3. OpportunityFilter admits or rejects each signal against live quotes,
//     balances, and risk limits.
//  4. TradeCoordinator runs one lifecycle goroutine per admitted pair.
//  5. BalanceReconciler keeps margin balances fresh and quarantines
//     failing venues.
//  6. Store persists ledger, trade registry, and balances across restarts.
//
// Every long-running component runs under a supervisor that recovers
// panics and restarts with jittered exponential backoff.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc/pool"

	"crossarb/internal/balance"
	"crossarb/internal/config"
	"crossarb/internal/exchange"
	"crossarb/internal/filter"
	"crossarb/internal/ledger"
	"crossarb/internal/pricestream"
	"crossarb/internal/signal"
	"crossarb/internal/store"
	"crossarb/internal/trade"
	"crossarb/pkg/types"
)

// ErrNoVenues is returned by Start when no enabled venue is reachable.
var ErrNoVenues = errors.New("no venue reachable")

const (
	quiesceTimeout = 5 * time.Second
	resyncInterval = 10 * time.Minute
	messageBuffer  = 64
	eventBuffer    = 16

	// A component crashing this many times in a row gives up and reports
	// a fatal engine failure.
	maxCrashes = 10
)

// Engine owns the lifecycle of all goroutines.
type Engine struct {
	cfg         *config.Config
	clients     map[string]exchange.Client
	clock       *exchange.Clock
	store       *store.Store
	books       *ledger.Ledger
	reconciler  *balance.Reconciler
	stream      *pricestream.Stream
	router      *signal.Router
	filter      *filter.Filter
	coordinator *trade.Coordinator
	logger      *slog.Logger

	messages chan string
	events   chan types.SignalEvent
	fatal    chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	clock := exchange.NewClock(logger)

	clients := make(map[string]exchange.Client)
	for _, venue := range cfg.EnabledVenues() {
		vc := cfg.Venues[venue]
		client, err := newClient(venue, exchange.Credentials{Key: vc.Key, Secret: vc.Secret}, clock, logger)
		if err != nil {
			return nil, err
		}
		clients[venue] = client
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	books := ledger.New(logger)
	if snap, err := st.LoadLedger(); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	} else if snap != nil {
		books.Restore(*snap)
	}

	reconciler := balance.New(clients, cfg.Stream.BalanceInterval, cfg.Risk.VenueDisableThreshold, logger)
	if balances, err := st.LoadBalances(); err != nil {
		return nil, fmt.Errorf("restore balances: %w", err)
	} else if balances != nil {
		reconciler.Restore(balances)
	}

	stream := pricestream.New(clients, reconciler, cfg.Stream.FreshnessWindow, logger)
	router := signal.NewRouter(cfg.Signals.DedupTTL, cfg.Signals.DedupSize, logger)

	fees := make(map[string]float64)
	for venue, vc := range cfg.Venues {
		if vc.TakerFee > 0 {
			fees[venue] = vc.TakerFee
		}
	}
	coordinator := trade.NewCoordinator(clients, stream, books, reconciler, trade.Settings{
		CloseSpread:     cfg.Trading.CloseSpread,
		MaxHoldTime:     cfg.Trading.MaxHoldTime,
		MonitorInterval: cfg.Trading.MonitorInterval,
		Freshness:       cfg.Stream.FreshnessWindow,
		Leverage:        cfg.Trading.Leverage,
		TrailingEnabled: cfg.Trading.TrailingEnabled,
		TrailingLevels:  cfg.Trading.TrailingLevels,
		TakerFees:       fees,
	}, logger)

	f := filter.New(filter.Limits{
		MinSpread:        cfg.Trading.MinSpread,
		MaxAllowedSpread: cfg.Trading.MaxAllowedSpread,
		Leverage:         cfg.Trading.Leverage,
		MaxConcurrent:    cfg.Risk.MaxConcurrentTrades,
		MaxNotional:      cfg.Risk.MaxSingleTradeNotional,
		MaxDailyLoss:     cfg.Risk.MaxDailyLoss,
		QuoteTimeout:     cfg.Stream.FreshnessWindow,
		RiskyMultipliers: cfg.Trading.RiskyMultipliers,
		Blacklist:        filter.BlacklistSet(cfg.Trading.Blacklist),
	}, stream, reconciler, books, coordinator, logger)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:         cfg,
		clients:     clients,
		clock:       clock,
		store:       st,
		books:       books,
		reconciler:  reconciler,
		stream:      stream,
		router:      router,
		filter:      f,
		coordinator: coordinator,
		logger:      logger.With("component", "engine"),
		messages:    make(chan string, messageBuffer),
		events:      make(chan types.SignalEvent, eventBuffer),
		fatal:       make(chan error, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Every trade state transition flushes the registry and the ledger.
	coordinator.OnFlush(func(trades []types.ActiveTrade) {
		if err := st.SaveTrades(trades); err != nil {
			e.logger.Error("save trades failed", "error", err)
		}
		if err := st.SaveLedger(books.Snapshot()); err != nil {
			e.logger.Error("save ledger failed", "error", err)
		}
	})
	reconciler.OnSnapshot(func(balances map[string]types.Balance) {
		if err := st.SaveBalances(balances); err != nil {
			e.logger.Error("save balances failed", "error", err)
		}
	})

	return e, nil
}

func newClient(venue string, creds exchange.Credentials, clock *exchange.Clock, logger *slog.Logger) (exchange.Client, error) {
	switch venue {
	case "bybit":
		return exchange.NewBybit(creds, clock, logger, ""), nil
	case "gate":
		return exchange.NewGate(creds, clock, logger, ""), nil
	case "mexc":
		return exchange.NewMexc(creds, clock, logger, ""), nil
	case "bingx":
		return exchange.NewBingx(creds, clock, logger, ""), nil
	}
	return nil, fmt.Errorf("no adapter for venue %q", venue)
}

// Messages returns the raw signal ingestion channel. The transport
// (chat client, stdin, test harness) writes message text here.
func (e *Engine) Messages() chan<- string {
	return e.messages
}

// Fatal delivers at most one unrecoverable engine failure.
func (e *Engine) Fatal() <-chan error {
	return e.fatal
}

// ————————————————————————————————————————————————————————————————————————
// Status snapshots (dashboard provider)
// ————————————————————————————————————————————————————————————————————————

// ActiveTrades returns a copy of the active-trade registry.
func (e *Engine) ActiveTrades() []types.ActiveTrade {
	return e.coordinator.Active()
}

// LedgerSnapshot returns a deep copy of the ledger state.
func (e *Engine) LedgerSnapshot() ledger.State {
	return e.books.Snapshot()
}

// Balances returns the last reconciled venue balances.
func (e *Engine) Balances() map[string]types.Balance {
	return e.reconciler.Snapshot()
}

// VenueDisabled reports whether a venue is quarantined.
func (e *Engine) VenueDisabled(venue string) bool {
	return e.reconciler.Disabled(venue)
}

// Start syncs clocks, loads venue markets, surfaces any trades left over
// from a previous run, and launches all supervised components.
func (e *Engine) Start() error {
	if err := e.clock.Sync(e.ctx, e.clientList()); err != nil {
		e.logger.Warn("initial clock sync failed, using local time", "error", err)
	}

	if n := e.loadMarkets(); n == 0 {
		return fmt.Errorf("%w: all %d enabled venues failed to load markets", ErrNoVenues, len(e.clients))
	}

	// Trades that were live when the previous process died are never
	// resumed: positions may have moved or been liquidated since. They
	// are surfaced for the operator to unwind by hand.
	if stale, err := e.store.LoadTrades(); err != nil {
		e.logger.Error("load persisted trades failed", "error", err)
	} else {
		for _, t := range stale {
			e.logger.Error("unresumed trade from previous run requires operator review",
				"trade_id", t.ID,
				"symbol", t.Symbol,
				"state", string(t.State),
				"long", t.LongVenue,
				"short", t.ShortVenue,
				"qty", t.Quantity,
			)
		}
	}

	e.spawn("balance", e.reconciler.Run)
	e.spawn("signals", func(ctx context.Context) error {
		e.router.Run(ctx, e.messages, e.events)
		return ctx.Err()
	})
	e.spawn("dispatch", e.dispatch)
	e.spawn("clock", e.resyncClock)

	e.logger.Info("engine started",
		"venues", len(e.clients),
		"min_spread", e.cfg.Trading.MinSpread,
		"max_notional", e.cfg.Risk.MaxSingleTradeNotional,
		"max_daily_loss", e.cfg.Risk.MaxDailyLoss,
	)
	return nil
}

// Stop cancels all goroutines, waits briefly for open trades to unwind,
// persists final state, and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(quiesceTimeout):
		e.logger.Warn("shutdown quiesce timed out", "timeout", quiesceTimeout)
	}

	if err := e.store.SaveLedger(e.books.Snapshot()); err != nil {
		e.logger.Error("final ledger save failed", "error", err)
	}
	if err := e.store.SaveTrades(e.coordinator.Active()); err != nil {
		e.logger.Error("final trades save failed", "error", err)
	}
	if err := e.store.SaveBalances(e.reconciler.Snapshot()); err != nil {
		e.logger.Error("final balances save failed", "error", err)
	}
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// loadMarkets fans out LoadMarkets to every venue and returns how many
// succeeded. Failed venues stay registered; the reconciler's probe will
// keep them quarantined until they recover.
func (e *Engine) loadMarkets() int {
	var mu sync.Mutex
	loaded := 0

	p := pool.New().WithMaxGoroutines(len(e.clients))
	for venue, client := range e.clients {
		venue, client := venue, client
		p.Go(func() {
			if err := client.LoadMarkets(e.ctx); err != nil {
				e.logger.Error("load markets failed", "venue", venue, "error", err)
				e.reconciler.ReportFailure(venue)
				return
			}
			mu.Lock()
			loaded++
			mu.Unlock()
		})
	}
	p.Wait()
	return loaded
}

// dispatch feeds parsed signals through the filter into the coordinator.
func (e *Engine) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-e.events:
			req, reject := e.filter.Evaluate(ctx, evt)
			if reject != filter.RejectNone {
				continue
			}
			if _, err := e.coordinator.Execute(ctx, req); err != nil {
				e.logger.Error("trade start failed", "symbol", req.Symbol, "error", err)
			}
		}
	}
}

// resyncClock re-samples venue time when drift exceeds the threshold.
func (e *Engine) resyncClock(ctx context.Context) error {
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for _, client := range e.clientList() {
			ms, err := client.ServerTime(ctx)
			if err != nil {
				continue
			}
			if e.clock.NeedsResync(ms) {
				if err := e.clock.Sync(ctx, e.clientList()); err != nil {
					e.logger.Warn("clock resync failed", "error", err)
				}
			}
			break
		}
	}
}

func (e *Engine) clientList() []exchange.Client {
	out := make([]exchange.Client, 0, len(e.clients))
	for _, c := range e.clients {
		out = append(out, c)
	}
	return out
}

// spawn runs fn under the supervisor: panics are recovered, crashes
// restart the component with jittered exponential backoff, and a
// crash loop surfaces on the fatal channel.
func (e *Engine) spawn(name string, fn func(context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		crashes := 0

		for {
			started := time.Now()
			err := e.runComponent(fn)
			if e.ctx.Err() != nil {
				return
			}

			// A long healthy run resets the crash budget.
			if time.Since(started) > time.Minute {
				crashes = 0
				bo.Reset()
			}
			crashes++
			if crashes >= maxCrashes {
				select {
				case e.fatal <- fmt.Errorf("component %s crashed %d times in a row: %w", name, crashes, err):
				default:
				}
				return
			}

			wait := bo.NextBackOff() + time.Duration(rand.Int63n(int64(time.Second)))
			e.logger.Error("component crashed, restarting",
				"component", name,
				"error", err,
				"crashes", crashes,
				"backoff", wait,
			)
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
}

func (e *Engine) runComponent(fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(e.ctx)
}
