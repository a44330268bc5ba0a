package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"crossarb/internal/config"
	"crossarb/internal/exchange"
	"crossarb/pkg/types"
)

const (
	openingDeadline = 30 * time.Second
	closingDeadline = 120 * time.Second
	settlePoll      = time.Second
	placeAttempts   = 3

	// Closing limit prices cross the book slightly so they fill like
	// market orders; each retry widens further.
	sellCross   = 0.998
	buyCross    = 1.002
	sellWiden   = 0.99
	buyWiden    = 1.01
	liqDiscount = 0.30 // fallback exit estimate when a liquidated leg has no mark
)

// Quotes is the slice of the price stream the coordinator needs.
type Quotes interface {
	Subscribe(ctx context.Context, symbol string)
	Unsubscribe(symbol string)
	GetQuote(symbol, venue string) (types.Quote, bool)
}

// Recorder books closed trades; the ledger satisfies it.
type Recorder interface {
	Record(out types.TradeOutcome)
}

// Health receives venue failure reports; the balance reconciler
// satisfies it.
type Health interface {
	ReportFailure(venue string)
	ReportSuccess(venue string)
}

// Settings carries the lifecycle tuning, pre-extracted from config.
type Settings struct {
	CloseSpread     float64
	MaxHoldTime     time.Duration
	MonitorInterval time.Duration
	Freshness       time.Duration
	Leverage        int
	TrailingEnabled bool
	TrailingLevels  []config.TrailingLevel

	// TakerFees overrides the per-venue fee from market metadata when set.
	TakerFees map[string]float64
}

// Coordinator owns every active trade. Each pair runs its own lifecycle
// goroutine; the registry is the only shared state.
type Coordinator struct {
	clients  map[string]exchange.Client
	quotes   Quotes
	books    Recorder
	health   Health
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	// onFlush, when set, receives the active-trade snapshot after every
	// state transition (persistence hook).
	onFlush func([]types.ActiveTrade)

	mu     sync.Mutex
	trades map[string]*types.ActiveTrade
	wg     sync.WaitGroup
}

func NewCoordinator(clients map[string]exchange.Client, quotes Quotes, books Recorder, health Health, settings Settings, logger *slog.Logger) *Coordinator {
	if settings.MonitorInterval == 0 {
		settings.MonitorInterval = 5 * time.Second
	}
	if settings.Freshness == 0 {
		settings.Freshness = 3 * time.Second
	}
	if settings.Leverage == 0 {
		settings.Leverage = 1
	}
	return &Coordinator{
		clients:  clients,
		quotes:   quotes,
		books:    books,
		health:   health,
		settings: settings,
		logger:   logger.With("component", "trade"),
		now:      time.Now,
		trades:   make(map[string]*types.ActiveTrade),
	}
}

// OnFlush registers the persistence hook. Must be called before Execute.
func (c *Coordinator) OnFlush(fn func([]types.ActiveTrade)) {
	c.onFlush = fn
}

// Count returns the number of non-terminal trades.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.trades {
		if !t.State.Terminal() {
			n++
		}
	}
	return n
}

// Active returns a snapshot of all registered trades.
func (c *Coordinator) Active() []types.ActiveTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ActiveTrade, 0, len(c.trades))
	for _, t := range c.trades {
		out = append(out, *t)
	}
	return out
}

// Wait blocks until every trade goroutine has finished. Call after
// cancelling the context passed to Execute.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Execute takes an admitted request through the full lifecycle in a new
// goroutine and returns the trade ID immediately.
func (c *Coordinator) Execute(ctx context.Context, req types.TradeRequest) (string, error) {
	for _, venue := range []string{req.LongVenue, req.ShortVenue} {
		if _, ok := c.clients[venue]; !ok {
			return "", fmt.Errorf("no client for venue %q", venue)
		}
	}

	t := &types.ActiveTrade{
		ID:              uuid.NewString(),
		Symbol:          req.Symbol,
		State:           types.StateOpening,
		LongVenue:       req.LongVenue,
		ShortVenue:      req.ShortVenue,
		EntryLongPrice:  req.LongPrice,
		EntryShortPrice: req.ShortPrice,
		Quantity:        req.Quantity,
		EntrySpread:     req.Spread,
		EntryTime:       c.now(),
	}
	c.mu.Lock()
	c.trades[t.ID] = t
	c.mu.Unlock()
	c.flush()

	c.logger.Info("trade starting",
		"trade_id", t.ID,
		"symbol", t.Symbol,
		"long", t.LongVenue,
		"short", t.ShortVenue,
		"qty", t.Quantity,
		"spread", t.EntrySpread,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, t)
	}()
	return t.ID, nil
}

func (c *Coordinator) run(ctx context.Context, t *types.ActiveTrade) {
	if !c.open(ctx, t) {
		return
	}
	reason, lastMarks := c.monitor(ctx, t)
	c.close(ctx, t, reason, lastMarks)
}

// ————————————————————————————————————————————————————————————————————————
// Opening
// ————————————————————————————————————————————————————————————————————————

// open places both legs in parallel and waits for the entry fills.
// Returns false when the trade aborted.
func (c *Coordinator) open(ctx context.Context, t *types.ActiveTrade) bool {
	octx, cancel := context.WithTimeout(ctx, openingDeadline)
	defer cancel()

	c.prepare(octx, t)

	var longOrd, shortOrd types.Order
	var longErr, shortErr error
	p := pool.New().WithMaxGoroutines(2)
	p.Go(func() {
		longOrd, longErr = c.placeWithRetry(octx, t.LongVenue, t.Symbol, types.Buy, t.Quantity, t.EntryLongPrice, exchange.OrderParams{PositionSide: types.Buy})
	})
	p.Go(func() {
		shortOrd, shortErr = c.placeWithRetry(octx, t.ShortVenue, t.Symbol, types.Sell, t.Quantity, t.EntryShortPrice, exchange.OrderParams{PositionSide: types.Sell})
	})
	p.Wait()

	if longErr != nil || shortErr != nil {
		// One leg alone is naked exposure: cancel whichever survived,
		// flatten whatever filled, and walk away with the ledger
		// untouched.
		if longErr == nil {
			c.cancelQuiet(t.LongVenue, t.Symbol, longOrd.ID)
			c.unwindEntry(t, t.LongVenue, longOrd.ID, types.Buy)
		}
		if shortErr == nil {
			c.cancelQuiet(t.ShortVenue, t.Symbol, shortOrd.ID)
			c.unwindEntry(t, t.ShortVenue, shortOrd.ID, types.Sell)
		}
		c.reportLegErr(t.LongVenue, longErr)
		c.reportLegErr(t.ShortVenue, shortErr)
		c.logger.Error("entry failed, trade aborted",
			"trade_id", t.ID,
			"long_err", longErr,
			"short_err", shortErr,
		)
		c.finish(t, types.StateAborting)
		return false
	}
	t.LongOrderID = longOrd.ID
	t.ShortOrderID = shortOrd.ID
	c.flush()

	filled, ok := c.awaitFills(octx, t, longOrd.ID, shortOrd.ID)
	if !ok {
		c.cancelQuiet(t.LongVenue, t.Symbol, longOrd.ID)
		c.cancelQuiet(t.ShortVenue, t.Symbol, shortOrd.ID)
		c.unwindEntry(t, t.LongVenue, longOrd.ID, types.Buy)
		c.unwindEntry(t, t.ShortVenue, shortOrd.ID, types.Sell)
		c.logger.Error("entry fills timed out, trade aborted", "trade_id", t.ID)
		c.finish(t, types.StateAborting)
		return false
	}
	if px := filled[t.LongVenue].AvgPrice; px > 0 {
		t.EntryLongPrice = px
	}
	if px := filled[t.ShortVenue].AvgPrice; px > 0 {
		t.EntryShortPrice = px
	}

	t.State = types.StateOpen
	t.EntryTime = c.now()
	c.flush()
	c.logger.Info("pair opened",
		"trade_id", t.ID,
		"entry_long", t.EntryLongPrice,
		"entry_short", t.EntryShortPrice,
	)
	return true
}

// prepare sets leverage and hedge/isolated modes on both venues. Venue
// refusals here are logged and tolerated; the order placement is the
// real gate.
func (c *Coordinator) prepare(ctx context.Context, t *types.ActiveTrade) {
	p := pool.New().WithMaxGoroutines(2)
	for _, venue := range []string{t.LongVenue, t.ShortVenue} {
		venue := venue
		p.Go(func() {
			client := c.clients[venue]
			if err := client.SetPositionMode(ctx, t.Symbol, true); err != nil {
				c.logger.Warn("set position mode failed", "venue", venue, "symbol", t.Symbol, "error", err)
			}
			if err := client.SetMarginMode(ctx, t.Symbol, "isolated"); err != nil {
				c.logger.Warn("set margin mode failed", "venue", venue, "symbol", t.Symbol, "error", err)
			}
			if err := client.SetLeverage(ctx, t.Symbol, c.settings.Leverage); err != nil {
				c.logger.Warn("set leverage failed", "venue", venue, "symbol", t.Symbol, "error", err)
			}
		})
	}
	p.Wait()
}

// placeWithRetry retries transient placement failures with exponential
// backoff, up to placeAttempts total attempts.
func (c *Coordinator) placeWithRetry(ctx context.Context, venue, symbol string, side types.Side, qty, price float64, params exchange.OrderParams) (types.Order, error) {
	client := c.clients[venue]
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		ord, err := client.CreateLimitOrder(ctx, symbol, side, qty, price, params)
		if err == nil {
			c.health.ReportSuccess(venue)
			return ord, nil
		}
		lastErr = err
		if !exchange.IsTransient(err) {
			break
		}
		c.logger.Warn("order placement retry",
			"venue", venue,
			"symbol", symbol,
			"attempt", attempt,
			"error", err,
		)
		if !sleep(ctx, bo.NextBackOff()) {
			break
		}
	}
	return types.Order{}, lastErr
}

// unwindEntry flattens whatever filled on an entry leg after an abort.
// A partially filled entry left in place is naked directional exposure.
func (c *Coordinator) unwindEntry(t *types.ActiveTrade, venue, orderID string, entrySide types.Side) {
	ctx, cancel := context.WithTimeout(context.Background(), closingDeadline)
	defer cancel()

	ord, err := c.clients[venue].FetchOrder(ctx, t.Symbol, orderID)
	if err != nil || ord.Filled <= 0 {
		return
	}

	entry, cross, widen := t.EntryLongPrice, sellCross, sellWiden
	if entrySide == types.Sell {
		entry, cross, widen = t.EntryShortPrice, buyCross, buyWiden
	}
	px := c.closePrice(t, venue, entry, cross)
	if _, err := c.placeWidening(ctx, venue, t.Symbol, entrySide.Opposite(), ord.Filled, px, widen); err != nil {
		c.logger.Error("entry unwind failed",
			"trade_id", t.ID,
			"venue", venue,
			"qty", ord.Filled,
			"error", err,
		)
		return
	}
	c.logger.Warn("filled entry quantity unwound",
		"trade_id", t.ID,
		"venue", venue,
		"qty", ord.Filled,
	)
}

// awaitFills polls both entry orders until each is done. A cancelled or
// rejected entry counts as a failure.
func (c *Coordinator) awaitFills(ctx context.Context, t *types.ActiveTrade, longID, shortID string) (map[string]types.Order, bool) {
	orders := map[string]types.Order{}
	legs := map[string]string{t.LongVenue: longID, t.ShortVenue: shortID}

	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for {
		done := true
		for venue, id := range legs {
			if o, ok := orders[venue]; ok && o.Done() {
				continue
			}
			o, err := c.clients[venue].FetchOrder(ctx, t.Symbol, id)
			if err != nil {
				done = false
				continue
			}
			orders[venue] = o
			if o.Status == types.OrderCancelled || o.Status == types.OrderRejected {
				return nil, false
			}
			if !o.Done() {
				done = false
			}
		}
		if done {
			return orders, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Monitoring
// ————————————————————————————————————————————————————————————————————————

// monitor watches the open pair until an exit condition fires. It
// returns the close reason and the last marks seen per venue, used to
// price a liquidated leg.
func (c *Coordinator) monitor(ctx context.Context, t *types.ActiveTrade) (types.CloseReason, map[string]float64) {
	ticker := time.NewTicker(c.settings.MonitorInterval)
	defer ticker.Stop()

	feeLong := c.takerFee(t.LongVenue, t.Symbol)
	feeShort := c.takerFee(t.ShortVenue, t.Symbol)
	lastMarks := make(map[string]float64)
	sawBoth := false

	for {
		select {
		case <-ctx.Done():
			return types.CloseShutdown, lastMarks
		case <-ticker.C:
		}

		now := c.now()
		held := now.Sub(t.EntryTime)

		lq, lok := c.quotes.GetQuote(t.Symbol, t.LongVenue)
		sq, sok := c.quotes.GetQuote(t.Symbol, t.ShortVenue)
		fresh := lok && sok && lq.Fresh(now, c.settings.Freshness) && sq.Fresh(now, c.settings.Freshness)

		if fresh {
			spread := (sq.Price - lq.Price) / lq.Price * 100
			if spread > t.MaxSpreadSeen {
				t.MaxSpreadSeen = spread
			}
			if spread <= c.settings.CloseSpread {
				return types.CloseTargetSpread, lastMarks
			}
			if held > c.settings.MaxHoldTime {
				return types.CloseTimeout, lastMarks
			}
			pnl := unrealized(t.EntryLongPrice, t.EntryShortPrice, lq.Price, sq.Price, t.Quantity, feeLong, feeShort)
			if pnl > t.MaxPnL {
				t.MaxPnL = pnl
			}
			if c.settings.TrailingEnabled && t.MaxPnL > 0 {
				if keep, active := keepRatio(c.settings.TrailingLevels, held); active && pnl <= t.MaxPnL*keep {
					c.logger.Info("trailing stop fired",
						"trade_id", t.ID,
						"pnl", pnl,
						"max_pnl", t.MaxPnL,
						"keep", keep,
					)
					return types.CloseTrailingStop, lastMarks
				}
			}
		} else if held > c.settings.MaxHoldTime {
			// The time stop does not depend on quotes.
			return types.CloseTimeout, lastMarks
		}

		switch c.checkPositions(ctx, t, lastMarks) {
		case positionsBoth:
			sawBoth = true
		case positionsOneGone:
			if sawBoth {
				c.logger.Error("liquidation asymmetry detected", "trade_id", t.ID, "symbol", t.Symbol)
				return types.CloseLiquidation, lastMarks
			}
		}
	}
}

type positionsResult int

const (
	positionsUnknown positionsResult = iota
	positionsBoth
	positionsOneGone
)

// checkPositions verifies both legs still exist on their venues. Fetch
// errors yield Unknown so a flaky venue cannot fake a liquidation.
func (c *Coordinator) checkPositions(ctx context.Context, t *types.ActiveTrade, lastMarks map[string]float64) positionsResult {
	present := 0
	for venue, side := range map[string]types.Side{
		t.LongVenue:  types.Buy,
		t.ShortVenue: types.Sell,
	} {
		positions, err := c.clients[venue].FetchPositions(ctx, t.Symbol)
		if err != nil {
			return positionsUnknown
		}
		for _, pos := range positions {
			if pos.Symbol == t.Symbol && pos.Side == side && pos.Quantity > 0 {
				present++
				if pos.Mark > 0 {
					lastMarks[venue] = pos.Mark
				}
				break
			}
		}
	}
	switch present {
	case 2:
		return positionsBoth
	case 1:
		return positionsOneGone
	default:
		return positionsUnknown
	}
}

// ————————————————————————————————————————————————————————————————————————
// Closing and settling
// ————————————————————————————————————————————————————————————————————————

// close unwinds the pair and books the result. Runs on a context
// detached from the parent so shutdown does not strand open positions.
func (c *Coordinator) close(ctx context.Context, t *types.ActiveTrade, reason types.CloseReason, lastMarks map[string]float64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closingDeadline)
	defer cancel()

	t.State = types.StateClosing
	t.CloseReason = reason
	c.flush()
	c.logger.Info("closing pair", "trade_id", t.ID, "reason", string(reason))

	longLiquidated := reason == types.CloseLiquidation && !c.hasPosition(cctx, t.LongVenue, t.Symbol, types.Buy)
	shortLiquidated := reason == types.CloseLiquidation && !c.hasPosition(cctx, t.ShortVenue, t.Symbol, types.Sell)

	var longOrd, shortOrd types.Order
	var longErr, shortErr error
	p := pool.New().WithMaxGoroutines(2)
	if !longLiquidated {
		p.Go(func() {
			px := c.closePrice(t, t.LongVenue, t.EntryLongPrice, sellCross)
			longOrd, longErr = c.placeWidening(cctx, t.LongVenue, t.Symbol, types.Sell, t.Quantity, px, sellWiden)
		})
	}
	if !shortLiquidated {
		p.Go(func() {
			px := c.closePrice(t, t.ShortVenue, t.EntryShortPrice, buyCross)
			shortOrd, shortErr = c.placeWidening(cctx, t.ShortVenue, t.Symbol, types.Buy, t.Quantity, px, buyWiden)
		})
	}
	p.Wait()

	if longErr != nil || shortErr != nil {
		c.logger.Error("close order placement failed",
			"trade_id", t.ID,
			"long_err", longErr,
			"short_err", shortErr,
		)
		c.finish(t, types.StateError)
		return
	}

	t.State = types.StateSettling
	c.flush()

	exitLong, filledLong, okLong := c.settleLeg(cctx, t, t.LongVenue, longOrd, longLiquidated, lastMarks, liqLongExit)
	exitShort, filledShort, okShort := c.settleLeg(cctx, t, t.ShortVenue, shortOrd, shortLiquidated, lastMarks, liqShortExit)
	if !okLong && !okShort {
		c.finish(t, types.StateError)
		return
	}

	feeLong := c.takerFee(t.LongVenue, t.Symbol)
	feeShort := c.takerFee(t.ShortVenue, t.Symbol)
	gross, fees, net := pnl(t.EntryLongPrice, t.EntryShortPrice, exitLong, exitShort, t.Quantity, feeLong, feeShort)

	residual := 0.0
	if min := minFloat(filledLong, filledShort); min < t.Quantity {
		residual = t.Quantity - min
	}

	t.RealizedPnL = net
	out := types.TradeOutcome{
		TradeID:     t.ID,
		Symbol:      t.Symbol,
		LongVenue:   t.LongVenue,
		ShortVenue:  t.ShortVenue,
		Quantity:    t.Quantity,
		EntrySpread: t.EntrySpread,
		CloseReason: reason,
		GrossPnL:    gross,
		Fees:        fees,
		NetPnL:      net,
		Residual:    residual,
		Estimated:   longLiquidated || shortLiquidated,
		Duration:    c.now().Sub(t.EntryTime),
		ClosedAt:    c.now(),
	}
	c.books.Record(out)
	c.finish(t, types.StateClosed)
	c.logger.Info("pair closed",
		"trade_id", t.ID,
		"reason", string(reason),
		"net_pnl", net,
		"fees", fees,
		"residual", residual,
		"duration", out.Duration,
	)
}

// closePrice derives the unwind limit price from the freshest quote,
// falling back to the entry price when the stream is dark.
func (c *Coordinator) closePrice(t *types.ActiveTrade, venue string, entry, cross float64) float64 {
	px := entry
	if q, ok := c.quotes.GetQuote(t.Symbol, venue); ok && q.Price > 0 {
		px = q.Price
	}
	return px * cross
}

// placeWidening retries a reduce-only close order, widening the price
// each attempt so a moving market cannot reject us forever.
func (c *Coordinator) placeWidening(ctx context.Context, venue, symbol string, side types.Side, qty, price, widen float64) (types.Order, error) {
	client := c.clients[venue]
	params := exchange.OrderParams{ReduceOnly: true, PositionSide: side.Opposite()}

	var lastErr error
	px := price
	for attempt := 1; attempt <= placeAttempts; attempt++ {
		ord, err := client.CreateLimitOrder(ctx, symbol, side, qty, px, params)
		if err == nil {
			return ord, nil
		}
		lastErr = err
		c.logger.Warn("close order retry",
			"venue", venue,
			"symbol", symbol,
			"attempt", attempt,
			"price", px,
			"error", err,
		)
		px *= widen
		if !sleep(ctx, settlePoll) {
			break
		}
	}
	return types.Order{}, lastErr
}

// Liquidated-leg exit estimators when the venue never reported a mark.
func liqLongExit(entry float64) float64  { return entry * (1 - liqDiscount) }
func liqShortExit(entry float64) float64 { return entry * (1 + liqDiscount) }

// settleLeg resolves the exit price and filled quantity for one leg.
// For a liquidated leg it uses the venue's last mark, or a conservative
// estimate when none was seen.
func (c *Coordinator) settleLeg(ctx context.Context, t *types.ActiveTrade, venue string, ord types.Order, liquidated bool, lastMarks map[string]float64, estimate func(float64) float64) (exit, filled float64, ok bool) {
	entry := t.EntryLongPrice
	if venue == t.ShortVenue {
		entry = t.EntryShortPrice
	}
	if liquidated {
		if mark := lastMarks[venue]; mark > 0 {
			return mark, t.Quantity, true
		}
		return estimate(entry), t.Quantity, true
	}

	final := c.awaitOrder(ctx, venue, t.Symbol, ord.ID)
	if final.Filled <= 0 {
		c.cancelQuiet(venue, t.Symbol, ord.ID)
		return 0, 0, false
	}
	if !final.Done() {
		// Deadline hit with a partial fill: take what filled, report the rest.
		c.cancelQuiet(venue, t.Symbol, ord.ID)
	}
	exit = final.AvgPrice
	if exit <= 0 {
		exit = ord.Price
	}
	return exit, final.Filled, true
}

// awaitOrder polls until the order is done or ctx expires, returning the
// last observed state either way.
func (c *Coordinator) awaitOrder(ctx context.Context, venue, symbol, orderID string) types.Order {
	client := c.clients[venue]
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	var last types.Order
	for {
		if o, err := client.FetchOrder(ctx, symbol, orderID); err == nil {
			last = o
			if o.Done() {
				return o
			}
		}
		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Registry plumbing
// ————————————————————————————————————————————————————————————————————————

// finish moves the trade to a terminal state, flushes, and releases the
// symbol's stream when no other trade uses it.
func (c *Coordinator) finish(t *types.ActiveTrade, state types.TradeState) {
	c.mu.Lock()
	t.State = state
	delete(c.trades, t.ID)
	others := false
	for _, o := range c.trades {
		if o.Symbol == t.Symbol {
			others = true
			break
		}
	}
	c.mu.Unlock()
	c.flush()
	if !others {
		c.quotes.Unsubscribe(t.Symbol)
	}
}

func (c *Coordinator) flush() {
	if c.onFlush != nil {
		c.onFlush(c.Active())
	}
}

func (c *Coordinator) cancelQuiet(venue, symbol, orderID string) {
	if orderID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.clients[venue].CancelOrder(ctx, symbol, orderID); err != nil && !exchange.IsNotFound(err) {
		c.logger.Warn("cancel failed", "venue", venue, "symbol", symbol, "order_id", orderID, "error", err)
	}
}

func (c *Coordinator) reportLegErr(venue string, err error) {
	if err == nil {
		return
	}
	c.health.ReportFailure(venue)
}

func (c *Coordinator) hasPosition(ctx context.Context, venue, symbol string, side types.Side) bool {
	positions, err := c.clients[venue].FetchPositions(ctx, symbol)
	if err != nil {
		// Assume it exists so we still try to unwind it.
		return true
	}
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Side == side && pos.Quantity > 0 {
			return true
		}
	}
	return false
}

func (c *Coordinator) takerFee(venue, symbol string) float64 {
	if fee, ok := c.settings.TakerFees[venue]; ok && fee > 0 {
		return fee
	}
	if m, err := c.clients[venue].Market(symbol); err == nil && m.TakerFee > 0 {
		return m.TakerFee
	}
	return 0.001
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// sleep waits for d or ctx, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
