package pricestream

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"crossarb/internal/exchange"
	"crossarb/pkg/types"
)

// fakeClient implements exchange.Client with function hooks.
type fakeClient struct {
	name        string
	watchTicker func(ctx context.Context, symbol string) (<-chan types.Tick, error)
	fetchTicker func(ctx context.Context, symbol string) (types.Tick, error)
	market      func(symbol string) (types.Market, error)
}

func (f *fakeClient) Name() string                          { return f.name }
func (f *fakeClient) LoadMarkets(ctx context.Context) error { return nil }
func (f *fakeClient) Market(symbol string) (types.Market, error) {
	if f.market != nil {
		return f.market(symbol)
	}
	return types.Market{Venue: f.name, Symbol: symbol}, nil
}
func (f *fakeClient) ResolveSymbol(ctx context.Context, base string) (types.Market, error) {
	return f.Market(base)
}
func (f *fakeClient) WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	return f.watchTicker(ctx, symbol)
}
func (f *fakeClient) FetchTicker(ctx context.Context, symbol string) (types.Tick, error) {
	if f.fetchTicker != nil {
		return f.fetchTicker(ctx, symbol)
	}
	return types.Tick{}, errors.New("no rest")
}
func (f *fakeClient) FetchBalance(ctx context.Context) (types.Balance, error) {
	return types.Balance{Venue: f.name}, nil
}
func (f *fakeClient) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeClient) SetMarginMode(ctx context.Context, symbol, mode string) error       { return nil }
func (f *fakeClient) SetPositionMode(ctx context.Context, symbol string, hedge bool) error {
	return nil
}
func (f *fakeClient) CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params exchange.OrderParams) (types.Order, error) {
	return types.Order{}, errors.New("not implemented")
}
func (f *fakeClient) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeClient) FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	return types.Order{}, errors.New("not implemented")
}
func (f *fakeClient) FetchPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	return nil, nil
}
func (f *fakeClient) ServerTime(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamDeliversTicks(t *testing.T) {
	t.Parallel()

	ticks := make(chan types.Tick, 1)
	client := &fakeClient{
		name: "bybit",
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			return ticks, nil
		},
	}
	s := New(map[string]exchange.Client{"bybit": client}, nil, 3*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx, "WOJAK")

	ticks <- types.Tick{Last: 0.042, Ts: time.Now()}

	waitFor(t, time.Second, func() bool {
		q, ok := s.GetQuote("WOJAK", "bybit")
		return ok && q.Price == 0.042 && q.Source == types.SourceStream
	})
}

func TestStreamRetriesFailedWatch(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	ticks := make(chan types.Tick, 1)
	ticks <- types.Tick{Last: 1.5, Ts: time.Now()}

	client := &fakeClient{
		name: "gate",
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("dial refused")
			}
			return ticks, nil
		},
	}
	s := New(map[string]exchange.Client{"gate": client}, nil, 3*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx, "WOJAK")

	// First watch fails, retry after ~1s must succeed and deliver.
	waitFor(t, 5*time.Second, func() bool {
		q, ok := s.GetQuote("WOJAK", "gate")
		return ok && q.Price == 1.5
	})
	if attempts.Load() < 2 {
		t.Errorf("attempts = %d, want >= 2", attempts.Load())
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	t.Parallel()

	var watches atomic.Int32
	client := &fakeClient{
		name: "bybit",
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			watches.Add(1)
			ch := make(chan types.Tick)
			go func() { <-ctx.Done(); close(ch) }()
			return ch, nil
		},
	}
	s := New(map[string]exchange.Client{"bybit": client}, nil, 3*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx, "WOJAK")
	s.Subscribe(ctx, "WOJAK")
	s.Subscribe(ctx, "WOJAK")

	waitFor(t, time.Second, func() bool { return watches.Load() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if watches.Load() != 1 {
		t.Errorf("watch tasks = %d, want 1", watches.Load())
	}
}

func TestGetQuoteStaleMarking(t *testing.T) {
	t.Parallel()

	s := New(nil, nil, 50*time.Millisecond, testLogger())
	s.store(types.Quote{Symbol: "WOJAK", Venue: "mexc", Price: 2.0, Ts: time.Now(), Source: types.SourceStream})

	if q, _ := s.GetQuote("WOJAK", "mexc"); q.Source != types.SourceStream {
		t.Errorf("fresh quote marked %v", q.Source)
	}
	time.Sleep(80 * time.Millisecond)
	q, ok := s.GetQuote("WOJAK", "mexc")
	if !ok || q.Source != types.SourceStale {
		t.Errorf("aged quote source = %v, want stale", q.Source)
	}
	if q.Price != 2.0 {
		t.Errorf("stale quote lost price: %v", q.Price)
	}
}

func TestGetQuoteBlockingRESTFallback(t *testing.T) {
	t.Parallel()

	var restCalls atomic.Int32
	client := &fakeClient{
		name: "bingx",
		// The stream never delivers, forcing the REST path.
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			ch := make(chan types.Tick)
			go func() { <-ctx.Done(); close(ch) }()
			return ch, nil
		},
		fetchTicker: func(ctx context.Context, symbol string) (types.Tick, error) {
			restCalls.Add(1)
			return types.Tick{Last: 7.7, Ts: time.Now()}, nil
		},
	}
	s := New(map[string]exchange.Client{"bingx": client}, nil, 3*time.Second, testLogger())

	q, err := s.GetQuoteBlocking(context.Background(), "WOJAK", "bingx", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("GetQuoteBlocking: %v", err)
	}
	if q.Price != 7.7 || q.Source != types.SourceREST {
		t.Errorf("quote = %+v, want REST 7.7", q)
	}
	if restCalls.Load() != 1 {
		t.Errorf("rest calls = %d, want 1", restCalls.Load())
	}

	// Second call hits the now-cached quote without REST.
	if _, err := s.GetQuoteBlocking(context.Background(), "WOJAK", "bingx", 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if restCalls.Load() != 1 {
		t.Errorf("rest calls = %d after cached read, want 1", restCalls.Load())
	}
}

func TestGetQuoteBlockingSubscribesOnDemand(t *testing.T) {
	t.Parallel()

	ticks := make(chan types.Tick, 1)
	ticks <- types.Tick{Last: 0.5, Ts: time.Now()}
	client := &fakeClient{
		name: "mexc",
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			return ticks, nil
		},
	}
	s := New(map[string]exchange.Client{"mexc": client}, nil, 3*time.Second, testLogger())

	// No prior Subscribe call: the blocking read starts the watch itself.
	q, err := s.GetQuoteBlocking(context.Background(), "WOJAK", "mexc", 2*time.Second)
	if err != nil {
		t.Fatalf("GetQuoteBlocking: %v", err)
	}
	if q.Price != 0.5 || q.Source != types.SourceStream {
		t.Errorf("quote = %+v, want streamed 0.5", q)
	}
}

func TestUnsubscribeDropsQuotes(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name: "bybit",
		watchTicker: func(ctx context.Context, symbol string) (<-chan types.Tick, error) {
			ch := make(chan types.Tick)
			go func() { <-ctx.Done(); close(ch) }()
			return ch, nil
		},
	}
	s := New(map[string]exchange.Client{"bybit": client}, nil, 3*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx, "WOJAK")
	s.store(types.Quote{Symbol: "WOJAK", Venue: "bybit", Price: 1, Ts: time.Now()})

	s.Unsubscribe("WOJAK")
	if _, ok := s.GetQuote("WOJAK", "bybit"); ok {
		t.Error("quotes survived unsubscribe")
	}
	// Unsubscribing twice is harmless.
	s.Unsubscribe("WOJAK")
}
