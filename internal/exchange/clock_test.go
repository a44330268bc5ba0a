package exchange

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// stubTimeClient implements only the parts of Client the clock touches.
type stubTimeClient struct {
	Client
	name string
	time func(ctx context.Context) (int64, error)
}

func (s *stubTimeClient) Name() string { return s.name }
func (s *stubTimeClient) ServerTime(ctx context.Context) (int64, error) {
	return s.time(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func fixedTime(offset time.Duration) func(context.Context) (int64, error) {
	return func(context.Context) (int64, error) {
		return time.Now().Add(offset).UnixMilli(), nil
	}
}

func TestClockSyncMedianOffset(t *testing.T) {
	t.Parallel()

	// Three venues agree on +2s, one outlier reports +40s. The median
	// must land near the majority.
	clients := []Client{
		&stubTimeClient{name: "bybit", time: fixedTime(2 * time.Second)},
		&stubTimeClient{name: "gate", time: fixedTime(2 * time.Second)},
		&stubTimeClient{name: "mexc", time: fixedTime(40 * time.Second)},
		&stubTimeClient{name: "bingx", time: fixedTime(2 * time.Second)},
	}

	c := NewClock(discardLogger())
	if err := c.Sync(context.Background(), clients); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	off := c.Offset()
	if off < 1*time.Second || off > 3*time.Second {
		t.Errorf("offset = %v, want ~2s", off)
	}
}

func TestClockSyncSkipsFailingVenues(t *testing.T) {
	t.Parallel()

	clients := []Client{
		&stubTimeClient{name: "bybit", time: fixedTime(5 * time.Second)},
		&stubTimeClient{name: "gate", time: func(context.Context) (int64, error) {
			return 0, errors.New("down")
		}},
	}

	c := NewClock(discardLogger())
	if err := c.Sync(context.Background(), clients); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if off := c.Offset(); off < 4*time.Second || off > 6*time.Second {
		t.Errorf("offset = %v, want ~5s from the surviving venue", off)
	}
}

func TestClockSyncAllVenuesDown(t *testing.T) {
	t.Parallel()

	down := func(context.Context) (int64, error) { return 0, errors.New("down") }
	clients := []Client{
		&stubTimeClient{name: "bybit", time: down},
		&stubTimeClient{name: "gate", time: down},
	}

	c := NewClock(discardLogger())
	if err := c.Sync(context.Background(), clients); err == nil {
		t.Fatal("expected error when no venue answers")
	}
	if c.Offset() != 0 {
		t.Errorf("offset moved without samples: %v", c.Offset())
	}
}

func TestClockNeedsResync(t *testing.T) {
	t.Parallel()

	c := NewClock(discardLogger())
	now := c.Now().UnixMilli()

	if c.NeedsResync(now + 1000) {
		t.Error("1s drift should not trigger resync")
	}
	if !c.NeedsResync(now + 10_000) {
		t.Error("10s drift should trigger resync")
	}
	if !c.NeedsResync(now - 10_000) {
		t.Error("negative drift should trigger resync")
	}
}
