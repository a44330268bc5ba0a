package balance

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

// balanceClient stubs just FetchBalance; the reconciler touches nothing else.
type balanceClient struct {
	exchange.Client
	name  string
	fetch func(ctx context.Context) (types.Balance, error)
}

func (c *balanceClient) Name() string { return c.name }
func (c *balanceClient) FetchBalance(ctx context.Context) (types.Balance, error) {
	return c.fetch(ctx)
}

func testReconciler(clients map[string]exchange.Client, threshold int) *Reconciler {
	return New(clients, time.Hour, threshold, slog.New(slog.DiscardHandler))
}

func TestReconcileUpdatesBalances(t *testing.T) {
	t.Parallel()

	clients := map[string]exchange.Client{
		"bybit": &balanceClient{name: "bybit", fetch: func(context.Context) (types.Balance, error) {
			return types.Balance{Venue: "bybit", Free: 100, Total: 120}, nil
		}},
		"gate": &balanceClient{name: "gate", fetch: func(context.Context) (types.Balance, error) {
			return types.Balance{}, errors.New("down")
		}},
	}
	r := testReconciler(clients, 5)
	r.reconcile(context.Background())

	free, at := r.Free("bybit")
	if free != 100 || at.IsZero() {
		t.Errorf("bybit free = %v at %v", free, at)
	}
	if free, _ := r.Free("gate"); free != 0 {
		t.Errorf("gate free = %v, want 0", free)
	}
}

func TestDisableAfterThreshold(t *testing.T) {
	t.Parallel()

	r := testReconciler(nil, 3)

	r.ReportFailure("mexc")
	r.ReportFailure("mexc")
	if r.Disabled("mexc") {
		t.Error("disabled below threshold")
	}
	r.ReportFailure("mexc")
	if !r.Disabled("mexc") {
		t.Error("not disabled at threshold")
	}

	// One success lifts the quarantine and resets the count.
	r.ReportSuccess("mexc")
	if r.Disabled("mexc") {
		t.Error("still disabled after success")
	}
	r.ReportFailure("mexc")
	r.ReportFailure("mexc")
	if r.Disabled("mexc") {
		t.Error("failure count not reset by success")
	}
}

func TestReconcileActsAsRecoveryProbe(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	clients := map[string]exchange.Client{
		"bingx": &balanceClient{name: "bingx", fetch: func(context.Context) (types.Balance, error) {
			if healthy.Load() {
				return types.Balance{Venue: "bingx", Free: 50}, nil
			}
			return types.Balance{}, errors.New("503")
		}},
	}
	r := testReconciler(clients, 2)

	r.reconcile(context.Background())
	r.reconcile(context.Background())
	if !r.Disabled("bingx") {
		t.Fatal("venue not quarantined")
	}

	healthy.Store(true)
	r.reconcile(context.Background())
	if r.Disabled("bingx") {
		t.Error("venue not recovered by successful probe")
	}
	if free, _ := r.Free("bingx"); free != 50 {
		t.Errorf("free = %v, want 50", free)
	}
}

func TestSnapshotHookAndRestore(t *testing.T) {
	t.Parallel()

	clients := map[string]exchange.Client{
		"bybit": &balanceClient{name: "bybit", fetch: func(context.Context) (types.Balance, error) {
			return types.Balance{Venue: "bybit", Free: 10}, nil
		}},
	}
	r := testReconciler(clients, 5)

	var got map[string]types.Balance
	r.OnSnapshot(func(s map[string]types.Balance) { got = s })
	r.reconcile(context.Background())

	if got == nil || got["bybit"].Free != 10 {
		t.Errorf("snapshot hook got %v", got)
	}

	// Restore seeds only venues with no live reading.
	r2 := testReconciler(nil, 5)
	r2.Restore(map[string]types.Balance{"gate": {Venue: "gate", Free: 77}})
	if free, _ := r2.Free("gate"); free != 77 {
		t.Errorf("restored free = %v, want 77", free)
	}
	r2.Restore(map[string]types.Balance{"gate": {Venue: "gate", Free: 1}})
	if free, _ := r2.Free("gate"); free != 77 {
		t.Error("restore overwrote existing balance")
	}
}
