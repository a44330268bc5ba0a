package types

import (
	"testing"
	"time"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Error("Opposite does not flip sides")
	}
}

func TestTradeStateTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state TradeState
		want  bool
	}{
		{StateOpening, false},
		{StateOpen, false},
		{StateClosing, false},
		{StateSettling, false},
		{StateAborting, true},
		{StateClosed, true},
		{StateError, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestQuoteFresh(t *testing.T) {
	t.Parallel()

	now := time.Now()
	q := Quote{Price: 1.5, Ts: now.Add(-2 * time.Second)}
	if !q.Fresh(now, 3*time.Second) {
		t.Error("2s old quote not fresh in a 3s window")
	}
	if q.Fresh(now, time.Second) {
		t.Error("2s old quote fresh in a 1s window")
	}
	zero := Quote{Ts: now}
	if zero.Fresh(now, time.Minute) {
		t.Error("zero-price quote reported fresh")
	}
}

func TestOrderDone(t *testing.T) {
	t.Parallel()

	for _, status := range []OrderStatus{OrderFilled, OrderCancelled, OrderRejected} {
		if !(Order{Status: status}).Done() {
			t.Errorf("status %s not done", status)
		}
	}
	if (Order{Status: OrderOpen}).Done() {
		t.Error("open order reported done")
	}
}
