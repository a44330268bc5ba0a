package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"crossarb/pkg/types"
)

func newTestBybit(t *testing.T, handler http.Handler) *Bybit {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewBybit(Credentials{Key: "k", Secret: "s"}, nil, discardLogger(), srv.URL)
}

func TestBybitLoadMarkets(t *testing.T) {
	t.Parallel()

	b := newTestBybit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"WOJAKUSDT","status":"Trading","quoteCoin":"USDT","contractType":"LinearPerpetual",
			 "priceFilter":{"tickSize":"0.0001"},
			 "lotSizeFilter":{"qtyStep":"1","minOrderQty":"10","minNotionalValue":"5"}},
			{"symbol":"DEADUSDT","status":"Closed","quoteCoin":"USDT","contractType":"LinearPerpetual",
			 "priceFilter":{"tickSize":"0.01"},
			 "lotSizeFilter":{"qtyStep":"1","minOrderQty":"1","minNotionalValue":"5"}},
			{"symbol":"BTCUSD","status":"Trading","quoteCoin":"USD","contractType":"InversePerpetual",
			 "priceFilter":{"tickSize":"0.5"},
			 "lotSizeFilter":{"qtyStep":"1","minOrderQty":"1","minNotionalValue":"0"}}
		]}}`))
	}))

	if err := b.LoadMarkets(context.Background()); err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}

	m, err := b.Market("WOJAK")
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if m.Native != "WOJAKUSDT" || m.TickSize != 0.0001 || m.MinQty != 10 || m.MinNotional != 5 {
		t.Errorf("unexpected market: %+v", m)
	}
	if m.TakerFee != 0.0006 {
		t.Errorf("taker fee = %v, want bybit default 0.0006", m.TakerFee)
	}

	// Delisted and non-USDT contracts must not resolve.
	if _, err := b.Market("DEAD"); !IsNotFound(err) {
		t.Errorf("delisted contract resolved: %v", err)
	}
	if _, err := b.Market("BTC"); !IsNotFound(err) {
		t.Errorf("inverse contract resolved: %v", err)
	}
}

func TestBybitFetchOrderStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		venueStatus string
		want        types.OrderStatus
	}{
		{"New", types.OrderOpen},
		{"PartiallyFilled", types.OrderOpen},
		{"Filled", types.OrderFilled},
		{"Cancelled", types.OrderCancelled},
		{"Rejected", types.OrderRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.venueStatus, func(t *testing.T) {
			t.Parallel()
			b := newTestBybit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/v5/market/instruments-info":
					w.Write([]byte(`{"retCode":0,"result":{"list":[
						{"symbol":"FOOUSDT","status":"Trading","quoteCoin":"USDT","contractType":"LinearPerpetual",
						 "priceFilter":{"tickSize":"0.001"},
						 "lotSizeFilter":{"qtyStep":"1","minOrderQty":"1","minNotionalValue":"0"}}]}}`))
				case "/v5/order/realtime":
					w.Write([]byte(`{"retCode":0,"result":{"list":[
						{"orderId":"42","orderStatus":"` + tt.venueStatus + `","side":"Sell",
						 "qty":"100","price":"0.5","cumExecQty":"60","avgPrice":"0.501"}]}}`))
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			}))

			if err := b.LoadMarkets(context.Background()); err != nil {
				t.Fatalf("LoadMarkets: %v", err)
			}
			o, err := b.FetchOrder(context.Background(), "FOO", "42")
			if err != nil {
				t.Fatalf("FetchOrder: %v", err)
			}
			if o.Status != tt.want {
				t.Errorf("status = %v, want %v", o.Status, tt.want)
			}
			if o.Side != types.Sell || o.Filled != 60 || o.AvgPrice != 0.501 {
				t.Errorf("unexpected order: %+v", o)
			}
		})
	}
}

func TestBybitEnvelopeErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		retCode int
		check   func(error) bool
	}{
		{"rate_limited", 10006, IsTransient},
		{"order_missing", 110001, IsNotFound},
		{"insufficient_balance", 110007, IsPermanent},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := NewBybit(Credentials{}, nil, discardLogger(), "")
			err := b.checkEnvelope("op", bybitEnvelope{RetCode: tt.retCode, RetMsg: tt.name})
			if err == nil || !tt.check(err) {
				t.Errorf("retCode %d classified wrong: %v", tt.retCode, err)
			}
		})
	}

	// Leverage-not-modified is success.
	b := NewBybit(Credentials{}, nil, discardLogger(), "")
	if err := b.checkEnvelope("set_leverage", bybitEnvelope{RetCode: 110043}); err != nil {
		t.Errorf("leverage not modified should be nil, got %v", err)
	}
}

func TestBybitServerTime(t *testing.T) {
	t.Parallel()

	b := newTestBybit(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"result":{"timeSecond":"1700000000","timeNano":"1700000000123456789"}}`))
	}))

	ms, err := b.ServerTime(context.Background())
	if err != nil {
		t.Fatalf("ServerTime: %v", err)
	}
	if ms != 1700000000123 {
		t.Errorf("ms = %d, want 1700000000123", ms)
	}
}
