// bybit.go implements the Client contract for Bybit USDT perpetuals
// (v5 unified API, category=linear).
//
// Auth: HMAC-SHA256 over timestamp + apiKey + recvWindow + payload, sent
// in X-BAPI-* headers. Hedge mode uses positionIdx (1 long, 2 short).
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crossarb/pkg/types"
)

const (
	bybitRESTURL = "https://api.bybit.com"
	bybitWSURL   = "wss://stream.bybit.com/v5/public/linear"
)

// Bybit is the Bybit v5 linear-perpetual adapter.
type Bybit struct {
	*restCore
}

// NewBybit creates a Bybit adapter. baseURL overrides the production
// endpoint for tests; pass "" for the default.
func NewBybit(creds Credentials, clock *Clock, logger *slog.Logger, baseURL string) *Bybit {
	if baseURL == "" {
		baseURL = bybitRESTURL
	}
	return &Bybit{restCore: newRestCore("bybit", baseURL, creds, clock, logger)}
}

func (b *Bybit) Name() string { return "bybit" }

// bybitEnvelope is the uniform v5 response wrapper.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// checkEnvelope maps Bybit business codes onto the typed error model.
func (b *Bybit) checkEnvelope(op string, env bybitEnvelope) error {
	if env.RetCode == 0 {
		return nil
	}
	kind := KindPermanent
	switch env.RetCode {
	case 10006, 10016: // rate limited, server busy
		kind = KindTransient
	case 110001, 20001: // order does not exist
		kind = KindNotFound
	case 10001:
		if strings.Contains(strings.ToLower(env.RetMsg), "symbol") {
			kind = KindMarketState
		}
	case 110007: // insufficient available balance
		kind = KindPermanent
	case 110043: // leverage not modified: treat as success
		return nil
	}
	return wrapErr(kind, "bybit", op, fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg))
}

func (b *Bybit) sign(timestamp int64, payload string) map[string]string {
	msg := strconv.FormatInt(timestamp, 10) + b.creds.Key + strconv.Itoa(recvWindowMs) + payload
	mac := hmac.New(sha256.New, []byte(b.creds.Secret))
	mac.Write([]byte(msg))
	return map[string]string{
		"X-BAPI-API-KEY":     b.creds.Key,
		"X-BAPI-TIMESTAMP":   strconv.FormatInt(timestamp, 10),
		"X-BAPI-RECV-WINDOW": strconv.Itoa(recvWindowMs),
		"X-BAPI-SIGN":        hex.EncodeToString(mac.Sum(nil)),
	}
}

func (b *Bybit) signedGet(ctx context.Context, op, path string, query url.Values, out interface{}) error {
	var env bybitEnvelope
	resp, err := b.http.R().
		SetContext(ctx).
		SetHeaders(b.sign(b.now(), query.Encode())).
		SetQueryParamsFromValues(query).
		SetResult(&env).
		Get(path)
	if err := b.classify(op, resp, err); err != nil {
		return err
	}
	if err := b.checkEnvelope(op, env); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return wrapErr(KindTransient, "bybit", op, err)
		}
	}
	return nil
}

func (b *Bybit) signedPost(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return wrapErr(KindPermanent, "bybit", op, err)
	}
	var env bybitEnvelope
	resp, err := b.http.R().
		SetContext(ctx).
		SetHeaders(b.sign(b.now(), string(raw))).
		SetBody(json.RawMessage(raw)).
		SetResult(&env).
		Post(path)
	if err := b.classify(op, resp, err); err != nil {
		return err
	}
	if err := b.checkEnvelope(op, env); err != nil {
		return err
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return wrapErr(KindTransient, "bybit", op, err)
		}
	}
	return nil
}

// LoadMarkets fetches the linear instrument list and caches metadata for
// every USDT perpetual that is currently trading.
func (b *Bybit) LoadMarkets(ctx context.Context) error {
	if err := b.rl.Market.Wait(ctx); err != nil {
		return err
	}

	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			QuoteCoin    string `json:"quoteCoin"`
			ContractType string `json:"contractType"`
			PriceFilter  struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep        string `json:"qtyStep"`
				MinOrderQty    string `json:"minOrderQty"`
				MinNotionalVal string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}

	var env bybitEnvelope
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"category": "linear", "limit": "1000"}).
		SetResult(&env).
		Get("/v5/market/instruments-info")
	if err := b.classify("load_markets", resp, err); err != nil {
		return err
	}
	if err := b.checkEnvelope("load_markets", env); err != nil {
		return err
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return wrapErr(KindTransient, "bybit", "load_markets", err)
	}

	markets := make(map[string]types.Market, len(result.List))
	for _, inst := range result.List {
		if inst.Status != "Trading" || inst.QuoteCoin != "USDT" || inst.ContractType != "LinearPerpetual" {
			continue
		}
		base := NormalizeBase(inst.Symbol)
		markets[base] = types.Market{
			Venue:       "bybit",
			Symbol:      base,
			Native:      inst.Symbol,
			TickSize:    parseF(inst.PriceFilter.TickSize),
			LotStep:     parseF(inst.LotSizeFilter.QtyStep),
			MinQty:      parseF(inst.LotSizeFilter.MinOrderQty),
			MinNotional: parseF(inst.LotSizeFilter.MinNotionalVal),
			TakerFee:    takerFee("bybit", 0),
		}
	}
	b.setMarkets(markets)
	b.logger.Info("markets loaded", "count", len(markets))
	return nil
}

func (b *Bybit) Market(symbol string) (types.Market, error) { return b.market(symbol) }

func (b *Bybit) ResolveSymbol(ctx context.Context, base string) (types.Market, error) {
	if b.marketCount() == 0 {
		if err := b.LoadMarkets(ctx); err != nil {
			return types.Market{}, err
		}
	}
	return b.market(base)
}

// WatchTicker streams last prices over the public linear WS.
func (b *Bybit) WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	m, err := b.market(symbol)
	if err != nil {
		return nil, err
	}
	spec := wsSpec{
		url: bybitWSURL,
		subscribe: map[string]interface{}{
			"op":   "subscribe",
			"args": []string{"tickers." + m.Native},
		},
		parse: func(data []byte) (types.Tick, bool) {
			var msg struct {
				Topic string `json:"topic"`
				Ts    int64  `json:"ts"`
				Data  struct {
					LastPrice string `json:"lastPrice"`
				} `json:"data"`
			}
			if json.Unmarshal(data, &msg) != nil || !strings.HasPrefix(msg.Topic, "tickers.") {
				return types.Tick{}, false
			}
			price := parseF(msg.Data.LastPrice)
			if price <= 0 {
				return types.Tick{}, false
			}
			return types.Tick{Last: price, Ts: time.UnixMilli(msg.Ts)}, true
		},
		ping: jsonPing(map[string]string{"op": "ping"}),
	}
	return watchTicker(ctx, "bybit", symbol, spec, b.logger)
}

func (b *Bybit) FetchTicker(ctx context.Context, symbol string) (types.Tick, error) {
	m, err := b.market(symbol)
	if err != nil {
		return types.Tick{}, err
	}
	if err := b.rl.Market.Wait(ctx); err != nil {
		return types.Tick{}, err
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	var env bybitEnvelope
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"category": "linear", "symbol": m.Native}).
		SetResult(&env).
		Get("/v5/market/tickers")
	if err := b.classify("fetch_ticker", resp, err); err != nil {
		return types.Tick{}, err
	}
	if err := b.checkEnvelope("fetch_ticker", env); err != nil {
		return types.Tick{}, err
	}
	if err := json.Unmarshal(env.Result, &result); err != nil || len(result.List) == 0 {
		return types.Tick{}, wrapErr(KindTransient, "bybit", "fetch_ticker",
			fmt.Errorf("empty ticker response for %s", m.Native))
	}
	return types.Tick{Last: parseF(result.List[0].LastPrice), Ts: time.Now()}, nil
}

func (b *Bybit) FetchBalance(ctx context.Context) (types.Balance, error) {
	if err := b.rl.Account.Wait(ctx); err != nil {
		return types.Balance{}, err
	}

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				AvailableToGive string `json:"availableToWithdraw"`
				Locked          string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	q := url.Values{"accountType": {"UNIFIED"}, "coin": {"USDT"}}
	if err := b.signedGet(ctx, "fetch_balance", "/v5/account/wallet-balance", q, &result); err != nil {
		return types.Balance{}, err
	}

	bal := types.Balance{Venue: "bybit"}
	for _, acct := range result.List {
		for _, c := range acct.Coin {
			if c.Coin != "USDT" {
				continue
			}
			bal.Total = parseF(c.WalletBalance)
			bal.Used = parseF(c.Locked)
			bal.Free = bal.Total - bal.Used
		}
	}
	return bal, nil
}

func (b *Bybit) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m, err := b.market(symbol)
	if err != nil {
		return err
	}
	if err := b.rl.Account.Wait(ctx); err != nil {
		return err
	}
	lev := strconv.Itoa(leverage)
	return b.signedPost(ctx, "set_leverage", "/v5/position/set-leverage", map[string]string{
		"category":     "linear",
		"symbol":       m.Native,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
}

func (b *Bybit) SetMarginMode(ctx context.Context, symbol, mode string) error {
	// Unified accounts fix the margin mode per account; isolated switching
	// is only available on classic accounts, so accept the account default.
	return nil
}

func (b *Bybit) SetPositionMode(ctx context.Context, symbol string, hedge bool) error {
	m, err := b.market(symbol)
	if err != nil {
		return err
	}
	if err := b.rl.Account.Wait(ctx); err != nil {
		return err
	}
	mode := "0"
	if hedge {
		mode = "3"
	}
	err = b.signedPost(ctx, "set_position_mode", "/v5/position/switch-mode", map[string]string{
		"category": "linear",
		"symbol":   m.Native,
		"mode":     mode,
	}, nil)
	// 110025: position mode not modified
	if err != nil && strings.Contains(err.Error(), "110025") {
		return nil
	}
	return err
}

func (b *Bybit) CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params OrderParams) (types.Order, error) {
	m, err := b.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := b.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	body := map[string]string{
		"category":    "linear",
		"symbol":      m.Native,
		"side":        bybitSide(side),
		"orderType":   "Limit",
		"qty":         formatF(qty),
		"price":       formatF(price),
		"timeInForce": "GTC",
	}
	if params.PositionSide != "" {
		// Hedge mode: 1 = long book, 2 = short book.
		if params.PositionSide == types.Buy {
			body["positionIdx"] = "1"
		} else {
			body["positionIdx"] = "2"
		}
	}
	if params.ReduceOnly {
		body["reduceOnly"] = "true"
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.signedPost(ctx, "create_order", "/v5/order/create", body, &result); err != nil {
		return types.Order{}, err
	}
	return types.Order{
		ID: result.OrderID, Venue: "bybit", Symbol: symbol,
		Side: side, Quantity: qty, Price: price,
		Status: types.OrderOpen, CreatedAt: time.Now(),
	}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m, err := b.market(symbol)
	if err != nil {
		return err
	}
	if err := b.rl.Order.Wait(ctx); err != nil {
		return err
	}
	return b.signedPost(ctx, "cancel_order", "/v5/order/cancel", map[string]string{
		"category": "linear",
		"symbol":   m.Native,
		"orderId":  orderID,
	}, nil)
}

func (b *Bybit) FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	m, err := b.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := b.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			Side        string `json:"side"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
		} `json:"list"`
	}
	q := url.Values{"category": {"linear"}, "symbol": {m.Native}, "orderId": {orderID}}
	if err := b.signedGet(ctx, "fetch_order", "/v5/order/realtime", q, &result); err != nil {
		return types.Order{}, err
	}
	if len(result.List) == 0 {
		// Fall back to history: realtime drops filled orders quickly.
		if err := b.signedGet(ctx, "fetch_order", "/v5/order/history", q, &result); err != nil {
			return types.Order{}, err
		}
	}
	if len(result.List) == 0 {
		return types.Order{}, &Error{Kind: KindNotFound, Venue: "bybit", Op: "fetch_order",
			Err: fmt.Errorf("order %s not found", orderID)}
	}

	o := result.List[0]
	status := types.OrderOpen
	switch o.OrderStatus {
	case "Filled":
		status = types.OrderFilled
	case "Cancelled", "Deactivated":
		status = types.OrderCancelled
	case "Rejected":
		status = types.OrderRejected
	}
	side := types.Buy
	if o.Side == "Sell" {
		side = types.Sell
	}
	return types.Order{
		ID: o.OrderID, Venue: "bybit", Symbol: symbol, Side: side,
		Quantity: parseF(o.Qty), Price: parseF(o.Price),
		Filled: parseF(o.CumExecQty), AvgPrice: parseF(o.AvgPrice),
		Status: status,
	}, nil
}

func (b *Bybit) FetchPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	if err := b.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{"category": {"linear"}, "settleCoin": {"USDT"}}
	if symbol != "" {
		m, err := b.market(symbol)
		if err != nil {
			return nil, err
		}
		q = url.Values{"category": {"linear"}, "symbol": {m.Native}}
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			Size      string `json:"size"`
			AvgPrice  string `json:"avgPrice"`
			MarkPrice string `json:"markPrice"`
		} `json:"list"`
	}
	if err := b.signedGet(ctx, "fetch_positions", "/v5/position/list", q, &result); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(result.List))
	for _, p := range result.List {
		size := parseF(p.Size)
		if size == 0 {
			continue
		}
		side := types.Buy
		if p.Side == "Sell" {
			side = types.Sell
		}
		positions = append(positions, types.Position{
			Venue: "bybit", Symbol: NormalizeBase(p.Symbol), Side: side,
			Quantity: size, Entry: parseF(p.AvgPrice), Mark: parseF(p.MarkPrice),
		})
	}
	return positions, nil
}

func (b *Bybit) ServerTime(ctx context.Context) (int64, error) {
	if err := b.rl.Market.Wait(ctx); err != nil {
		return 0, err
	}
	var result struct {
		TimeNano string `json:"timeNano"`
	}
	var env bybitEnvelope
	resp, err := b.http.R().SetContext(ctx).SetResult(&env).Get("/v5/market/time")
	if err := b.classify("server_time", resp, err); err != nil {
		return 0, err
	}
	if err := b.checkEnvelope("server_time", env); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, wrapErr(KindTransient, "bybit", "server_time", err)
	}
	nano, err := strconv.ParseInt(result.TimeNano, 10, 64)
	if err != nil {
		return 0, wrapErr(KindTransient, "bybit", "server_time", err)
	}
	return nano / int64(time.Millisecond), nil
}

func bybitSide(s types.Side) string {
	if s == types.Buy {
		return "Buy"
	}
	return "Sell"
}
