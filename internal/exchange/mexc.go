// mexc.go implements the Client contract for MEXC USDT-margined
// perpetuals (contract API).
//
// MEXC is a hedge-mode venue: orders carry a numeric side that encodes
// both direction and open/close intent (1 open long, 2 close short,
// 3 open short, 4 close long). Volumes are in contracts of contractSize
// tokens each, folded into LotStep like the Gate adapter does.
//
// Auth: ApiKey / Request-Time / Signature headers, Signature =
// HMAC-SHA256(secret, key + requestTime + payload).
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"crossarb/pkg/types"
)

const (
	mexcRESTURL = "https://contract.mexc.com"
	mexcWSURL   = "wss://contract.mexc.com/edge"
)

// Mexc is the MEXC contract-API adapter.
type Mexc struct {
	*restCore
}

// NewMexc creates a MEXC adapter. baseURL overrides the production
// endpoint for tests; pass "" for the default.
func NewMexc(creds Credentials, clock *Clock, logger *slog.Logger, baseURL string) *Mexc {
	if baseURL == "" {
		baseURL = mexcRESTURL
	}
	return &Mexc{restCore: newRestCore("mexc", baseURL, creds, clock, logger)}
}

func (m *Mexc) Name() string { return "mexc" }

// mexcEnvelope wraps every contract-API response.
type mexcEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (m *Mexc) checkEnvelope(op string, env mexcEnvelope) error {
	if env.Success {
		return nil
	}
	kind := KindPermanent
	switch env.Code {
	case 510, 600, 602, 401: // param / signature / auth failures
		kind = KindPermanent
	case 2005, 2013: // order does not exist
		kind = KindNotFound
	case 1002, 9999: // contract not active / internal error
		kind = KindMarketState
	case 500, 503, 429:
		kind = KindTransient
	}
	return wrapErr(kind, "mexc", op, fmt.Errorf("code %d: %s", env.Code, env.Message))
}

func (m *Mexc) sign(payload string) map[string]string {
	ts := strconv.FormatInt(m.now(), 10)
	mac := hmac.New(sha256.New, []byte(m.creds.Secret))
	mac.Write([]byte(m.creds.Key + ts + payload))
	return map[string]string{
		"ApiKey":       m.creds.Key,
		"Request-Time": ts,
		"Signature":    hex.EncodeToString(mac.Sum(nil)),
	}
}

// sortedQuery renders query params in the key order MEXC signs them in.
func sortedQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+q.Get(k))
	}
	return strings.Join(parts, "&")
}

func (m *Mexc) signedGet(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	var env mexcEnvelope
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeaders(m.sign(sortedQuery(q))).
		SetQueryParamsFromValues(q).
		SetResult(&env).
		Get(path)
	if err := m.classify(op, resp, err); err != nil {
		return err
	}
	if err := m.checkEnvelope(op, env); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return wrapErr(KindTransient, "mexc", op, err)
		}
	}
	return nil
}

func (m *Mexc) signedPost(ctx context.Context, op, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return wrapErr(KindPermanent, "mexc", op, err)
	}
	var env mexcEnvelope
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeaders(m.sign(string(raw))).
		SetBody(json.RawMessage(raw)).
		SetResult(&env).
		Post(path)
	if err := m.classify(op, resp, err); err != nil {
		return err
	}
	if err := m.checkEnvelope(op, env); err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return wrapErr(KindTransient, "mexc", op, err)
		}
	}
	return nil
}

func (m *Mexc) LoadMarkets(ctx context.Context) error {
	if err := m.rl.Market.Wait(ctx); err != nil {
		return err
	}

	var contracts []struct {
		Symbol       string  `json:"symbol"`
		State        int     `json:"state"`
		PriceUnit    float64 `json:"priceUnit"`
		ContractSize float64 `json:"contractSize"`
		MinVol       float64 `json:"minVol"`
		TakerFeeRate float64 `json:"takerFeeRate"`
		QuoteCoin    string  `json:"quoteCoin"`
	}
	var env mexcEnvelope
	resp, err := m.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/v1/contract/detail")
	if err := m.classify("load_markets", resp, err); err != nil {
		return err
	}
	if err := m.checkEnvelope("load_markets", env); err != nil {
		return err
	}
	if err := json.Unmarshal(env.Data, &contracts); err != nil {
		return wrapErr(KindTransient, "mexc", "load_markets", err)
	}

	markets := make(map[string]types.Market, len(contracts))
	for _, c := range contracts {
		// state 0 = enabled
		if c.State != 0 || !strings.HasSuffix(c.Symbol, "_USDT") {
			continue
		}
		size := c.ContractSize
		if size <= 0 {
			size = 1
		}
		base := NormalizeBase(c.Symbol)
		markets[base] = types.Market{
			Venue:    "mexc",
			Symbol:   base,
			Native:   c.Symbol,
			TickSize: c.PriceUnit,
			LotStep:  size,
			MinQty:   c.MinVol * size,
			TakerFee: takerFee("mexc", c.TakerFeeRate),
		}
	}
	m.setMarkets(markets)
	m.logger.Info("markets loaded", "count", len(markets))
	return nil
}

func (m *Mexc) Market(symbol string) (types.Market, error) { return m.market(symbol) }

func (m *Mexc) ResolveSymbol(ctx context.Context, base string) (types.Market, error) {
	if m.marketCount() == 0 {
		if err := m.LoadMarkets(ctx); err != nil {
			return types.Market{}, err
		}
	}
	return m.market(base)
}

func (m *Mexc) WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	mk, err := m.market(symbol)
	if err != nil {
		return nil, err
	}
	spec := wsSpec{
		url: mexcWSURL,
		subscribe: map[string]interface{}{
			"method": "sub.ticker",
			"param":  map[string]string{"symbol": mk.Native},
		},
		parse: func(data []byte) (types.Tick, bool) {
			var msg struct {
				Channel string `json:"channel"`
				Data    struct {
					LastPrice float64 `json:"lastPrice"`
					Timestamp int64   `json:"timestamp"`
				} `json:"data"`
			}
			if json.Unmarshal(data, &msg) != nil || msg.Channel != "push.ticker" || msg.Data.LastPrice <= 0 {
				return types.Tick{}, false
			}
			ts := time.Now()
			if msg.Data.Timestamp > 0 {
				ts = time.UnixMilli(msg.Data.Timestamp)
			}
			return types.Tick{Last: msg.Data.LastPrice, Ts: ts}, true
		},
		ping: jsonPing(map[string]string{"method": "ping"}),
	}
	return watchTicker(ctx, "mexc", symbol, spec, m.logger)
}

func (m *Mexc) FetchTicker(ctx context.Context, symbol string) (types.Tick, error) {
	mk, err := m.market(symbol)
	if err != nil {
		return types.Tick{}, err
	}
	if err := m.rl.Market.Wait(ctx); err != nil {
		return types.Tick{}, err
	}

	var data struct {
		LastPrice float64 `json:"lastPrice"`
	}
	var env mexcEnvelope
	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", mk.Native).
		SetResult(&env).
		Get("/api/v1/contract/ticker")
	if err := m.classify("fetch_ticker", resp, err); err != nil {
		return types.Tick{}, err
	}
	if err := m.checkEnvelope("fetch_ticker", env); err != nil {
		return types.Tick{}, err
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return types.Tick{}, wrapErr(KindTransient, "mexc", "fetch_ticker", err)
	}
	return types.Tick{Last: data.LastPrice, Ts: time.Now()}, nil
}

func (m *Mexc) FetchBalance(ctx context.Context) (types.Balance, error) {
	if err := m.rl.Account.Wait(ctx); err != nil {
		return types.Balance{}, err
	}

	var assets []struct {
		Currency         string  `json:"currency"`
		AvailableBalance float64 `json:"availableBalance"`
		FrozenBalance    float64 `json:"frozenBalance"`
		PositionMargin   float64 `json:"positionMargin"`
	}
	if err := m.signedGet(ctx, "fetch_balance", "/api/v1/private/account/assets", url.Values{}, &assets); err != nil {
		return types.Balance{}, err
	}

	bal := types.Balance{Venue: "mexc"}
	for _, a := range assets {
		if a.Currency != "USDT" {
			continue
		}
		bal.Free = a.AvailableBalance
		bal.Used = a.FrozenBalance + a.PositionMargin
		bal.Total = bal.Free + bal.Used
	}
	return bal, nil
}

func (m *Mexc) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	mk, err := m.market(symbol)
	if err != nil {
		return err
	}
	if err := m.rl.Account.Wait(ctx); err != nil {
		return err
	}
	// Hedge mode needs the leverage set on both position types.
	for _, positionType := range []int{1, 2} {
		err := m.signedPost(ctx, "set_leverage", "/api/v1/private/position/change_leverage", map[string]interface{}{
			"symbol":       mk.Native,
			"leverage":     leverage,
			"openType":     1, // isolated
			"positionType": positionType,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Mexc) SetMarginMode(ctx context.Context, symbol, mode string) error {
	// openType on each order already selects isolated margin.
	return nil
}

func (m *Mexc) SetPositionMode(ctx context.Context, symbol string, hedge bool) error {
	if err := m.rl.Account.Wait(ctx); err != nil {
		return err
	}
	mode := 2 // one-way
	if hedge {
		mode = 1
	}
	err := m.signedPost(ctx, "set_position_mode", "/api/v1/private/position/change_position_mode", map[string]interface{}{
		"positionMode": mode,
	}, nil)
	if err != nil && strings.Contains(err.Error(), "already") {
		return nil
	}
	return err
}

// mexcSide encodes direction plus open/close intent.
func mexcSide(side types.Side, reduceOnly bool) int {
	switch {
	case side == types.Buy && !reduceOnly:
		return 1 // open long
	case side == types.Buy && reduceOnly:
		return 2 // close short
	case side == types.Sell && !reduceOnly:
		return 3 // open short
	default:
		return 4 // close long
	}
}

func (m *Mexc) CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params OrderParams) (types.Order, error) {
	mk, err := m.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := m.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	vol := int64(math.Round(qty / mk.LotStep))
	if vol == 0 {
		return types.Order{}, wrapErr(KindMarketState, "mexc", "create_order",
			fmt.Errorf("quantity %v below one contract (%v)", qty, mk.LotStep))
	}

	var result struct {
		OrderID json.Number `json:"orderId"`
	}
	err = m.signedPost(ctx, "create_order", "/api/v1/private/order/submit", map[string]interface{}{
		"symbol":   mk.Native,
		"price":    price,
		"vol":      vol,
		"side":     mexcSide(side, params.ReduceOnly),
		"type":     1, // limit
		"openType": 1, // isolated
	}, &result)
	if err != nil {
		return types.Order{}, err
	}
	return types.Order{
		ID: result.OrderID.String(), Venue: "mexc", Symbol: symbol,
		Side: side, Quantity: qty, Price: price,
		Status: types.OrderOpen, CreatedAt: time.Now(),
	}, nil
}

func (m *Mexc) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := m.rl.Order.Wait(ctx); err != nil {
		return err
	}
	// Cancel takes a list of order IDs.
	return m.signedPost(ctx, "cancel_order", "/api/v1/private/order/cancel", []string{orderID}, nil)
}

func (m *Mexc) FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	mk, err := m.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := m.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	var data struct {
		OrderID      json.Number `json:"orderId"`
		State        int         `json:"state"`
		Side         int         `json:"side"`
		Vol          float64     `json:"vol"`
		DealVol      float64     `json:"dealVol"`
		Price        float64     `json:"price"`
		DealAvgPrice float64     `json:"dealAvgPrice"`
	}
	q := url.Values{"symbol": {mk.Native}}
	if err := m.signedGet(ctx, "fetch_order", "/api/v1/private/order/get/"+orderID, q, &data); err != nil {
		return types.Order{}, err
	}

	// state: 2 uncompleted, 3 completed, 4 cancelled, 5 invalid
	status := types.OrderOpen
	switch data.State {
	case 3:
		status = types.OrderFilled
	case 4:
		status = types.OrderCancelled
	case 5:
		status = types.OrderRejected
	}
	side := types.Buy
	if data.Side == 3 || data.Side == 4 {
		side = types.Sell
	}
	return types.Order{
		ID: data.OrderID.String(), Venue: "mexc", Symbol: symbol, Side: side,
		Quantity: data.Vol * mk.LotStep,
		Price:    data.Price,
		Filled:   data.DealVol * mk.LotStep,
		AvgPrice: data.DealAvgPrice,
		Status:   status,
	}, nil
}

func (m *Mexc) FetchPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	if err := m.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	if symbol != "" {
		mk, err := m.market(symbol)
		if err != nil {
			return nil, err
		}
		q.Set("symbol", mk.Native)
	}

	var list []struct {
		Symbol       string  `json:"symbol"`
		PositionType int     `json:"positionType"` // 1 long, 2 short
		HoldVol      float64 `json:"holdVol"`
		OpenAvgPrice float64 `json:"openAvgPrice"`
	}
	if err := m.signedGet(ctx, "fetch_positions", "/api/v1/private/position/open_positions", q, &list); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(list))
	for _, p := range list {
		if p.HoldVol == 0 {
			continue
		}
		base := NormalizeBase(p.Symbol)
		mult := 1.0
		if mk, err := m.market(base); err == nil {
			mult = mk.LotStep
		}
		side := types.Buy
		if p.PositionType == 2 {
			side = types.Sell
		}
		positions = append(positions, types.Position{
			Venue: "mexc", Symbol: base, Side: side,
			Quantity: p.HoldVol * mult,
			Entry:    p.OpenAvgPrice,
		})
	}
	return positions, nil
}

func (m *Mexc) ServerTime(ctx context.Context) (int64, error) {
	if err := m.rl.Market.Wait(ctx); err != nil {
		return 0, err
	}
	var env mexcEnvelope
	resp, err := m.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/api/v1/contract/ping")
	if err := m.classify("server_time", resp, err); err != nil {
		return 0, err
	}
	if err := m.checkEnvelope("server_time", env); err != nil {
		return 0, err
	}
	var ms int64
	if err := json.Unmarshal(env.Data, &ms); err != nil {
		return 0, wrapErr(KindTransient, "mexc", "server_time", err)
	}
	return ms, nil
}
