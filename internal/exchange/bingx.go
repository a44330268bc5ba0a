// bingx.go implements the Client contract for BingX perpetual swaps
// (openApi swap v2).
//
// BingX signs the query string itself: every request carries a timestamp
// param and an HMAC-SHA256 signature param, with the key in X-BX-APIKEY.
// It is a hedge-mode venue where positionSide (LONG/SHORT) is mandatory
// on orders and leverage is set per side. The market stream gzips every
// frame and expects a literal "Pong" reply to its "Ping".
package exchange

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"crossarb/pkg/types"
)

const (
	bingxRESTURL = "https://open-api.bingx.com"
	bingxWSURL   = "wss://open-api-swap.bingx.com/swap-market"
)

// Bingx is the BingX swap v2 adapter.
type Bingx struct {
	*restCore
}

// NewBingx creates a BingX adapter. baseURL overrides the production
// endpoint for tests; pass "" for the default.
func NewBingx(creds Credentials, clock *Clock, logger *slog.Logger, baseURL string) *Bingx {
	if baseURL == "" {
		baseURL = bingxRESTURL
	}
	return &Bingx{restCore: newRestCore("bingx", baseURL, creds, clock, logger)}
}

func (x *Bingx) Name() string { return "bingx" }

// bingxEnvelope wraps every swap v2 response.
type bingxEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (x *Bingx) checkEnvelope(op string, env bingxEnvelope) error {
	if env.Code == 0 {
		return nil
	}
	kind := KindPermanent
	switch env.Code {
	case 100410, 100421: // rate limit / timestamp outside recv window
		kind = KindTransient
	case 80016, 109400: // order not exist
		kind = KindNotFound
	case 80012, 101204: // symbol suspended / insufficient contract
		kind = KindMarketState
	}
	return wrapErr(kind, "bingx", op, fmt.Errorf("code %d: %s", env.Code, env.Msg))
}

// signedCall signs the param set and issues the request. BingX takes all
// params in the query string regardless of method.
func (x *Bingx) signedCall(ctx context.Context, op, method, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(x.now(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindowMs))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(x.creds.Secret))
	mac.Write([]byte(query))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))

	var env bingxEnvelope
	req := x.http.R().
		SetContext(ctx).
		SetHeader("X-BX-APIKEY", x.creds.Key).
		SetQueryParamsFromValues(params).
		SetResult(&env)

	resp, err := req.Execute(method, path)
	if err := x.classify(op, resp, err); err != nil {
		return err
	}
	if err := x.checkEnvelope(op, env); err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return wrapErr(KindTransient, "bingx", op, err)
		}
	}
	return nil
}

func (x *Bingx) LoadMarkets(ctx context.Context) error {
	if err := x.rl.Market.Wait(ctx); err != nil {
		return err
	}

	var contracts []struct {
		Symbol            string  `json:"symbol"`
		Status            int     `json:"status"`
		PricePrecision    int     `json:"pricePrecision"`
		QuantityPrecision int     `json:"quantityPrecision"`
		TradeMinQuantity  float64 `json:"tradeMinQuantity"`
		FeeRate           float64 `json:"feeRate"`
	}
	var env bingxEnvelope
	resp, err := x.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/openApi/swap/v2/quote/contracts")
	if err := x.classify("load_markets", resp, err); err != nil {
		return err
	}
	if err := x.checkEnvelope("load_markets", env); err != nil {
		return err
	}
	if err := json.Unmarshal(env.Data, &contracts); err != nil {
		return wrapErr(KindTransient, "bingx", "load_markets", err)
	}

	markets := make(map[string]types.Market, len(contracts))
	for _, c := range contracts {
		if c.Status != 1 {
			continue
		}
		base := NormalizeBase(c.Symbol)
		markets[base] = types.Market{
			Venue:    "bingx",
			Symbol:   base,
			Native:   c.Symbol,
			TickSize: math.Pow(10, -float64(c.PricePrecision)),
			LotStep:  math.Pow(10, -float64(c.QuantityPrecision)),
			MinQty:   c.TradeMinQuantity,
			TakerFee: takerFee("bingx", c.FeeRate),
		}
	}
	x.setMarkets(markets)
	x.logger.Info("markets loaded", "count", len(markets))
	return nil
}

func (x *Bingx) Market(symbol string) (types.Market, error) { return x.market(symbol) }

func (x *Bingx) ResolveSymbol(ctx context.Context, base string) (types.Market, error) {
	if x.marketCount() == 0 {
		if err := x.LoadMarkets(ctx); err != nil {
			return types.Market{}, err
		}
	}
	return x.market(base)
}

// gunzip inflates a frame if it carries the gzip magic, otherwise returns
// it untouched.
func gunzip(data []byte) []byte {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return out
}

func (x *Bingx) WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	m, err := x.market(symbol)
	if err != nil {
		return nil, err
	}
	spec := wsSpec{
		url: bingxWSURL,
		subscribe: map[string]string{
			"id":       uuid.NewString(),
			"reqType":  "sub",
			"dataType": m.Native + "@lastPrice",
		},
		control: func(w *wsWriter, data []byte) bool {
			if string(gunzip(data)) == "Ping" {
				w.writeMessage(websocket.TextMessage, []byte("Pong"))
				return true
			}
			return false
		},
		parse: func(data []byte) (types.Tick, bool) {
			var msg struct {
				DataType string `json:"dataType"`
				Data     struct {
					Price string `json:"c"`
				} `json:"data"`
			}
			if json.Unmarshal(gunzip(data), &msg) != nil || msg.DataType == "" {
				return types.Tick{}, false
			}
			price := parseF(msg.Data.Price)
			if price <= 0 {
				return types.Tick{}, false
			}
			return types.Tick{Last: price, Ts: time.Now()}, true
		},
	}
	return watchTicker(ctx, "bingx", symbol, spec, x.logger)
}

func (x *Bingx) FetchTicker(ctx context.Context, symbol string) (types.Tick, error) {
	m, err := x.market(symbol)
	if err != nil {
		return types.Tick{}, err
	}
	if err := x.rl.Market.Wait(ctx); err != nil {
		return types.Tick{}, err
	}

	var data struct {
		Price string `json:"price"`
		Time  int64  `json:"time"`
	}
	var env bingxEnvelope
	resp, err := x.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", m.Native).
		SetResult(&env).
		Get("/openApi/swap/v2/quote/price")
	if err := x.classify("fetch_ticker", resp, err); err != nil {
		return types.Tick{}, err
	}
	if err := x.checkEnvelope("fetch_ticker", env); err != nil {
		return types.Tick{}, err
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return types.Tick{}, wrapErr(KindTransient, "bingx", "fetch_ticker", err)
	}
	ts := time.Now()
	if data.Time > 0 {
		ts = time.UnixMilli(data.Time)
	}
	return types.Tick{Last: parseF(data.Price), Ts: ts}, nil
}

func (x *Bingx) FetchBalance(ctx context.Context) (types.Balance, error) {
	if err := x.rl.Account.Wait(ctx); err != nil {
		return types.Balance{}, err
	}

	var data struct {
		Balance struct {
			Asset           string `json:"asset"`
			Balance         string `json:"balance"`
			AvailableMargin string `json:"availableMargin"`
			UsedMargin      string `json:"usedMargin"`
		} `json:"balance"`
	}
	if err := x.signedCall(ctx, "fetch_balance", "GET", "/openApi/swap/v2/user/balance", nil, &data); err != nil {
		return types.Balance{}, err
	}
	if data.Balance.Asset != "USDT" {
		return types.Balance{Venue: "bingx"}, nil
	}
	return types.Balance{
		Venue: "bingx",
		Free:  parseF(data.Balance.AvailableMargin),
		Used:  parseF(data.Balance.UsedMargin),
		Total: parseF(data.Balance.Balance),
	}, nil
}

func (x *Bingx) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m, err := x.market(symbol)
	if err != nil {
		return err
	}
	if err := x.rl.Account.Wait(ctx); err != nil {
		return err
	}
	// Leverage is per side on BingX.
	for _, side := range []string{"LONG", "SHORT"} {
		params := url.Values{
			"symbol":   {m.Native},
			"side":     {side},
			"leverage": {strconv.Itoa(leverage)},
		}
		if err := x.signedCall(ctx, "set_leverage", "POST", "/openApi/swap/v2/trade/leverage", params, nil); err != nil {
			return err
		}
	}
	return nil
}

func (x *Bingx) SetMarginMode(ctx context.Context, symbol, mode string) error {
	m, err := x.market(symbol)
	if err != nil {
		return err
	}
	if err := x.rl.Account.Wait(ctx); err != nil {
		return err
	}
	marginType := "ISOLATED"
	if mode == "cross" {
		marginType = "CROSSED"
	}
	params := url.Values{"symbol": {m.Native}, "marginType": {marginType}}
	err = x.signedCall(ctx, "set_margin_mode", "POST", "/openApi/swap/v2/trade/marginType", params, nil)
	// 110x "no need to change" style responses are fine.
	if err != nil && IsPermanent(err) {
		return nil
	}
	return err
}

func (x *Bingx) SetPositionMode(ctx context.Context, symbol string, hedge bool) error {
	// BingX swap accounts are hedge-mode by default; positionSide on each
	// order selects the book.
	return nil
}

func (x *Bingx) CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params OrderParams) (types.Order, error) {
	m, err := x.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := x.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	positionSide := "LONG"
	if ps := params.PositionSide; ps == types.Sell {
		positionSide = "SHORT"
	} else if ps == "" && side == types.Sell {
		positionSide = "SHORT"
	}

	p := url.Values{
		"symbol":       {m.Native},
		"side":         {bingxSide(side)},
		"positionSide": {positionSide},
		"type":         {"LIMIT"},
		"quantity":     {formatF(qty)},
		"price":        {formatF(price)},
		"timeInForce":  {"GTC"},
	}

	var data struct {
		Order struct {
			OrderID json.Number `json:"orderId"`
		} `json:"order"`
	}
	if err := x.signedCall(ctx, "create_order", "POST", "/openApi/swap/v2/trade/order", p, &data); err != nil {
		return types.Order{}, err
	}
	return types.Order{
		ID: data.Order.OrderID.String(), Venue: "bingx", Symbol: symbol,
		Side: side, Quantity: qty, Price: price,
		Status: types.OrderOpen, CreatedAt: time.Now(),
	}, nil
}

func (x *Bingx) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m, err := x.market(symbol)
	if err != nil {
		return err
	}
	if err := x.rl.Order.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{"symbol": {m.Native}, "orderId": {orderID}}
	return x.signedCall(ctx, "cancel_order", "DELETE", "/openApi/swap/v2/trade/order", params, nil)
}

func (x *Bingx) FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	m, err := x.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := x.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	var data struct {
		Order struct {
			OrderID     json.Number `json:"orderId"`
			Status      string      `json:"status"`
			Side        string      `json:"side"`
			OrigQty     string      `json:"origQty"`
			Price       string      `json:"price"`
			ExecutedQty string      `json:"executedQty"`
			AvgPrice    string      `json:"avgPrice"`
		} `json:"order"`
	}
	params := url.Values{"symbol": {m.Native}, "orderId": {orderID}}
	if err := x.signedCall(ctx, "fetch_order", "GET", "/openApi/swap/v2/trade/order", params, &data); err != nil {
		return types.Order{}, err
	}

	o := data.Order
	status := types.OrderOpen
	switch o.Status {
	case "FILLED":
		status = types.OrderFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		status = types.OrderCancelled
	case "FAILED":
		status = types.OrderRejected
	}
	side := types.Buy
	if o.Side == "SELL" {
		side = types.Sell
	}
	return types.Order{
		ID: o.OrderID.String(), Venue: "bingx", Symbol: symbol, Side: side,
		Quantity: parseF(o.OrigQty), Price: parseF(o.Price),
		Filled: parseF(o.ExecutedQty), AvgPrice: parseF(o.AvgPrice),
		Status: status,
	}, nil
}

func (x *Bingx) FetchPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	if err := x.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if symbol != "" {
		m, err := x.market(symbol)
		if err != nil {
			return nil, err
		}
		params.Set("symbol", m.Native)
	}

	var list []struct {
		Symbol       string `json:"symbol"`
		PositionSide string `json:"positionSide"`
		PositionAmt  string `json:"positionAmt"`
		AvgPrice     string `json:"avgPrice"`
		MarkPrice    string `json:"markPrice"`
	}
	if err := x.signedCall(ctx, "fetch_positions", "GET", "/openApi/swap/v2/user/positions", params, &list); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(list))
	for _, p := range list {
		qty := parseF(p.PositionAmt)
		if qty == 0 {
			continue
		}
		side := types.Buy
		if p.PositionSide == "SHORT" {
			side = types.Sell
		}
		if qty < 0 {
			qty = -qty
		}
		positions = append(positions, types.Position{
			Venue: "bingx", Symbol: NormalizeBase(p.Symbol), Side: side,
			Quantity: qty, Entry: parseF(p.AvgPrice), Mark: parseF(p.MarkPrice),
		})
	}
	return positions, nil
}

func (x *Bingx) ServerTime(ctx context.Context) (int64, error) {
	if err := x.rl.Market.Wait(ctx); err != nil {
		return 0, err
	}
	var data struct {
		ServerTime json.Number `json:"serverTime"`
	}
	var env bingxEnvelope
	resp, err := x.http.R().
		SetContext(ctx).
		SetResult(&env).
		Get("/openApi/swap/v2/server/time")
	if err := x.classify("server_time", resp, err); err != nil {
		return 0, err
	}
	if err := x.checkEnvelope("server_time", env); err != nil {
		return 0, err
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, wrapErr(KindTransient, "bingx", "server_time", err)
	}
	ms, err := data.ServerTime.Int64()
	if err != nil {
		return 0, wrapErr(KindTransient, "bingx", "server_time", err)
	}
	return ms, nil
}

func bingxSide(s types.Side) string {
	if s == types.Buy {
		return "BUY"
	}
	return "SELL"
}
