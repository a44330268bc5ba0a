// gate.go implements the Client contract for Gate USDT-settled perpetual
// futures (v4 API).
//
// Gate sizes orders in contracts, not tokens: each contract represents
// quanto_multiplier tokens and sell orders carry a negative size. The
// adapter stores the multiplier as the market's LotStep so the rest of
// the bot only ever sees token quantities.
//
// Auth: KEY / Timestamp / SIGN headers, SIGN = HMAC-SHA512 over
// method, path, query, SHA-512(body), timestamp joined by newlines.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"crossarb/pkg/types"
)

const (
	gateRESTURL = "https://api.gateio.ws"
	gateWSURL   = "wss://fx-ws.gateio.ws/v4/ws/usdt"
	gatePrefix  = "/api/v4"
)

// Gate is the Gate v4 USDT-futures adapter.
type Gate struct {
	*restCore
}

// NewGate creates a Gate adapter. baseURL overrides the production
// endpoint for tests; pass "" for the default.
func NewGate(creds Credentials, clock *Clock, logger *slog.Logger, baseURL string) *Gate {
	if baseURL == "" {
		baseURL = gateRESTURL
	}
	return &Gate{restCore: newRestCore("gate", baseURL, creds, clock, logger)}
}

func (g *Gate) Name() string { return "gate" }

// gateError is the body Gate returns alongside non-2xx statuses.
type gateError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// classifyGate refines the generic HTTP classification with Gate's error
// labels.
func (g *Gate) classifyGate(op string, resp *resty.Response, err error) error {
	if err != nil || resp == nil || resp.IsSuccess() {
		return g.classify(op, resp, err)
	}
	var ge gateError
	if json.Unmarshal(resp.Body(), &ge) == nil && ge.Label != "" {
		kind := KindPermanent
		switch ge.Label {
		case "ORDER_NOT_FOUND", "POSITION_NOT_FOUND":
			kind = KindNotFound
		case "CONTRACT_NOT_FOUND", "CONTRACT_IN_DELISTING":
			kind = KindMarketState
		case "TOO_MANY_REQUESTS", "SERVER_ERROR":
			kind = KindTransient
		}
		return wrapErr(kind, "gate", op, fmt.Errorf("%s: %s", ge.Label, ge.Message))
	}
	return g.classify(op, resp, err)
}

func (g *Gate) sign(method, path, query, body string) map[string]string {
	bodyHash := sha512.Sum512([]byte(body))
	ts := strconv.FormatInt(g.now()/1000, 10)
	msg := strings.Join([]string{
		method, path, query, hex.EncodeToString(bodyHash[:]), ts,
	}, "\n")
	mac := hmac.New(sha512.New, []byte(g.creds.Secret))
	mac.Write([]byte(msg))
	return map[string]string{
		"KEY":       g.creds.Key,
		"Timestamp": ts,
		"SIGN":      hex.EncodeToString(mac.Sum(nil)),
	}
}

// LoadMarkets caches every live USDT perpetual with its contract
// multiplier folded into LotStep/MinQty.
func (g *Gate) LoadMarkets(ctx context.Context) error {
	if err := g.rl.Market.Wait(ctx); err != nil {
		return err
	}

	var contracts []struct {
		Name             string `json:"name"`
		InDelisting      bool   `json:"in_delisting"`
		OrderPriceRound  string `json:"order_price_round"`
		QuantoMultiplier string `json:"quanto_multiplier"`
		OrderSizeMin     int64  `json:"order_size_min"`
		TakerFeeRate     string `json:"taker_fee_rate"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetResult(&contracts).
		Get(gatePrefix + "/futures/usdt/contracts")
	if err := g.classifyGate("load_markets", resp, err); err != nil {
		return err
	}

	markets := make(map[string]types.Market, len(contracts))
	for _, c := range contracts {
		if c.InDelisting || !strings.HasSuffix(c.Name, "_USDT") {
			continue
		}
		mult := parseF(c.QuantoMultiplier)
		if mult <= 0 {
			mult = 1
		}
		base := NormalizeBase(c.Name)
		markets[base] = types.Market{
			Venue:    "gate",
			Symbol:   base,
			Native:   c.Name,
			TickSize: parseF(c.OrderPriceRound),
			LotStep:  mult,
			MinQty:   float64(c.OrderSizeMin) * mult,
			TakerFee: takerFee("gate", parseF(c.TakerFeeRate)),
		}
	}
	g.setMarkets(markets)
	g.logger.Info("markets loaded", "count", len(markets))
	return nil
}

func (g *Gate) Market(symbol string) (types.Market, error) { return g.market(symbol) }

func (g *Gate) ResolveSymbol(ctx context.Context, base string) (types.Market, error) {
	if g.marketCount() == 0 {
		if err := g.LoadMarkets(ctx); err != nil {
			return types.Market{}, err
		}
	}
	return g.market(base)
}

func (g *Gate) WatchTicker(ctx context.Context, symbol string) (<-chan types.Tick, error) {
	m, err := g.market(symbol)
	if err != nil {
		return nil, err
	}
	spec := wsSpec{
		url: gateWSURL,
		subscribe: map[string]interface{}{
			"time":    time.Now().Unix(),
			"channel": "futures.tickers",
			"event":   "subscribe",
			"payload": []string{m.Native},
		},
		parse: func(data []byte) (types.Tick, bool) {
			var msg struct {
				Channel string `json:"channel"`
				Event   string `json:"event"`
				Result  []struct {
					Last string `json:"last"`
				} `json:"result"`
			}
			if json.Unmarshal(data, &msg) != nil ||
				msg.Channel != "futures.tickers" || msg.Event != "update" ||
				len(msg.Result) == 0 {
				return types.Tick{}, false
			}
			price := parseF(msg.Result[0].Last)
			if price <= 0 {
				return types.Tick{}, false
			}
			return types.Tick{Last: price, Ts: time.Now()}, true
		},
		ping: jsonPing(map[string]interface{}{
			"time":    time.Now().Unix(),
			"channel": "futures.ping",
		}),
	}
	return watchTicker(ctx, "gate", symbol, spec, g.logger)
}

func (g *Gate) FetchTicker(ctx context.Context, symbol string) (types.Tick, error) {
	m, err := g.market(symbol)
	if err != nil {
		return types.Tick{}, err
	}
	if err := g.rl.Market.Wait(ctx); err != nil {
		return types.Tick{}, err
	}

	var tickers []struct {
		Last string `json:"last"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("contract", m.Native).
		SetResult(&tickers).
		Get(gatePrefix + "/futures/usdt/tickers")
	if err := g.classifyGate("fetch_ticker", resp, err); err != nil {
		return types.Tick{}, err
	}
	if len(tickers) == 0 {
		return types.Tick{}, wrapErr(KindTransient, "gate", "fetch_ticker",
			fmt.Errorf("empty ticker response for %s", m.Native))
	}
	return types.Tick{Last: parseF(tickers[0].Last), Ts: time.Now()}, nil
}

func (g *Gate) FetchBalance(ctx context.Context) (types.Balance, error) {
	if err := g.rl.Account.Wait(ctx); err != nil {
		return types.Balance{}, err
	}

	path := gatePrefix + "/futures/usdt/accounts"
	var acct struct {
		Total          string `json:"total"`
		Available      string `json:"available"`
		PositionMargin string `json:"position_margin"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("GET", path, "", "")).
		SetResult(&acct).
		Get(path)
	if err := g.classifyGate("fetch_balance", resp, err); err != nil {
		return types.Balance{}, err
	}
	total := parseF(acct.Total)
	free := parseF(acct.Available)
	return types.Balance{Venue: "gate", Free: free, Used: total - free, Total: total}, nil
}

func (g *Gate) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m, err := g.market(symbol)
	if err != nil {
		return err
	}
	if err := g.rl.Account.Wait(ctx); err != nil {
		return err
	}
	path := gatePrefix + "/futures/usdt/positions/" + m.Native + "/leverage"
	query := "leverage=" + strconv.Itoa(leverage)
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("POST", path, query, "")).
		SetQueryParam("leverage", strconv.Itoa(leverage)).
		Post(path)
	return g.classifyGate("set_leverage", resp, err)
}

func (g *Gate) SetMarginMode(ctx context.Context, symbol, mode string) error {
	// Gate futures margin follows the leverage call (0 = cross); nothing
	// to toggle separately for isolated positions.
	return nil
}

func (g *Gate) SetPositionMode(ctx context.Context, symbol string, hedge bool) error {
	if err := g.rl.Account.Wait(ctx); err != nil {
		return err
	}
	path := gatePrefix + "/futures/usdt/dual_mode"
	query := "dual_mode=" + strconv.FormatBool(hedge)
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("POST", path, query, "")).
		SetQueryParam("dual_mode", strconv.FormatBool(hedge)).
		Post(path)
	err = g.classifyGate("set_position_mode", resp, err)
	// NO_CHANGE means the account is already in the requested mode.
	if err != nil && strings.Contains(err.Error(), "NO_CHANGE") {
		return nil
	}
	return err
}

func (g *Gate) CreateLimitOrder(ctx context.Context, symbol string, side types.Side, qty, price float64, params OrderParams) (types.Order, error) {
	m, err := g.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := g.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	// Token quantity → signed contract count.
	size := int64(math.Round(qty / m.LotStep))
	if size == 0 {
		return types.Order{}, wrapErr(KindMarketState, "gate", "create_order",
			fmt.Errorf("quantity %v below one contract (%v)", qty, m.LotStep))
	}
	if side == types.Sell {
		size = -size
	}

	body := map[string]interface{}{
		"contract": m.Native,
		"size":     size,
		"price":    formatF(price),
		"tif":      "gtc",
	}
	if params.ReduceOnly {
		body["reduce_only"] = true
	}
	raw, _ := json.Marshal(body)

	path := gatePrefix + "/futures/usdt/orders"
	var result struct {
		ID int64 `json:"id"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("POST", path, "", string(raw))).
		SetBody(json.RawMessage(raw)).
		SetResult(&result).
		Post(path)
	if err := g.classifyGate("create_order", resp, err); err != nil {
		return types.Order{}, err
	}
	return types.Order{
		ID: strconv.FormatInt(result.ID, 10), Venue: "gate", Symbol: symbol,
		Side: side, Quantity: qty, Price: price,
		Status: types.OrderOpen, CreatedAt: time.Now(),
	}, nil
}

func (g *Gate) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := g.rl.Order.Wait(ctx); err != nil {
		return err
	}
	path := gatePrefix + "/futures/usdt/orders/" + orderID
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("DELETE", path, "", "")).
		Delete(path)
	return g.classifyGate("cancel_order", resp, err)
}

func (g *Gate) FetchOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	m, err := g.market(symbol)
	if err != nil {
		return types.Order{}, err
	}
	if err := g.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	path := gatePrefix + "/futures/usdt/orders/" + orderID
	var result struct {
		ID        int64  `json:"id"`
		Size      int64  `json:"size"`
		Left      int64  `json:"left"`
		Price     string `json:"price"`
		FillPrice string `json:"fill_price"`
		Status    string `json:"status"`
		FinishAs  string `json:"finish_as"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("GET", path, "", "")).
		SetResult(&result).
		Get(path)
	if err := g.classifyGate("fetch_order", resp, err); err != nil {
		return types.Order{}, err
	}

	side := types.Buy
	size := result.Size
	if size < 0 {
		side = types.Sell
		size = -size
	}
	left := result.Left
	if left < 0 {
		left = -left
	}

	status := types.OrderOpen
	if result.Status == "finished" {
		switch result.FinishAs {
		case "filled":
			status = types.OrderFilled
		default:
			status = types.OrderCancelled
		}
	}
	return types.Order{
		ID: orderID, Venue: "gate", Symbol: symbol, Side: side,
		Quantity: float64(size) * m.LotStep,
		Price:    parseF(result.Price),
		Filled:   float64(size-left) * m.LotStep,
		AvgPrice: parseF(result.FillPrice),
		Status:   status,
	}, nil
}

func (g *Gate) FetchPositions(ctx context.Context, symbol string) ([]types.Position, error) {
	if err := g.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	path := gatePrefix + "/futures/usdt/positions"
	var list []struct {
		Contract   string `json:"contract"`
		Size       int64  `json:"size"`
		EntryPrice string `json:"entry_price"`
		MarkPrice  string `json:"mark_price"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeaders(g.sign("GET", path, "", "")).
		SetResult(&list).
		Get(path)
	if err := g.classifyGate("fetch_positions", resp, err); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(list))
	for _, p := range list {
		if p.Size == 0 {
			continue
		}
		base := NormalizeBase(p.Contract)
		if symbol != "" && base != NormalizeBase(symbol) {
			continue
		}
		m, err := g.market(base)
		mult := 1.0
		if err == nil {
			mult = m.LotStep
		}
		side := types.Buy
		size := p.Size
		if size < 0 {
			side = types.Sell
			size = -size
		}
		positions = append(positions, types.Position{
			Venue: "gate", Symbol: base, Side: side,
			Quantity: float64(size) * mult,
			Entry:    parseF(p.EntryPrice),
			Mark:     parseF(p.MarkPrice),
		})
	}
	return positions, nil
}

func (g *Gate) ServerTime(ctx context.Context) (int64, error) {
	if err := g.rl.Market.Wait(ctx); err != nil {
		return 0, err
	}
	var result struct {
		ServerTime int64 `json:"server_time"`
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(gatePrefix + "/spot/time")
	if err := g.classifyGate("server_time", resp, err); err != nil {
		return 0, err
	}
	return result.ServerTime, nil
}
