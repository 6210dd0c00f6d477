package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/pkg/apperrors"
)

// OKXGateway implements Gateway against OKX's unified v5 REST surface. All
// response decoding goes through the toDecimal/toInt64 helpers below: this
// is the single normalization boundary here — nothing
// downstream of Gateway ever branches on a raw string shape.
type OKXGateway struct {
	client      *RESTClient
	rateLimitMs int
}

// NewOKXGateway wraps a signed REST client as a Gateway.
func NewOKXGateway(client *RESTClient, rateLimitMs int) *OKXGateway {
	if rateLimitMs <= 0 {
		rateLimitMs = 100
	}
	return &OKXGateway{client: client, rateLimitMs: rateLimitMs}
}

func (g *OKXGateway) RateLimit() time.Duration { return time.Duration(g.rateLimitMs) * time.Millisecond }

// toDecimal normalizes a numeric field that may arrive as string, float64,
// nil, or be entirely absent.
func toDecimal(v interface{}) *decimal.Decimal {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return nil
		}
		return &d
	case float64:
		d := decimal.NewFromFloat(t)
		return &d
	default:
		return nil
	}
}

func toDecimalOrZero(v interface{}) decimal.Decimal {
	if d := toDecimal(v); d != nil {
		return *d
	}
	return decimal.Zero
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toInt64Ptr(v interface{}) *int64 {
	if v == nil {
		return nil
	}
	n := toInt64(v)
	if n == 0 {
		return nil
	}
	return &n
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func dataRows(resp map[string]interface{}) []interface{} {
	data, _ := resp["data"].([]interface{})
	return data
}

func (g *OKXGateway) FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]Candle, error) {
	params := map[string]interface{}{"instId": symbol, "bar": timeframe, "limit": limit}
	if sinceMs != nil {
		params["after"] = strconv.FormatInt(*sinceMs, 10)
	}
	resp, err := g.client.Request(ctx, "GET", "/api/v5/market/candles", params)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv: %w", err)
	}

	rows := dataRows(resp)
	out := make([]Candle, 0, len(rows))
	for _, r := range rows {
		arr, ok := r.([]interface{})
		if !ok || len(arr) < 6 {
			continue
		}
		out = append(out, Candle{
			TsMs:   toInt64(arr[0]),
			Open:   toDecimalOrZero(arr[1]),
			High:   toDecimalOrZero(arr[2]),
			Low:    toDecimalOrZero(arr[3]),
			Close:  toDecimalOrZero(arr[4]),
			Volume: toDecimalOrZero(arr[5]),
		})
	}
	// OKX returns candles newest-first; the gateway contract requires
	// ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (g *OKXGateway) FetchFundingRate(ctx context.Context, symbol string) (Funding, error) {
	resp, err := g.client.Request(ctx, "GET", "/api/v5/public/funding-rate", map[string]interface{}{"instId": symbol})
	if err != nil {
		return Funding{}, fmt.Errorf("fetch funding rate: %w", err)
	}
	rows := dataRows(resp)
	if len(rows) == 0 {
		return Funding{}, nil
	}
	row, _ := rows[0].(map[string]interface{})
	return Funding{
		TsMs:          toInt64(row["ts"]),
		Rate:          toDecimalOrZero(row["fundingRate"]),
		NextFundingTs: toInt64Ptr(row["nextFundingTime"]),
	}, nil
}

func (g *OKXGateway) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	resp, err := g.client.Request(ctx, "GET", "/api/v5/market/ticker", map[string]interface{}{"instId": symbol})
	if err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker: %w", err)
	}
	rows := dataRows(resp)
	if len(rows) == 0 {
		return Ticker{}, nil
	}
	row, _ := rows[0].(map[string]interface{})
	return Ticker{
		TsMs:  toInt64(row["ts"]),
		Last:  toDecimal(row["last"]),
		Mark:  toDecimal(row["markPx"]),
		Index: toDecimal(row["idxPx"]),
	}, nil
}

func (g *OKXGateway) FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	resp, err := g.client.Request(ctx, "GET", "/api/v5/public/open-interest", map[string]interface{}{"instId": symbol})
	if err != nil {
		return OpenInterest{}, fmt.Errorf("fetch open interest: %w", err)
	}
	rows := dataRows(resp)
	if len(rows) == 0 {
		return OpenInterest{}, nil
	}
	row, _ := rows[0].(map[string]interface{})
	return OpenInterest{
		TsMs:      toInt64(row["ts"]),
		Contracts: toDecimalOrZero(row["oi"]),
		ValueCcy:  toDecimal(row["oiCcy"]),
	}, nil
}

func (g *OKXGateway) FetchBalance(ctx context.Context) (Balance, error) {
	resp, err := g.client.Request(ctx, "GET", "/api/v5/account/balance", nil)
	if err != nil {
		return Balance{}, fmt.Errorf("fetch balance: %w", err)
	}
	rows := dataRows(resp)
	bal := Balance{Total: map[string]decimal.Decimal{}, Free: map[string]decimal.Decimal{}, Used: map[string]decimal.Decimal{}}
	if len(rows) == 0 {
		return bal, nil
	}
	row, _ := rows[0].(map[string]interface{})
	bal.TsMs = toInt64(row["uTime"])
	details, _ := row["details"].([]interface{})
	for _, d := range details {
		dm, _ := d.(map[string]interface{})
		ccy := toString(dm["ccy"])
		if ccy == "" {
			continue
		}
		bal.Total[ccy] = toDecimalOrZero(dm["eq"])
		bal.Free[ccy] = toDecimalOrZero(dm["availEq"])
		bal.Used[ccy] = toDecimalOrZero(dm["frozenBal"])
	}
	return bal, nil
}

func (g *OKXGateway) FetchPositions(ctx context.Context, symbols []string) ([]PositionInfo, error) {
	params := map[string]interface{}{"instType": "SWAP"}
	resp, err := g.client.Request(ctx, "GET", "/api/v5/account/positions", params)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}
	want := map[string]bool{}
	for _, s := range symbols {
		want[s] = true
	}
	var out []PositionInfo
	for _, r := range dataRows(resp) {
		row, _ := r.(map[string]interface{})
		symbol := toString(row["instId"])
		if len(want) > 0 && !want[symbol] {
			continue
		}
		size := toDecimalOrZero(row["pos"])
		if size.IsZero() {
			continue
		}
		side := domain.SideBuy
		if toString(row["posSide"]) == "short" || size.IsNegative() {
			side = domain.SideSell
		}
		out = append(out, PositionInfo{
			Symbol:           symbol,
			Side:             side,
			Size:             size.Abs(),
			EntryPrice:       toDecimalOrZero(row["avgPx"]),
			MarkPrice:        toDecimal(row["markPx"]),
			UnrealizedPnl:    toDecimal(row["upl"]),
			Leverage:         toDecimal(row["lever"]),
			Margin:           toDecimal(row["margin"]),
			LiquidationPrice: toDecimal(row["liqPx"]),
		})
	}
	return out, nil
}

func orderParams(p CreateOrderParams) map[string]interface{} {
	params := map[string]interface{}{
		"instId":  p.Symbol,
		"side":    sideLower(p.Side),
		"ordType": orderTypeLower(p.Type),
		"sz":      p.Qty.String(),
	}
	if p.Price != nil {
		params["px"] = p.Price.String()
	}
	for k, v := range p.Extra {
		params[k] = v
	}
	return params
}

func sideLower(s domain.OrderSide) string {
	if s == domain.SideBuy {
		return "buy"
	}
	return "sell"
}

func orderTypeLower(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "limit"
	}
	return "market"
}

func replyFromRow(row map[string]interface{}) OrderReply {
	side := domain.SideBuy
	if toString(row["side"]) == "sell" {
		side = domain.SideSell
	}
	ordType := domain.OrderTypeMarket
	if toString(row["ordType"]) == "limit" {
		ordType = domain.OrderTypeLimit
	}
	return OrderReply{
		ExchangeOrderID: toString(row["ordId"]),
		ClientOrderID:   toString(row["clOrdId"]),
		Symbol:          toString(row["instId"]),
		Side:            side,
		Type:            ordType,
		Price:           toDecimal(row["px"]),
		Status:          toString(row["state"]),
		Filled:          toDecimal(row["accFillSz"]),
		Amount:          toDecimal(row["sz"]),
		Average:         toDecimal(row["avgPx"]),
		Fee: &Fee{
			Cost:     toDecimalOrZero(row["fee"]),
			Currency: toString(row["feeCcy"]),
		},
		TsMs: toInt64(row["uTime"]),
	}
}

func (g *OKXGateway) CreateOrder(ctx context.Context, p CreateOrderParams) (OrderReply, error) {
	resp, err := g.client.Request(ctx, "POST", "/api/v5/trade/order", orderParams(p))
	if err != nil {
		return OrderReply{}, fmt.Errorf("create order: %w", err)
	}
	rows := dataRows(resp)
	if len(rows) == 0 {
		return OrderReply{}, fmt.Errorf("create order: empty response")
	}
	row, _ := rows[0].(map[string]interface{})
	if sCode := toString(row["sCode"]); sCode != "" && sCode != "0" {
		return OrderReply{Status: "rejected"}, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, toString(row["sMsg"]))
	}
	return replyFromRow(row), nil
}

func (g *OKXGateway) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (OrderReply, error) {
	resp, err := g.client.Request(ctx, "GET", "/api/v5/trade/order",
		map[string]interface{}{"instId": symbol, "ordId": exchangeOrderID})
	if err != nil {
		return OrderReply{}, fmt.Errorf("fetch order: %w", err)
	}
	rows := dataRows(resp)
	if len(rows) == 0 {
		return OrderReply{}, apperrors.ErrOrderNotFound
	}
	row, _ := rows[0].(map[string]interface{})
	return replyFromRow(row), nil
}

func (g *OKXGateway) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	_, err := g.client.Request(ctx, "POST", "/api/v5/trade/cancel-order",
		map[string]interface{}{"instId": symbol, "ordId": exchangeOrderID})
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (g *OKXGateway) fetchOrdersPaged(ctx context.Context, path, symbol string, sinceMs *int64, limit int) ([]OrderReply, error) {
	params := map[string]interface{}{"instId": symbol, "limit": strconv.Itoa(limit)}
	if sinceMs != nil {
		params["after"] = strconv.FormatInt(*sinceMs, 10)
	}
	resp, err := g.client.Request(ctx, "GET", path, params)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	var out []OrderReply
	for _, r := range dataRows(resp) {
		row, _ := r.(map[string]interface{})
		out = append(out, replyFromRow(row))
	}
	return out, nil
}

func (g *OKXGateway) FetchOpenOrders(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]OrderReply, error) {
	return g.fetchOrdersPaged(ctx, "/api/v5/trade/orders-pending", symbol, sinceMs, limit)
}

func (g *OKXGateway) FetchClosedOrders(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]OrderReply, error) {
	return g.fetchOrdersPaged(ctx, "/api/v5/trade/orders-history", symbol, sinceMs, limit)
}

func (g *OKXGateway) FetchMyTrades(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]Trade, error) {
	params := map[string]interface{}{"instId": symbol, "limit": strconv.Itoa(limit)}
	if sinceMs != nil {
		params["after"] = strconv.FormatInt(*sinceMs, 10)
	}
	resp, err := g.client.Request(ctx, "GET", "/api/v5/trade/fills", params)
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	var out []Trade
	for _, r := range dataRows(resp) {
		row, _ := r.(map[string]interface{})
		side := domain.SideBuy
		if toString(row["side"]) == "sell" {
			side = domain.SideSell
		}
		out = append(out, Trade{
			ExchangeTradeID: toString(row["tradeId"]),
			ExchangeOrderID: toString(row["ordId"]),
			Symbol:          toString(row["instId"]),
			Side:            side,
			Price:           toDecimalOrZero(row["fillPx"]),
			Amount:          toDecimalOrZero(row["fillSz"]),
			Fee: &Fee{
				Cost:     toDecimalOrZero(row["fee"]),
				Currency: toString(row["feeCcy"]),
			},
			RealizedPnl: toDecimal(row["pnl"]),
			TsMs:        toInt64(row["ts"]),
		})
	}
	return out, nil
}
