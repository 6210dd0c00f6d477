// Package exchange defines the thin adapter over a unified REST contract
// the core depends on. It owns retries and the single normalization boundary
// that converts the exchange's loosely typed payloads into domain values.
// Requests are not throttled here: Gateway.RateLimit reports the minimum
// spacing, and the callers that issue requests in a row (the ingestion engine
// between timeframes, the tracker's history sweep between pages) wait on it.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// Candle is one raw OHLCV tuple in ascending ts order.
type Candle struct {
	TsMs   int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Funding is one raw funding observation.
type Funding struct {
	TsMs          int64
	Rate          decimal.Decimal
	NextFundingTs *int64
}

// Ticker carries last/mark/index prices, any of which may be absent.
type Ticker struct {
	TsMs  int64
	Last  *decimal.Decimal
	Mark  *decimal.Decimal
	Index *decimal.Decimal
}

// Balance is one currency's total/free/used snapshot.
type Balance struct {
	TsMs  int64
	Total map[string]decimal.Decimal
	Free  map[string]decimal.Decimal
	Used  map[string]decimal.Decimal
}

// PositionInfo is one raw exchange position row.
type PositionInfo struct {
	Symbol           string
	Side             domain.OrderSide
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        *decimal.Decimal
	UnrealizedPnl    *decimal.Decimal
	Leverage         *decimal.Decimal
	Margin           *decimal.Decimal
	LiquidationPrice *decimal.Decimal
}

// Fee is a (cost, currency) pair reported alongside a fill.
type Fee struct {
	Cost     decimal.Decimal
	Currency string
}

// OrderReply is the normalized shape of every order-mutating/reading call.
// Symbol/Side/Type/Price are populated on history reads, where the reply is
// the only source of the order's identity.
type OrderReply struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            domain.OrderSide
	Type            domain.OrderType
	Price           *decimal.Decimal
	Status          string // raw exchange status string, mapped by caller
	Filled          *decimal.Decimal
	Amount          *decimal.Decimal
	Average         *decimal.Decimal
	Fee             *Fee
	TsMs            int64
}

// CreateOrderParams carries everything needed to place an order, including
// exchange-specific extras (posSide, tdMode) in Extra.
type CreateOrderParams struct {
	Symbol string
	Type   domain.OrderType
	Side   domain.OrderSide
	Qty    decimal.Decimal
	Price  *decimal.Decimal
	Extra  map[string]string
}

// OpenInterest is one raw open-interest observation.
type OpenInterest struct {
	TsMs      int64
	Contracts decimal.Decimal
	ValueCcy  *decimal.Decimal
}

// Trade is one own-trade record paged from the exchange.
type Trade struct {
	ExchangeTradeID string
	ExchangeOrderID string
	Symbol          string
	Side            domain.OrderSide
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Fee             *Fee
	RealizedPnl     *decimal.Decimal
	TsMs            int64
}

// Gateway is the semantic exchange contract. Implementations retry transient
// failures internally; callers never see a raw HTTP error for a transient
// failure that was successfully retried. Implementations do not throttle
// calls; RateLimit only reports the spacing callers are expected to keep.
type Gateway interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, sinceMs *int64, limit int) ([]Candle, error)
	FetchFundingRate(ctx context.Context, symbol string) (Funding, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalance(ctx context.Context) (Balance, error)
	FetchPositions(ctx context.Context, symbols []string) ([]PositionInfo, error)
	FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)

	CreateOrder(ctx context.Context, p CreateOrderParams) (OrderReply, error)
	FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (OrderReply, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]OrderReply, error)
	FetchClosedOrders(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]OrderReply, error)
	FetchMyTrades(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]Trade, error)

	RateLimit() time.Duration
}

// NormalizedStatus is the mapping target every OrderReply.Status collapses
// to, independent of exchange-specific spelling.
func NormalizedStatus(reply OrderReply, requestedAmount decimal.Decimal) domain.OrderStatus {
	switch reply.Status {
	case "canceled", "cancelled":
		return domain.StatusCanceled
	case "rejected":
		return domain.StatusRejected
	}

	filled := decimal.Zero
	if reply.Filled != nil {
		filled = *reply.Filled
	}
	amount := requestedAmount
	if reply.Amount != nil {
		amount = *reply.Amount
	}

	// Numeric progress wins over the status string: an exchange that marks
	// a partially executed order "closed" still reports the true fill.
	if amount.IsPositive() && filled.IsPositive() {
		if filled.GreaterThanOrEqual(amount) {
			return domain.StatusFilled
		}
		return domain.StatusPartiallyFilled
	}
	if reply.Status == "closed" || reply.Status == "filled" {
		return domain.StatusFilled
	}
	if filled.IsPositive() {
		return domain.StatusPartiallyFilled
	}
	return domain.StatusNew
}
