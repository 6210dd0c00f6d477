// Package domain holds the persistent entities shared by every subsystem of
// the trading core: candles, funding, positions, orders and their lifecycle.
package domain

import "github.com/shopspring/decimal"

// OrderSide is the direction of an order or position.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is a node in the order lifecycle state machine.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether the status can no longer transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// Regime labels describe current market behavior.
type Regime string

const (
	RegimeBreakout       Regime = "BREAKOUT"
	RegimeStrongTrend    Regime = "STRONG_TREND"
	RegimeWeakTrend      Regime = "WEAK_TREND"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
	RegimeLowVolatility  Regime = "LOW_VOLATILITY"
	RegimeRange          Regime = "RANGE"
)

// IntegrityEventType distinguishes the kinds of series anomalies detected by
// the scanner.
type IntegrityEventType string

const (
	IntegrityGap        IntegrityEventType = "GAP"
	IntegrityDuplicate  IntegrityEventType = "DUPLICATE"
	IntegrityRepair     IntegrityEventType = "REPAIR"
)

// Severity buckets an IntegrityEvent by how many bars are affected.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// RepairMode selects how a RepairJob closes a gap.
type RepairMode string

const (
	RepairRefetch RepairMode = "refetch"
	RepairFill    RepairMode = "fill"
)

// RepairStatus is the lifecycle of a RepairJob.
type RepairStatus string

const (
	RepairRunning RepairStatus = "RUNNING"
	RepairDone    RepairStatus = "DONE"
	RepairFailed  RepairStatus = "FAILED"
)

// IngestionStatus is the terminal state of one ingestion-run row.
type IngestionStatus string

const (
	IngestionRunning IngestionStatus = "running"
	IngestionSuccess IngestionStatus = "success"
	IngestionFailed  IngestionStatus = "failed"
	IngestionSkipped IngestionStatus = "skipped"
)

// Candle is one OHLCV bar. Timestamps are milliseconds since epoch.
type Candle struct {
	Symbol    string
	Timeframe string
	TsMs      int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// FundingRate is a single perpetual-swap funding observation.
type FundingRate struct {
	Symbol         string
	TsMs           int64
	Rate           decimal.Decimal
	NextFundingTs  *int64
}

// PriceSnapshot records last/mark/index prices at a point in time. At least
// one of the three must be populated.
type PriceSnapshot struct {
	Symbol string
	TsMs   int64
	Last   *decimal.Decimal
	Mark   *decimal.Decimal
	Index  *decimal.Decimal
}

// OpenInterest records the outstanding contract count for a perpetual swap.
type OpenInterest struct {
	Symbol      string
	TsMs        int64
	Contracts   decimal.Decimal
	ValueCcy    *decimal.Decimal
}

// Order is the row tracked by the lifecycle state machine.
type Order struct {
	RowID           int64
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            OrderSide
	Type            OrderType
	Price           *decimal.Decimal
	Amount          decimal.Decimal
	FilledAmount    decimal.Decimal
	RemainingAmount decimal.Decimal
	AveragePrice    *decimal.Decimal
	Status          OrderStatus
	Leverage        *decimal.Decimal
	TimeInForce     string
	CreatedAtS      int64
	UpdatedAtS      int64
}

// Trade is a single exchange-reported fill derived from an order.
type Trade struct {
	RowID       int64
	OrderRowID  int64
	Symbol      string
	Side        OrderSide
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Fee         *decimal.Decimal
	FeeCcy      string
	RealizedPnl *decimal.Decimal
	TsMs        int64
}

// LifecycleEvent records one status transition of an order, append-only.
type LifecycleEvent struct {
	ID              int64
	OrderRowID      int64
	FromStatus      OrderStatus
	ToStatus        OrderStatus
	Message         string
	ExchangeStatus  string
	ExchangeTs      *int64
	RawPayload      string
	TradeID         *int64
	FillQty         *decimal.Decimal
	FillPrice       *decimal.Decimal
	Fee             *decimal.Decimal
}

// Position is the single net position open per (symbol,side).
type Position struct {
	Symbol        string
	Side          OrderSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      *decimal.Decimal
	UnrealizedPnl *decimal.Decimal
	Margin        *decimal.Decimal
	UpdatedAt     int64
}

// PositionSnapshot is an immutable historical record of position state.
type PositionSnapshot struct {
	Symbol        string
	TsMs          int64
	Side          OrderSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     *decimal.Decimal
	UnrealizedPnl *decimal.Decimal
}

// Decision is the immutable record of one cycle's output from a decision
// source (portfolio, LLM, or RL overlay).
type Decision struct {
	ID                int64
	Symbol            string
	Timeframe         string
	TsMs              int64
	Action            string
	Confidence        *float64
	Reasoning         string
	TechnicalAnalysis string
	Accepted          bool
}

// IntegrityEvent records a detected gap, duplicate run, or completed repair.
type IntegrityEvent struct {
	ID            int64
	Symbol        string
	Timeframe     string
	EventType     IntegrityEventType
	StartTs       int64
	EndTs         int64
	ExpectedBars  int64
	ActualBars    int64
	MissingBars   int64
	DuplicateBars int64
	Severity      Severity
	DetectedAtS   int64
	RepairJobID   string
}

// RepairJob tracks one bounded attempt to close a gap.
type RepairJob struct {
	JobID         string
	Symbol        string
	Timeframe     string
	RangeStartTs  int64
	RangeEndTs    int64
	Status        RepairStatus
	RepairedBars  int64
	Message       string
	RawPayload    string
}

// IngestionRun is one invocation record of the ingestion engine.
type IngestionRun struct {
	ID           int64
	Source       string
	Symbol       string
	Timeframe    string
	DataType     string
	StartedAtS   int64
	EndedAtS     *int64
	Status       IngestionStatus
	RowsInserted int64
	Error        string
}

// RiskEvent records a denial emitted by the risk chain.
type RiskEvent struct {
	ID        int64
	Symbol    string
	TsS       int64
	Level     string
	Rule      string
	Details   string
}

// Balance is a single currency's account balance snapshot.
type Balance struct {
	Currency  string
	TsMs      int64
	Total     decimal.Decimal
	Free      decimal.Decimal
	Used      decimal.Decimal
}

// BacktestResult is a read-only row consulted by the strategy scorer.
type BacktestResult struct {
	StrategyKey       string
	Symbol            string
	Timeframe         string
	WinRate           decimal.Decimal
	Return            decimal.Decimal
	MaxDrawdown       decimal.Decimal
	CreatedAtS        int64
}
