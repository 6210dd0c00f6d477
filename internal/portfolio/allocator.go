package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// AllocatorConfig carries the global sizing knobs (defaults
// global_leverage 1, diff_threshold and min_notional both config-driven).
type AllocatorConfig struct {
	GlobalLeverage decimal.Decimal
	DiffThreshold  decimal.Decimal
	MinNotional    decimal.Decimal
}

// PlanEntry records one strategy's contribution to the target notional,
// logged regardless of whether an order is ultimately emitted.
type PlanEntry struct {
	StrategyID     string
	Weight         float64
	TargetNotional decimal.Decimal
}

// OrderPlan is the allocator's order-intent output, consumed by the trading
// cycle orchestrator before it becomes the executor's own request shape.
type OrderPlan struct {
	Symbol string
	Side   domain.OrderSide
	Type   domain.OrderType
	Qty    decimal.Decimal
}

// BuildOrders reconciles the weighted target against current positions in
// symbol and emits at most one net MARKET order.
func BuildOrders(symbol string, allocations []Allocation, totalEquity, price decimal.Decimal, positions []domain.Position, cfg AllocatorConfig) ([]OrderPlan, []PlanEntry) {
	leverage := cfg.GlobalLeverage
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}

	plan := make([]PlanEntry, len(allocations))
	target := decimal.Zero
	for i, a := range allocations {
		weight := decimal.NewFromFloat(a.Weight)
		notional := totalEquity.Mul(weight).Mul(leverage)
		plan[i] = PlanEntry{StrategyID: a.StrategyID, Weight: a.Weight, TargetNotional: notional}
		target = target.Add(notional)
	}

	current := decimal.Zero
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		signed := p.Size.Mul(price)
		if p.Side == domain.SideSell {
			signed = signed.Neg()
		}
		current = current.Add(signed)
	}

	diff := target.Sub(current)
	absDiff := diff.Abs()
	if absDiff.LessThan(cfg.DiffThreshold) || absDiff.LessThan(cfg.MinNotional) {
		return nil, plan
	}
	if price.IsZero() {
		return nil, plan
	}

	side := domain.SideBuy
	if diff.IsNegative() {
		side = domain.SideSell
	}
	qty := absDiff.Div(price)

	order := OrderPlan{Symbol: symbol, Side: side, Type: domain.OrderTypeMarket, Qty: qty}
	return []OrderPlan{order}, plan
}
