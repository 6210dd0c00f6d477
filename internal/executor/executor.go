// Package executor owns the order lifecycle state machine. Two variants
// share the same operation set: Live submits to the exchange gateway,
// Simulated fills instantly and maintains a local net position. Every
// status transition persists the order row and exactly one lifecycle event
// in the same transaction.
package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/risk"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// Request carries one order intent into an Executor.
type Request struct {
	Symbol     string
	Side       domain.OrderSide
	Type       domain.OrderType
	Qty        decimal.Decimal
	Price      *decimal.Decimal
	Leverage   *decimal.Decimal
	Confidence float64
	SignalOK   bool
}

// Executor is the uniform operation set over the live and simulated
// variants.
type Executor interface {
	CreateOrder(ctx context.Context, req Request) (*domain.Order, error)
	CancelOrder(ctx context.Context, clientOrderID string) (bool, error)
	GetOrder(ctx context.Context, clientOrderID string) (*domain.Order, error)
}

// EventName maps a target status to the lifecycle event vocabulary shared
// with the order tracker.
func EventName(status domain.OrderStatus) string {
	switch status {
	case domain.StatusNew:
		return "ORDER_SUBMITTED"
	case domain.StatusPartiallyFilled:
		return "PARTIAL_FILL"
	case domain.StatusFilled:
		return "ORDER_FILLED"
	case domain.StatusCanceled:
		return "ORDER_CANCELED"
	case domain.StatusRejected:
		return "ORDER_REJECTED"
	default:
		return "ORDER_UPDATE"
	}
}

// base holds the collaborators both variants share.
type base struct {
	st      *store.Store
	clk     clock.Clock
	log     logging.Logger
	riskCfg risk.Config
}

// newOrder constructs the CREATED in-memory order for a request.
func (b *base) newOrder(req Request) *domain.Order {
	now := b.clk.NowS()
	return &domain.Order{
		ClientOrderID:   uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Price:           req.Price,
		Amount:          req.Qty,
		FilledAmount:    decimal.Zero,
		RemainingAmount: req.Qty,
		Leverage:        req.Leverage,
		Status:          domain.StatusCreated,
		CreatedAtS:      now,
		UpdatedAtS:      now,
	}
}

// transition moves an order to a new status, persisting the row update and
// one lifecycle event atomically. extra, when non-nil, seeds the event with
// exchange-reported context (raw payload, fills, fees).
func (b *base) transition(ctx context.Context, o *domain.Order, to domain.OrderStatus, message string, extra *domain.LifecycleEvent) error {
	ev := domain.LifecycleEvent{FromStatus: o.Status, ToStatus: to, Message: message}
	if extra != nil {
		ev.ExchangeStatus = extra.ExchangeStatus
		ev.ExchangeTs = extra.ExchangeTs
		ev.RawPayload = extra.RawPayload
		ev.FillQty = extra.FillQty
		ev.FillPrice = extra.FillPrice
		ev.Fee = extra.Fee
	}
	o.Status = to
	o.UpdatedAtS = b.clk.NowS()
	if err := b.st.TransitionOrder(ctx, o, ev); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", ev.FromStatus, to, err)
	}
	return nil
}

// checkRisk evaluates the rule chain for a request; on denial it records a
// risk event, counts the denial, and reports (false, reason).
func (b *base) checkRisk(ctx context.Context, req Request, effectivePrice *decimal.Decimal) (bool, string) {
	ok, reason, ruleName := risk.Evaluate(risk.Request{
		Price:      effectivePrice,
		Quantity:   req.Qty,
		Leverage:   req.Leverage,
		SignalOK:   req.SignalOK,
		Confidence: req.Confidence,
	}, b.riskCfg)
	if ok {
		return true, ""
	}
	telemetry.RiskDenialsTotal.WithLabelValues(req.Symbol, ruleName).Inc()
	if err := b.st.InsertRiskEvent(ctx, domain.RiskEvent{
		Symbol: req.Symbol, TsS: b.clk.NowS(), Level: "BLOCK", Rule: ruleName, Details: reason,
	}); err != nil {
		b.log.Error("record risk event", "symbol", req.Symbol, "rule", ruleName, "error", err)
	}
	return false, reason
}

// deriveTrade inserts the single trade row for a filled order, keyed so a
// second derivation is a no-op. reply may be nil (simulated fills).
func (b *base) deriveTrade(ctx context.Context, o *domain.Order, reply *exchange.OrderReply) error {
	exists, err := b.st.HasTradeForOrder(ctx, o.RowID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	price := decimal.Zero
	if o.AveragePrice != nil {
		price = *o.AveragePrice
	} else if o.Price != nil {
		price = *o.Price
	}
	amount := o.Amount
	ts := b.clk.NowMs()
	var fee *decimal.Decimal
	feeCcy := ""
	if reply != nil {
		if reply.Average != nil {
			price = *reply.Average
		}
		if reply.Filled != nil && reply.Filled.IsPositive() {
			amount = *reply.Filled
		}
		if reply.TsMs > 0 {
			ts = reply.TsMs
		}
		if reply.Fee != nil {
			cost := reply.Fee.Cost
			fee = &cost
			feeCcy = reply.Fee.Currency
		}
	}

	_, err = b.st.InsertTradeIfAbsent(ctx, domain.Trade{
		OrderRowID: o.RowID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Price:      price,
		Amount:     amount,
		Fee:        fee,
		FeeCcy:     feeCcy,
		TsMs:       ts,
	})
	return err
}
