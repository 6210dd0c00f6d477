// Package tracker reconciles stored orders against the exchange: a
// periodic refresh of open orders and a paged sweep of historical orders
// and own trades.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/executor"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/store"
)

// Tracker refreshes order state from the exchange.
type Tracker struct {
	gw  exchange.Gateway
	st  *store.Store
	clk clock.Clock
	log logging.Logger
}

// New wires a Tracker.
func New(gw exchange.Gateway, st *store.Store, clk clock.Clock, log logging.Logger) *Tracker {
	return &Tracker{gw: gw, st: st, clk: clk, log: log}
}

// SyncOrders refreshes orders by client id list, or every order in
// NEW/PARTIALLY_FILLED when orderIDs is empty and onlyOpen is set. Returns
// how many orders changed status. Individual fetch failures are logged and
// skipped so one bad order never blocks the sweep.
func (t *Tracker) SyncOrders(ctx context.Context, orderIDs []string, onlyOpen bool) (int, error) {
	orders, err := t.loadOrders(ctx, orderIDs, onlyOpen)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, o := range orders {
		if o.ExchangeOrderID == "" {
			continue
		}
		reply, err := t.gw.FetchOrder(ctx, o.ExchangeOrderID, o.Symbol)
		if err != nil {
			t.log.Warn("fetch order failed", "exchange_order_id", o.ExchangeOrderID, "error", err)
			continue
		}
		changed, err := t.applyUpdate(ctx, o, reply)
		if err != nil {
			t.log.Error("apply order update", "client_order_id", o.ClientOrderID, "error", err)
			continue
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (t *Tracker) loadOrders(ctx context.Context, orderIDs []string, onlyOpen bool) ([]*domain.Order, error) {
	if len(orderIDs) > 0 {
		out := make([]*domain.Order, 0, len(orderIDs))
		for _, id := range orderIDs {
			o, err := t.st.GetOrderByClientID(ctx, id)
			if err != nil {
				return nil, err
			}
			if o != nil {
				out = append(out, o)
			}
		}
		return out, nil
	}
	if onlyOpen {
		return t.st.OrdersByStatuses(ctx, []domain.OrderStatus{domain.StatusNew, domain.StatusPartiallyFilled})
	}
	return t.st.OrdersByStatuses(ctx, []domain.OrderStatus{
		domain.StatusCreated, domain.StatusNew, domain.StatusPartiallyFilled,
		domain.StatusFilled, domain.StatusCanceled, domain.StatusRejected,
	})
}

// applyUpdate folds one exchange reply into a stored order: a PARTIAL_FILL
// event when fill progressed while non-terminal, a status-named event on
// change, field updates either way, and a trade derivation on FILLED.
func (t *Tracker) applyUpdate(ctx context.Context, o *domain.Order, reply exchange.OrderReply) (bool, error) {
	mapped := exchange.NormalizedStatus(reply, o.Amount)
	oldStatus := o.Status
	oldFilled := o.FilledAmount

	filled := oldFilled
	if reply.Filled != nil {
		filled = *reply.Filled
	}

	fillProgressed := filled.GreaterThan(oldFilled) &&
		(mapped == domain.StatusNew || mapped == domain.StatusPartiallyFilled)
	if fillProgressed && mapped == o.Status {
		// Progress without a status change still leaves an audit event.
		if err := t.st.InsertLifecycleEvent(ctx, o.RowID, partialFillEvent(oldStatus, mapped, reply, filled)); err != nil {
			return false, fmt.Errorf("record partial fill: %w", err)
		}
	}

	o.FilledAmount = filled
	remaining := o.Amount.Sub(filled)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	o.RemainingAmount = remaining
	if reply.Average != nil {
		o.AveragePrice = reply.Average
	}
	o.UpdatedAtS = t.clk.NowS()

	statusChanged := mapped != oldStatus
	if statusChanged {
		o.Status = mapped
		message := executor.EventName(mapped)
		if mapped == domain.StatusPartiallyFilled {
			message = fmt.Sprintf("PARTIAL_FILL filled=%s", filled.String())
		}
		ev := partialFillEvent(oldStatus, mapped, reply, filled)
		ev.Message = message
		if err := t.st.TransitionOrder(ctx, o, ev); err != nil {
			return false, err
		}
	} else {
		if err := t.st.UpdateOrderFields(ctx, o); err != nil {
			return false, err
		}
	}

	if mapped == domain.StatusFilled {
		if err := t.deriveTrade(ctx, o, reply); err != nil {
			return statusChanged, err
		}
	}
	return statusChanged, nil
}

func partialFillEvent(from, to domain.OrderStatus, reply exchange.OrderReply, filled decimal.Decimal) domain.LifecycleEvent {
	ev := domain.LifecycleEvent{
		FromStatus:     from,
		ToStatus:       to,
		Message:        fmt.Sprintf("PARTIAL_FILL filled=%s", filled.String()),
		ExchangeStatus: reply.Status,
		FillQty:        &filled,
		FillPrice:      reply.Average,
	}
	if reply.TsMs > 0 {
		ts := reply.TsMs
		ev.ExchangeTs = &ts
	}
	if raw, err := json.Marshal(reply); err == nil {
		ev.RawPayload = string(raw)
	}
	if reply.Fee != nil {
		cost := reply.Fee.Cost
		ev.Fee = &cost
	}
	return ev
}

// deriveTrade inserts the single FILLED trade row if none exists yet.
func (t *Tracker) deriveTrade(ctx context.Context, o *domain.Order, reply exchange.OrderReply) error {
	exists, err := t.st.HasTradeForOrder(ctx, o.RowID)
	if err != nil || exists {
		return err
	}

	price := decimal.Zero
	if reply.Average != nil {
		price = *reply.Average
	} else if o.Price != nil {
		price = *o.Price
	}
	amount := o.Amount
	if reply.Filled != nil && reply.Filled.IsPositive() {
		amount = *reply.Filled
	}
	ts := t.clk.NowMs()
	if reply.TsMs > 0 {
		ts = reply.TsMs
	}
	var fee *decimal.Decimal
	feeCcy := ""
	if reply.Fee != nil {
		cost := reply.Fee.Cost
		fee = &cost
		feeCcy = reply.Fee.Currency
	}

	_, err = t.st.InsertTradeIfAbsent(ctx, domain.Trade{
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
