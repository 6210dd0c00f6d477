package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/config"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/risk"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/apperrors"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// Live submits orders to the exchange gateway and walks them through the
// lifecycle state machine as replies arrive.
type Live struct {
	base
	gw  exchange.Gateway
	cfg config.ExchangeConfig
}

// NewLive wires a live executor.
func NewLive(gw exchange.Gateway, st *store.Store, clk clock.Clock, log logging.Logger, riskCfg risk.Config, exCfg config.ExchangeConfig) *Live {
	return &Live{
		base: base{st: st, clk: clk, log: log, riskCfg: riskCfg},
		gw:   gw,
		cfg:  exCfg,
	}
}

var _ Executor = (*Live)(nil)

// hedgeMode reports whether orders must carry an explicit posSide.
func (l *Live) hedgeMode() bool {
	if l.cfg.DefaultMarket != "swap" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(l.cfg.PosMode)) {
	case "long_short", "hedge", "longshort":
		return true
	default:
		return false
	}
}

func posSideFor(side domain.OrderSide) string {
	if side == domain.SideBuy {
		return "long"
	}
	return "short"
}

// effectivePrice resolves the price risk rules are evaluated against: the
// caller's price, else ticker last, then mark, then index.
func (l *Live) effectivePrice(ctx context.Context, req Request) *decimal.Decimal {
	if req.Price != nil {
		return req.Price
	}
	ticker, err := l.gw.FetchTicker(ctx, req.Symbol)
	if err != nil {
		l.log.Warn("fetch ticker for price estimate", "symbol", req.Symbol, "error", err)
		return nil
	}
	if ticker.Last != nil {
		return ticker.Last
	}
	if ticker.Mark != nil {
		return ticker.Mark
	}
	return ticker.Index
}

// CreateOrder persists a CREATED order, runs the risk chain, submits to the
// exchange (with one posSide flip-or-drop retry in hedge mode), and applies
// the immediate reply's status. Deterministic rejections come back as a
// REJECTED order with a nil error.
func (l *Live) CreateOrder(ctx context.Context, req Request) (*domain.Order, error) {
	effPrice := l.effectivePrice(ctx, req)

	o := l.newOrder(req)
	if err := l.st.InsertOrder(ctx, o); err != nil {
		return nil, err
	}

	if ok, reason := l.checkRisk(ctx, req, effPrice); !ok {
		telemetry.OrdersRejectedTotal.WithLabelValues(req.Symbol, "risk").Inc()
		if err := l.transition(ctx, o, domain.StatusRejected, reason, nil); err != nil {
			return o, err
		}
		return o, nil
	}

	if req.Type == domain.OrderTypeLimit && req.Price == nil {
		telemetry.OrdersRejectedTotal.WithLabelValues(req.Symbol, "missing_price").Inc()
		if err := l.transition(ctx, o, domain.StatusRejected, apperrors.ErrMissingPrice.Error(), nil); err != nil {
			return o, err
		}
		return o, nil
	}

	params := exchange.CreateOrderParams{
		Symbol: req.Symbol,
		Type:   req.Type,
		Side:   req.Side,
		Qty:    req.Qty,
		Price:  req.Price,
		Extra:  map[string]string{},
	}
	if l.cfg.TdMode != "" {
		params.Extra["tdMode"] = l.cfg.TdMode
	}
	if l.hedgeMode() {
		params.Extra["posSide"] = posSideFor(req.Side)
	}

	reply, submitErr := l.submitWithPosSideRetry(ctx, params)
	if submitErr != nil {
		telemetry.OrdersRejectedTotal.WithLabelValues(req.Symbol, "exchange").Inc()
		if err := l.transition(ctx, o, domain.StatusRejected, fmt.Sprintf("exchange error: %v", submitErr), nil); err != nil {
			return o, err
		}
		return o, nil
	}

	o.ExchangeOrderID = reply.ExchangeOrderID
	if err := l.transition(ctx, o, domain.StatusNew, "exchange accepted", replyEvent(reply)); err != nil {
		return o, err
	}
	telemetry.OrdersPlacedTotal.WithLabelValues(req.Symbol, string(req.Side)).Inc()

	mapped := exchange.NormalizedStatus(reply, o.Amount)
	if mapped != o.Status {
		applyFill(o, reply)
		if err := l.transition(ctx, o, mapped, EventName(mapped), replyEvent(reply)); err != nil {
			return o, err
		}
		if mapped == domain.StatusFilled {
			if err := l.deriveTrade(ctx, o, &reply); err != nil {
				l.log.Error("derive trade", "client_order_id", o.ClientOrderID, "error", err)
			}
		}
	}
	return o, nil
}

// submitWithPosSideRetry submits once, and when the failure text mentions
// posSide in hedge-capable markets, flips or drops the posSide param and
// retries exactly once. The substring match stands in for a structured
// error code the upstream API does not expose.
func (l *Live) submitWithPosSideRetry(ctx context.Context, params exchange.CreateOrderParams) (exchange.OrderReply, error) {
	reply, err := l.gw.CreateOrder(ctx, params)
	if err == nil {
		return reply, nil
	}
	if l.cfg.DefaultMarket != "swap" || !strings.Contains(err.Error(), "posSide") {
		return reply, err
	}

	retryParams := params
	retryParams.Extra = make(map[string]string, len(params.Extra))
	for k, v := range params.Extra {
		retryParams.Extra[k] = v
	}
	if _, has := retryParams.Extra["posSide"]; has {
		delete(retryParams.Extra, "posSide")
	} else {
		retryParams.Extra["posSide"] = posSideFor(params.Side)
	}
	return l.gw.CreateOrder(ctx, retryParams)
}

// CancelOrder is a no-op for terminal orders; otherwise it requests an
// exchange cancel and transitions the row to CANCELED.
func (l *Live) CancelOrder(ctx context.Context, clientOrderID string) (bool, error) {
	o, err := l.st.GetOrderByClientID(ctx, clientOrderID)
	if err != nil || o == nil {
		return false, err
	}
	if o.Status.IsTerminal() {
		return false, nil
	}
	if o.ExchangeOrderID != "" {
		if err := l.gw.CancelOrder(ctx, o.ExchangeOrderID, o.Symbol); err != nil {
			return false, fmt.Errorf("exchange cancel: %w", err)
		}
	}
	if err := l.transition(ctx, o, domain.StatusCanceled, "cancel requested", nil); err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder loads the stored order by client id.
func (l *Live) GetOrder(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	o, err := l.st.GetOrderByClientID(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperrors.ErrOrderNotFound
	}
	return o, nil
}

// RefreshOrderStatus fetches the exchange order, maps its status, and on
// FILLED derives the trade row. Fetch failures leave the stored state
// untouched.
func (l *Live) RefreshOrderStatus(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	o, err := l.GetOrder(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() || o.ExchangeOrderID == "" {
		return o, nil
	}

	reply, err := l.gw.FetchOrder(ctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		l.log.Warn("refresh order status", "client_order_id", clientOrderID, "error", err)
		return o, nil
	}

	mapped := exchange.NormalizedStatus(reply, o.Amount)
	applyFill(o, reply)
	if mapped != o.Status {
		if err := l.transition(ctx, o, mapped, EventName(mapped), replyEvent(reply)); err != nil {
			return o, err
		}
	} else {
		if err := l.st.UpdateOrderFields(ctx, o); err != nil {
			return o, err
		}
	}
	if mapped == domain.StatusFilled {
		if err := l.deriveTrade(ctx, o, &reply); err != nil {
			return o, err
		}
	}
	return o, nil
}

// WaitForFill polls RefreshOrderStatus until the order is terminal or the
// timeout elapses, returning the latest known state either way.
func (l *Live) WaitForFill(ctx context.Context, clientOrderID string, timeout, pollInterval time.Duration) (*domain.Order, error) {
	deadline := l.clk.Now().Add(timeout)
	o, err := l.GetOrder(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	for l.clk.Now().Before(deadline) {
		o, err = l.RefreshOrderStatus(ctx, clientOrderID)
		if err != nil {
			return o, err
		}
		if o.Status.IsTerminal() {
			return o, nil
		}
		select {
		case <-ctx.Done():
			return o, ctx.Err()
		default:
		}
		l.clk.Sleep(pollInterval)
	}
	return o, nil
}

// applyFill copies fill progress from a reply onto the in-memory order.
func applyFill(o *domain.Order, reply exchange.OrderReply) {
	if reply.Filled != nil {
		o.FilledAmount = *reply.Filled
		remaining := o.Amount.Sub(*reply.Filled)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		o.RemainingAmount = remaining
	}
	if reply.Average != nil {
		o.AveragePrice = reply.Average
	}
}

// replyEvent packages a reply's exchange context for a lifecycle event.
func replyEvent(reply exchange.OrderReply) *domain.LifecycleEvent {
	ev := &domain.LifecycleEvent{ExchangeStatus: reply.Status}
	if reply.TsMs > 0 {
		ts := reply.TsMs
		ev.ExchangeTs = &ts
	}
	if raw, err := json.Marshal(reply); err == nil {
		ev.RawPayload = string(raw)
	}
	if reply.Filled != nil {
		ev.FillQty = reply.Filled
	}
	if reply.Average != nil {
		ev.FillPrice = reply.Average
	}
	if reply.Fee != nil {
		cost := reply.Fee.Cost
		ev.Fee = &cost
	}
	return ev
}
