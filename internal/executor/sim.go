package executor

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/risk"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/apperrors"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// netEpsilon is the size below which a net position counts as flat.
var netEpsilon = decimal.New(1, -8)

// Simulated fills every accepted order instantly at its request price and
// maintains a single net position per symbol in the store.
type Simulated struct {
	base
}

// NewSimulated wires a simulated executor.
func NewSimulated(st *store.Store, clk clock.Clock, log logging.Logger, riskCfg risk.Config) *Simulated {
	return &Simulated{base: base{st: st, clk: clk, log: log, riskCfg: riskCfg}}
}

var _ Executor = (*Simulated)(nil)

// CreateOrder runs CREATED -> NEW -> FILLED, persists the synthetic trade,
// and folds the fill into the net position.
func (s *Simulated) CreateOrder(ctx context.Context, req Request) (*domain.Order, error) {
	o := s.newOrder(req)
	o.ExchangeOrderID = "SIM-" + o.ClientOrderID
	if err := s.st.InsertOrder(ctx, o); err != nil {
		return nil, err
	}

	if ok, reason := s.checkRisk(ctx, req, req.Price); !ok {
		telemetry.OrdersRejectedTotal.WithLabelValues(req.Symbol, "risk").Inc()
		if err := s.transition(ctx, o, domain.StatusRejected, reason, nil); err != nil {
			return o, err
		}
		return o, nil
	}

	if err := s.transition(ctx, o, domain.StatusNew, "simulated accept", nil); err != nil {
		return o, err
	}
	telemetry.OrdersPlacedTotal.WithLabelValues(req.Symbol, string(req.Side)).Inc()

	o.FilledAmount = o.Amount
	o.RemainingAmount = decimal.Zero
	o.AveragePrice = o.Price
	if err := s.transition(ctx, o, domain.StatusFilled, "simulated fill", nil); err != nil {
		return o, err
	}
	if err := s.deriveTrade(ctx, o, nil); err != nil {
		return o, err
	}
	if err := s.updatePosition(ctx, o); err != nil {
		return o, err
	}
	return o, nil
}

// CancelOrder only succeeds for non-terminal orders; simulated fills are
// instant, so in practice this covers rejected-path races in callers.
func (s *Simulated) CancelOrder(ctx context.Context, clientOrderID string) (bool, error) {
	o, err := s.st.GetOrderByClientID(ctx, clientOrderID)
	if err != nil || o == nil {
		return false, err
	}
	if o.Status.IsTerminal() {
		return false, nil
	}
	if err := s.transition(ctx, o, domain.StatusCanceled, "cancel requested", nil); err != nil {
		return false, err
	}
	return true, nil
}

// GetOrder loads the stored order by client id.
func (s *Simulated) GetOrder(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	o, err := s.st.GetOrderByClientID(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperrors.ErrOrderNotFound
	}
	return o, nil
}

// updatePosition folds a filled order into the single net position for its
// symbol: same-direction increases average the entry, reversals reset it,
// and a flat net deletes the row.
func (s *Simulated) updatePosition(ctx context.Context, o *domain.Order) error {
	if !o.Amount.IsPositive() {
		return nil
	}
	signedQty := o.Amount
	if o.Side == domain.SideSell {
		signedQty = signedQty.Neg()
	}

	existing, err := s.st.PositionsBySymbol(ctx, o.Symbol)
	if err != nil {
		return err
	}
	net := decimal.Zero
	var entry *decimal.Decimal
	for _, p := range existing {
		if p.Side == domain.SideBuy {
			net = net.Add(p.Size)
		} else {
			net = net.Sub(p.Size)
		}
		if entry == nil {
			e := p.EntryPrice
			entry = &e
		}
	}

	newNet := net.Add(signedQty)
	if newNet.Abs().LessThan(netEpsilon) {
		return s.st.DeletePositionsBySymbol(ctx, o.Symbol)
	}

	price := decimal.Zero
	if o.Price != nil {
		price = *o.Price
	} else if entry != nil {
		price = *entry
	}

	var newEntry decimal.Decimal
	switch {
	case net.IsZero() || net.Mul(newNet).IsNegative():
		// Opening or reversing: the fill price is the new basis.
		newEntry = price
	case net.Mul(signedQty).IsPositive():
		base := price
		if entry != nil {
			base = *entry
		}
		newEntry = net.Abs().Mul(base).Add(signedQty.Abs().Mul(price)).Div(newNet.Abs())
	default:
		if entry != nil {
			newEntry = *entry
		} else {
			newEntry = price
		}
	}

	newSide := domain.SideBuy
	if newNet.IsNegative() {
		newSide = domain.SideSell
	}
	if err := s.st.DeletePositionsBySymbol(ctx, o.Symbol); err != nil {
		return err
	}
	if err := s.st.UpsertPosition(ctx, domain.Position{
		Symbol:     o.Symbol,
		Side:       newSide,
		Size:       newNet.Abs(),
		EntryPrice: newEntry,
		Leverage:   o.Leverage,
		UpdatedAt:  s.clk.NowS(),
	}); err != nil {
		return err
	}
	return s.st.InsertPositionSnapshot(ctx, domain.PositionSnapshot{
		Symbol:     o.Symbol,
		TsMs:       s.clk.NowMs(),
		Side:       newSide,
		Size:       newNet.Abs(),
		EntryPrice: newEntry,
		MarkPrice:  &price,
	})
}
