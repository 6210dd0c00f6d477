// Package tradecycle drives the outer trading loop: sync account and
// orders, query the decision source, reconcile the target allocation into
// orders, gate them through risk, and submit. Cycles are sequential and an
// error inside one never crosses the tick boundary.
package tradecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/account"
	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/config"
	"github.com/vantapoint/perpcore/internal/decision"
	"github.com/vantapoint/perpcore/internal/executor"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/internal/tracker"
	"github.com/vantapoint/perpcore/pkg/apperrors"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// Runner sequences one trading cycle per symbol per tick.
type Runner struct {
	cfg    *config.Config
	st     *store.Store
	clk    clock.Clock
	log    logging.Logger
	source decision.Source
	exec   executor.Executor

	// Accounts and Orders are optional collaborators; nil skips that sync
	// step regardless of config.
	Accounts *account.Syncer
	Orders   *tracker.Tracker

	// EquityOverride, when positive, replaces the balance-table equity.
	EquityOverride decimal.Decimal
}

// NewRunner wires a cycle runner.
func NewRunner(cfg *config.Config, st *store.Store, clk clock.Clock, log logging.Logger, source decision.Source, exec executor.Executor) *Runner {
	return &Runner{cfg: cfg, st: st, clk: clk, log: log, source: source, exec: exec}
}

// RunCycle executes one full decide-allocate-submit pass for symbol.
func (r *Runner) RunCycle(ctx context.Context, symbol string) error {
	started := r.clk.Now()
	defer func() {
		telemetry.CycleDuration.WithLabelValues(symbol).Observe(time.Since(started).Seconds())
	}()

	if r.cfg.Exchange.SyncAccount && r.Accounts != nil {
		if err := r.Accounts.Sync(ctx, []string{symbol}); err != nil {
			r.log.Warn("account sync failed", "symbol", symbol, "error", err)
		}
	}
	if r.Orders != nil {
		if _, err := r.Orders.SyncOrders(ctx, nil, true); err != nil {
			r.log.Warn("order sync failed", "symbol", symbol, "error", err)
		}
	}

	res, err := r.source.Decide(ctx, symbol, r.cfg.Trading.Timeframe, r.cfg.Trading.CandleLimit)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	if res == nil || len(res.Allocations) == 0 {
		r.log.Info("cycle hold", "symbol", symbol)
		return nil
	}

	equity, err := r.loadEquity(ctx)
	if err != nil {
		return err
	}

	price, err := r.currentPrice(ctx, symbol)
	if err != nil {
		return err
	}

	positions, err := r.st.PositionsBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	orders, plan := portfolio.BuildOrders(symbol, res.Allocations, equity, price, positions, portfolio.AllocatorConfig{
		GlobalLeverage: decimal.NewFromFloat(r.cfg.Portfolio.GlobalLeverage),
		DiffThreshold:  decimal.NewFromFloat(r.cfg.Portfolio.DiffThreshold),
		MinNotional:    decimal.NewFromFloat(r.cfg.Portfolio.MinNotional),
	})
	for _, entry := range plan {
		r.log.Info("allocation plan", "symbol", symbol, "strategy", entry.StrategyID,
			"weight", entry.Weight, "target_notional", entry.TargetNotional.String())
	}
	if len(orders) == 0 {
		r.log.Info("cycle balanced", "symbol", symbol)
		return nil
	}
	if !r.cfg.Trading.Enabled {
		r.log.Info("trading disabled, skipping submission", "symbol", symbol, "orders", len(orders))
		return nil
	}

	confidence := cycleConfidence(res.Allocations)
	for _, plan := range orders {
		req := executor.Request{
			Symbol:     plan.Symbol,
			Side:       plan.Side,
			Type:       plan.Type,
			Qty:        plan.Qty,
			Price:      &price,
			Confidence: confidence,
			SignalOK:   true,
		}
		o, err := r.exec.CreateOrder(ctx, req)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		r.log.Info("order submitted", "symbol", symbol, "client_order_id", o.ClientOrderID,
			"side", o.Side, "qty", o.Amount.String(), "status", o.Status)

		if live, ok := r.exec.(*executor.Live); ok && r.cfg.Exchange.WaitFill {
			final, err := live.WaitForFill(ctx, o.ClientOrderID, r.cfg.FillTimeout(), r.cfg.FillInterval())
			if err != nil {
				r.log.Warn("wait for fill", "client_order_id", o.ClientOrderID, "error", err)
			} else {
				r.log.Info("fill wait complete", "client_order_id", final.ClientOrderID, "status", final.Status)
			}
			if r.Accounts != nil {
				if err := r.Accounts.Sync(ctx, []string{symbol}); err != nil {
					r.log.Warn("post-fill account sync", "symbol", symbol, "error", err)
				}
			}
		}
	}
	return nil
}

// loadEquity resolves total equity: explicit override, else the latest
// stored USDT balance, else the cycle aborts.
func (r *Runner) loadEquity(ctx context.Context) (decimal.Decimal, error) {
	if r.EquityOverride.IsPositive() {
		return r.EquityOverride, nil
	}
	bal, err := r.st.LatestBalance(ctx, "USDT")
	if err != nil {
		return decimal.Zero, fmt.Errorf("load balance: %w", err)
	}
	if bal == nil || !bal.Total.IsPositive() {
		return decimal.Zero, apperrors.ErrNoEquity
	}
	return bal.Total, nil
}

// currentPrice prefers the latest snapshot's last/mark/index, falling back
// to the newest stored candle close.
func (r *Runner) currentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	snap, err := r.st.LatestPriceSnapshot(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if snap != nil {
		if snap.Last != nil {
			return *snap.Last, nil
		}
		if snap.Mark != nil {
			return *snap.Mark, nil
		}
		if snap.Index != nil {
			return *snap.Index, nil
		}
	}
	candles, err := r.st.LatestCandles(ctx, symbol, r.cfg.Trading.Timeframe, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if len(candles) == 0 {
		return decimal.Zero, fmt.Errorf("no price available for %s", symbol)
	}
	return candles[len(candles)-1].Close, nil
}

// cycleConfidence is the weight-blended final score of the selection, the
// confidence value the circuit breaker evaluates for portfolio decisions.
func cycleConfidence(allocations []portfolio.Allocation) float64 {
	var c float64
	for _, a := range allocations {
		c += a.Weight * a.Score
	}
	return c
}

// Loop ticks RunCycle for every symbol at the configured interval until ctx
// is canceled. Cycle errors are logged, never propagated across ticks.
func (r *Runner) Loop(ctx context.Context, symbols []string) {
	ticker := time.NewTicker(r.cfg.CycleInterval())
	defer ticker.Stop()

	for {
		for _, symbol := range symbols {
			if ctx.Err() != nil {
				return
			}
			if err := r.RunCycle(ctx, symbol); err != nil {
				r.log.Error("trading cycle failed", "symbol", symbol, "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
