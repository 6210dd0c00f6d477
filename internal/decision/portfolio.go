package decision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/regime"
	"github.com/vantapoint/perpcore/internal/scoring"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/internal/strategy"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// Portfolio scores every enabled strategy against the current regime and
// recent backtest history, selects the top performers, and persists one
// immutable decisions row per cycle. Accepted decisions carry
// action "portfolio"; empty selections are recorded as "HOLD".
type Portfolio struct {
	st       *store.Store
	reg      *strategy.Registry
	clk      clock.Clock
	log      logging.Logger
	th       regime.Thresholds
	schedCfg portfolio.SchedulerConfig
}

// NewPortfolio wires the portfolio decision source.
func NewPortfolio(st *store.Store, reg *strategy.Registry, clk clock.Clock, log logging.Logger, th regime.Thresholds, schedCfg portfolio.SchedulerConfig) *Portfolio {
	return &Portfolio{st: st, reg: reg, clk: clk, log: log, th: th, schedCfg: schedCfg}
}

var _ Source = (*Portfolio)(nil)

// analysisPayload is the serialized technical_analysis column content.
type analysisPayload struct {
	Regime      domain.Regime          `json:"regime"`
	Indicators  regime.Indicators      `json:"indicators"`
	Allocations []portfolio.Allocation `json:"allocations"`
	Accepted    bool                   `json:"accepted"`
	Reason      string                 `json:"reason"`
}

// Decide classifies the regime from the latest limit candles, scores and
// selects strategies, and persists the decision. It returns nil (HOLD)
// when there is no market data or no strategy clears the score floor.
func (p *Portfolio) Decide(ctx context.Context, symbol, timeframe string, limit int) (*Result, error) {
	candles, err := p.st.LatestCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	now := p.clk.NowMs()
	if len(candles) == 0 {
		if err := p.persist(ctx, symbol, timeframe, now, analysisPayload{Reason: "no_market_data"}, "no_market_data"); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ind := regime.Compute(candles)
	rg := regime.Classify(ind, p.th)
	telemetry.CurrentRegime.WithLabelValues(symbol, string(rg)).Set(1)

	scored, err := scoring.Score(ctx, p.reg, p.st, rg, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("score strategies: %w", err)
	}
	selected := portfolio.Select(scored, p.schedCfg)

	payload := analysisPayload{
		Regime:      rg,
		Indicators:  ind,
		Allocations: selected,
		Accepted:    len(selected) > 0,
	}

	if len(selected) == 0 {
		payload.Reason = "no_strategy_selected"
		if err := p.persist(ctx, symbol, timeframe, now, payload, "no_strategy_selected"); err != nil {
			return nil, err
		}
		p.log.Info("decision hold", "symbol", symbol, "timeframe", timeframe, "regime", rg)
		return nil, nil
	}

	reasoning := fmt.Sprintf("regime=%s selected=%d", rg, len(selected))
	payload.Reason = "ok"
	if err := p.persist(ctx, symbol, timeframe, now, payload, reasoning); err != nil {
		return nil, err
	}

	return &Result{
		Symbol:      symbol,
		Timeframe:   timeframe,
		TsMs:        now,
		Regime:      rg,
		Allocations: selected,
		Indicators:  ind,
		Reasoning:   reasoning,
	}, nil
}

func (p *Portfolio) persist(ctx context.Context, symbol, timeframe string, tsMs int64, payload analysisPayload, reasoning string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	action := "HOLD"
	if payload.Accepted {
		action = "portfolio"
	}
	d := domain.Decision{
		Symbol:            symbol,
		Timeframe:         timeframe,
		TsMs:              tsMs,
		Action:            action,
		Reasoning:         reasoning,
		TechnicalAnalysis: string(raw),
		Accepted:          payload.Accepted,
	}
	if err := p.st.InsertDecision(ctx, &d); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}
