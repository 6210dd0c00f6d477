// Package decision defines the pluggable decision-source contract the
// trading cycle queries each tick, and the canonical portfolio
// implementation that blends regime classification with backtest-informed
// strategy scoring.
package decision

import (
	"context"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/regime"
)

// Result is one accepted decision: a regime, a weight distribution across
// strategies summing to ~1, and the indicator row that produced it. A nil
// Result means HOLD.
type Result struct {
	Symbol      string
	Timeframe   string
	TsMs        int64
	Regime      domain.Regime
	Allocations []portfolio.Allocation
	Indicators  regime.Indicators
	Reasoning   string
}

// Source is the contract every decision variant satisfies; the portfolio
// engine here, the LLM and RL overlays elsewhere.
type Source interface {
	Decide(ctx context.Context, symbol, timeframe string, limit int) (*Result, error)
}
