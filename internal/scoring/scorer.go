// Package scoring computes regime_score/performance_score/final_score for
// every enabled strategy, reading recent backtest rows for the performance
// term.
package scoring

import (
	"context"
	"fmt"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/internal/strategy"
)

// maxBacktestRows bounds the performance aggregation window.
const maxBacktestRows = 50

// Scored is one strategy's scoring result for the current cycle.
type Scored struct {
	StrategyID       string
	RegimeScore      float64
	PerformanceScore float64
	FinalScore       float64
}

// regimeGroup collapses a label to the coarse group strategy affinities are
// matched against (STRONG_TREND/WEAK_TREND -> TREND,
// HIGH_VOLATILITY -> BREAKOUT, LOW_VOLATILITY -> RANGE).
func regimeGroup(r domain.Regime) domain.Regime {
	switch r {
	case domain.RegimeStrongTrend, domain.RegimeWeakTrend:
		return "TREND"
	case domain.RegimeHighVolatility:
		return domain.RegimeBreakout
	case domain.RegimeLowVolatility:
		return domain.RegimeRange
	default:
		return r
	}
}

func regimeScore(spec strategy.Spec, current domain.Regime) float64 {
	if len(spec.Regimes) == 0 {
		return 0.6
	}
	group := regimeGroup(current)
	for _, r := range spec.Regimes {
		if regimeGroup(r) == group {
			return 1.0
		}
	}
	return 0.3
}

// normalize maps v into [0,1] against [lo,hi], clamping out-of-range values.
func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0.5
	}
	n := (v - lo) / (hi - lo)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func performanceScore(ctx context.Context, st *store.Store, strategyID, symbol, timeframe string) (float64, error) {
	rows, err := st.RecentBacktestResults(ctx, strategyID, symbol, timeframe, maxBacktestRows)
	if err != nil {
		return 0, fmt.Errorf("recent backtest results: %w", err)
	}
	if len(rows) == 0 {
		return 0.5, nil
	}

	var winRateSum, returnSum, drawdownSum float64
	for _, r := range rows {
		wr, _ := r.WinRate.Float64()
		ret, _ := r.Return.Float64()
		dd, _ := r.MaxDrawdown.Float64()
		winRateSum += wr
		returnSum += ret
		drawdownSum += dd
	}
	n := float64(len(rows))
	avgWinRate := winRateSum / n
	avgReturn := returnSum / n
	avgDrawdown := drawdownSum / n

	normWinRate := normalize(avgWinRate, 0, 1)
	normReturn := normalize(avgReturn, -0.5, 0.5)
	normDrawdown := normalize(avgDrawdown, 0, 1)

	return 0.5*normWinRate + 0.3*normReturn + 0.2*(1-normDrawdown), nil
}

// Score computes Scored results for every enabled strategy against the
// current regime and (symbol,timeframe) backtest history.
func Score(ctx context.Context, reg *strategy.Registry, st *store.Store, regimeNow domain.Regime, symbol, timeframe string) ([]Scored, error) {
	specs := reg.Enabled()
	out := make([]Scored, 0, len(specs))
	for _, s := range specs {
		rScore := regimeScore(s, regimeNow)
		pScore, err := performanceScore(ctx, st, s.ID, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		out = append(out, Scored{
			StrategyID:       s.ID,
			RegimeScore:      rScore,
			PerformanceScore: pScore,
			FinalScore:       0.6*rScore + 0.4*pScore,
		})
	}
	return out, nil
}
