package scoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/internal/strategy"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedBacktest(t *testing.T, st *store.Store, strategyKey string, winRate, ret, drawdown string) {
	t.Helper()
	res, err := st.DB().Exec(`INSERT INTO backtest_configs (strategy_key, symbol, timeframe) VALUES (?, ?, ?)`,
		strategyKey, "BTC-USDT-SWAP", "1H")
	require.NoError(t, err)
	configID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO backtest_results (config_id, win_rate, return_pct, max_drawdown, created_at)
		VALUES (?, ?, ?, ?, ?)`, configID, winRate, ret, drawdown, 1000)
	require.NoError(t, err)
}

func TestScoreDefaultsWithoutHistory(t *testing.T) {
	st := newTestStore(t)
	reg := strategy.NewRegistry()

	scored, err := Score(context.Background(), reg, st, domain.RegimeStrongTrend, "BTC-USDT-SWAP", "1H")
	require.NoError(t, err)
	require.Len(t, scored, 5)

	byID := map[string]Scored{}
	for _, s := range scored {
		byID[s.StrategyID] = s
	}

	// momentum_20 lists trend regimes: full regime score.
	assert.InDelta(t, 1.0, byID["momentum_20"].RegimeScore, 1e-9)
	// mean_reversion_bb lists range regimes only: off-regime score.
	assert.InDelta(t, 0.3, byID["mean_reversion_bb"].RegimeScore, 1e-9)
	// vol_harvest_atr declares no affinity: neutral.
	assert.InDelta(t, 0.6, byID["vol_harvest_atr"].RegimeScore, 1e-9)

	// No backtest rows: performance defaults to 0.5 everywhere.
	for _, s := range scored {
		assert.InDelta(t, 0.5, s.PerformanceScore, 1e-9)
		assert.InDelta(t, 0.6*s.RegimeScore+0.4*0.5, s.FinalScore, 1e-9)
	}
}

func TestScoreBlendsBacktestHistory(t *testing.T) {
	st := newTestStore(t)
	reg := strategy.NewRegistry()
	// Strong history: 80% win rate, +30% return, 10% drawdown.
	seedBacktest(t, st, "momentum_20", "0.8", "0.3", "0.1")

	scored, err := Score(context.Background(), reg, st, domain.RegimeStrongTrend, "BTC-USDT-SWAP", "1H")
	require.NoError(t, err)

	var momentum Scored
	for _, s := range scored {
		if s.StrategyID == "momentum_20" {
			momentum = s
		}
	}
	// 0.5*0.8 + 0.3*norm(0.3 over [-0.5,0.5]) + 0.2*(1-0.1)
	want := 0.5*0.8 + 0.3*0.8 + 0.2*0.9
	assert.InDelta(t, want, momentum.PerformanceScore, 1e-9)
	assert.InDelta(t, 0.6*1.0+0.4*want, momentum.FinalScore, 1e-9)
}

func TestRegimeGroupMapping(t *testing.T) {
	spec := strategy.Spec{Regimes: []domain.Regime{domain.RegimeStrongTrend}}
	// WEAK_TREND maps to the same TREND group as STRONG_TREND.
	assert.InDelta(t, 1.0, regimeScore(spec, domain.RegimeWeakTrend), 1e-9)

	breakoutSpec := strategy.Spec{Regimes: []domain.Regime{domain.RegimeBreakout}}
	assert.InDelta(t, 1.0, regimeScore(breakoutSpec, domain.RegimeHighVolatility), 1e-9)

	rangeSpec := strategy.Spec{Regimes: []domain.Regime{domain.RegimeRange}}
	assert.InDelta(t, 1.0, regimeScore(rangeSpec, domain.RegimeLowVolatility), 1e-9)
	assert.InDelta(t, 0.3, regimeScore(rangeSpec, domain.RegimeStrongTrend), 1e-9)
}
