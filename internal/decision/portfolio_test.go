package decision

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/regime"
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

func newPortfolio(t *testing.T, st *store.Store) *Portfolio {
	t.Helper()
	return NewPortfolio(st, strategy.NewRegistry(),
		clock.NewFrozen(time.Unix(1_700_000_000, 0)), logging.Nop{},
		regime.Thresholds{AdxThreshold: 25, BBWidthThreshold: 0.04},
		portfolio.SchedulerConfig{MinScore: 0.45, TopN: 3})
}

func seedTrendingCandles(t *testing.T, st *store.Store, n int) {
	t.Helper()
	rows := make([]domain.Candle, n)
	for i := range rows {
		p := 100.0 + float64(i)*0.5
		c := decimal.NewFromFloat(p)
		rows[i] = domain.Candle{
			Symbol: "BTC-USDT-SWAP", Timeframe: "1H", TsMs: int64(i) * 3_600_000,
			Open: c, High: c.Add(decimal.NewFromFloat(0.3)), Low: c.Sub(decimal.NewFromFloat(0.3)),
			Close: c, Volume: decimal.NewFromInt(100),
		}
	}
	_, err := st.UpsertCandles(context.Background(), rows)
	require.NoError(t, err)
}

func decisionCount(t *testing.T, st *store.Store) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM decisions`).Scan(&n))
	return n
}

func TestDecideNoDataIsHold(t *testing.T) {
	st := newTestStore(t)
	p := newPortfolio(t, st)

	res, err := p.Decide(context.Background(), "BTC-USDT-SWAP", "1H", 200)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, decisionCount(t, st))

	var action string
	var accepted bool
	require.NoError(t, st.DB().QueryRow(`SELECT action, accepted FROM decisions`).Scan(&action, &accepted))
	assert.Equal(t, "HOLD", action)
	assert.False(t, accepted)
}

func TestDecideAcceptedPortfolio(t *testing.T) {
	st := newTestStore(t)
	p := newPortfolio(t, st)
	seedTrendingCandles(t, st, 150)

	res, err := p.Decide(context.Background(), "BTC-USDT-SWAP", "1H", 200)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Allocations)
	assert.NotEmpty(t, res.Regime)

	var sum float64
	for _, a := range res.Allocations {
		sum += a.Weight
	}
	assert.InDelta(t, 1.0, sum, 0.05)

	var action string
	var accepted bool
	require.NoError(t, st.DB().QueryRow(`SELECT action, accepted FROM decisions ORDER BY id DESC LIMIT 1`).Scan(&action, &accepted))
	assert.Equal(t, "portfolio", action)
	assert.True(t, accepted)
}

func TestDecideScoreFloorHolds(t *testing.T) {
	st := newTestStore(t)
	// A floor no strategy can clear: every cycle is a HOLD.
	p := NewPortfolio(st, strategy.NewRegistry(),
		clock.NewFrozen(time.Unix(1_700_000_000, 0)), logging.Nop{},
		regime.Thresholds{AdxThreshold: 25, BBWidthThreshold: 0.04},
		portfolio.SchedulerConfig{MinScore: 2.0, TopN: 3})
	seedTrendingCandles(t, st, 150)

	res, err := p.Decide(context.Background(), "BTC-USDT-SWAP", "1H", 200)
	require.NoError(t, err)
	assert.Nil(t, res)

	var action string
	require.NoError(t, st.DB().QueryRow(`SELECT action FROM decisions ORDER BY id DESC LIMIT 1`).Scan(&action))
	assert.Equal(t, "HOLD", action)
}
