package tradecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/config"
	"github.com/vantapoint/perpcore/internal/decision"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/executor"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/regime"
	"github.com/vantapoint/perpcore/internal/risk"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/apperrors"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

func testConfig() *config.Config {
	return &config.Config{
		Symbols: []string{"BTC-USDT-SWAP"},
		Trading: config.TradingConfig{
			Enabled: true, Executor: "simulated", Timeframe: "1H", CandleLimit: 200, IntervalS: 60,
		},
		Portfolio: config.PortfolioConfig{
			MinScore: 0.45, TopN: 3, GlobalLeverage: 1, DiffThreshold: 10, MinNotional: 10,
		},
		Risk: config.RiskConfig{MaxNotional: 1_000_000, MaxLeverage: 100},
	}
}

// fixedSource returns a canned decision result.
type fixedSource struct {
	res *decision.Result
	err error
}

func (f *fixedSource) Decide(context.Context, string, string, int) (*decision.Result, error) {
	return f.res, f.err
}

func acceptedDecision() *decision.Result {
	return &decision.Result{
		Symbol: "BTC-USDT-SWAP", Timeframe: "1H", TsMs: 1_000_000,
		Regime: domain.RegimeStrongTrend,
		Allocations: []portfolio.Allocation{
			{StrategyID: "ema", Weight: 0.6, Score: 0.8},
			{StrategyID: "bb", Weight: 0.4, Score: 0.7},
		},
		Indicators: regime.Indicators{ADX: 32},
		Reasoning:  "regime=STRONG_TREND selected=2",
	}
}

func newRunner(t *testing.T, cfg *config.Config, st *store.Store, src decision.Source) *Runner {
	t.Helper()
	clk := clock.NewFrozen(time.Unix(1_700_000_000, 0))
	sim := executor.NewSimulated(st, clk, logging.Nop{}, risk.Config{
		MaxNotional: dec("1000000"), MaxLeverage: dec("100"),
	})
	return NewRunner(cfg, st, clk, logging.Nop{}, src, sim)
}

func seedEquityAndPrice(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertBalance(ctx, domain.Balance{
		Currency: "USDT", TsMs: 1_000, Total: dec("10000"), Free: dec("10000"), Used: dec("0"),
	}))
	last := dec("100")
	_, err := st.UpsertPriceSnapshot(ctx, domain.PriceSnapshot{
		Symbol: "BTC-USDT-SWAP", TsMs: 2_000, Last: &last,
	})
	require.NoError(t, err)
}

func TestRunCycleSubmitsNetOrder(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()
	r := newRunner(t, cfg, st, &fixedSource{res: acceptedDecision()})
	seedEquityAndPrice(t, st)
	ctx := context.Background()

	require.NoError(t, r.RunCycle(ctx, "BTC-USDT-SWAP"))

	// Flat book, equity 10000 at price 100: one BUY of 100 contracts,
	// instantly filled by the simulated executor.
	positions, err := st.PositionsBySymbol(ctx, "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.SideBuy, positions[0].Side)
	assert.True(t, positions[0].Size.Equal(dec("100")), "size=%s", positions[0].Size)

	orders, err := st.OrdersByStatuses(ctx, []domain.OrderStatus{domain.StatusFilled})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Amount.Equal(dec("100")))
}

func TestRunCycleHoldDoesNothing(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(t, testConfig(), st, &fixedSource{res: nil})
	seedEquityAndPrice(t, st)

	require.NoError(t, r.RunCycle(context.Background(), "BTC-USDT-SWAP"))

	orders, err := st.OrdersByStatuses(context.Background(), []domain.OrderStatus{
		domain.StatusCreated, domain.StatusNew, domain.StatusFilled,
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRunCycleNoEquityAborts(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(t, testConfig(), st, &fixedSource{res: acceptedDecision()})
	// Price exists, equity doesn't.
	last := dec("100")
	_, err := st.UpsertPriceSnapshot(context.Background(), domain.PriceSnapshot{
		Symbol: "BTC-USDT-SWAP", TsMs: 2_000, Last: &last,
	})
	require.NoError(t, err)

	err = r.RunCycle(context.Background(), "BTC-USDT-SWAP")
	assert.ErrorIs(t, err, apperrors.ErrNoEquity)
}

func TestRunCycleEquityOverride(t *testing.T) {
	st := newTestStore(t)
	r := newRunner(t, testConfig(), st, &fixedSource{res: acceptedDecision()})
	r.EquityOverride = dec("5000")
	last := dec("100")
	_, err := st.UpsertPriceSnapshot(context.Background(), domain.PriceSnapshot{
		Symbol: "BTC-USDT-SWAP", TsMs: 2_000, Last: &last,
	})
	require.NoError(t, err)

	require.NoError(t, r.RunCycle(context.Background(), "BTC-USDT-SWAP"))

	positions, err := st.PositionsBySymbol(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Size.Equal(dec("50")))
}

func TestRunCycleBalancedBookSkips(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := newRunner(t, testConfig(), st, &fixedSource{res: acceptedDecision()})
	seedEquityAndPrice(t, st)

	// Existing long already matches the 10000 target at price 100.
	require.NoError(t, st.UpsertPosition(ctx, domain.Position{
		Symbol: "BTC-USDT-SWAP", Side: domain.SideBuy, Size: dec("100"), EntryPrice: dec("100"), UpdatedAt: 1,
	}))

	require.NoError(t, r.RunCycle(ctx, "BTC-USDT-SWAP"))

	orders, err := st.OrdersByStatuses(ctx, []domain.OrderStatus{domain.StatusFilled})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRunCycleTradingDisabledSkipsSubmission(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()
	cfg.Trading.Enabled = false
	r := newRunner(t, cfg, st, &fixedSource{res: acceptedDecision()})
	seedEquityAndPrice(t, st)

	require.NoError(t, r.RunCycle(context.Background(), "BTC-USDT-SWAP"))

	orders, err := st.OrdersByStatuses(context.Background(), []domain.OrderStatus{
		domain.StatusCreated, domain.StatusNew, domain.StatusFilled,
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRunCyclePriceFallsBackToCandles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	r := newRunner(t, testConfig(), st, &fixedSource{res: acceptedDecision()})
	require.NoError(t, st.UpsertBalance(ctx, domain.Balance{
		Currency: "USDT", TsMs: 1_000, Total: dec("10000"), Free: dec("10000"), Used: dec("0"),
	}))
	c := dec("200")
	_, err := st.UpsertCandles(ctx, []domain.Candle{{
		Symbol: "BTC-USDT-SWAP", Timeframe: "1H", TsMs: 3_600_000,
		Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1),
	}})
	require.NoError(t, err)

	require.NoError(t, r.RunCycle(ctx, "BTC-USDT-SWAP"))

	positions, err := st.PositionsBySymbol(ctx, "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	// 10000 / 200 = 50 contracts.
	assert.True(t, positions[0].Size.Equal(dec("50")))
}
