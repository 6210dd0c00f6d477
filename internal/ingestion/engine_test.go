package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/mock"
	"github.com/vantapoint/perpcore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newEngine(t *testing.T, st *store.Store, gw exchange.Gateway) (*Engine, *clock.Frozen) {
	t.Helper()
	clk := clock.NewFrozen(time.Unix(1_700_000_000, 0))
	return NewEngine(gw, st, clk, logging.Nop{}), clk
}

func exchangeCandle(ts int64, close string) exchange.Candle {
	c, _ := decimal.NewFromString(close)
	return exchange.Candle{TsMs: ts, Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}
}

func TestIngestOHLCVInsertsAndRecordsRun(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{CandlePages: map[string][][]exchange.Candle{
		"BTC-USDT-SWAP|15m": {{
			exchangeCandle(0, "100"),
			exchangeCandle(900_000, "101"),
			exchangeCandle(1_800_000, "102"),
		}},
	}}
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m", OHLCVOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	run, err := st.LatestIngestionRun(context.Background(), "BTC-USDT-SWAP", "ohlcv")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.IngestionSuccess, run.Status)
	assert.Equal(t, int64(3), run.RowsInserted)
	require.NotNil(t, run.EndedAtS)
}

func TestIngestOHLCVResumesFromLastBar(t *testing.T) {
	st := newTestStore(t)
	seed := []domain.Candle{{
		Symbol: "BTC-USDT-SWAP", Timeframe: "15m", TsMs: 900_000,
		Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1),
		Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.Zero,
	}}
	_, err := st.UpsertCandles(context.Background(), seed)
	require.NoError(t, err)

	gw := &mock.Gateway{CandlePages: map[string][][]exchange.Candle{
		"BTC-USDT-SWAP|15m": {{exchangeCandle(1_800_000, "102")}},
	}}
	e, _ := newEngine(t, st, gw)

	_, err = e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m", OHLCVOptions{})
	require.NoError(t, err)
	require.Len(t, gw.OHLCVCalls, 1)
	assert.Equal(t, int64(1_800_000), gw.OHLCVCalls[0])
}

func TestIngestOHLCVOverlapRewinds(t *testing.T) {
	st := newTestStore(t)
	_, err := st.UpsertCandles(context.Background(), []domain.Candle{{
		Symbol: "BTC-USDT-SWAP", Timeframe: "15m", TsMs: 9_000_000,
		Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1),
		Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.Zero,
	}})
	require.NoError(t, err)

	gw := &mock.Gateway{}
	e, _ := newEngine(t, st, gw)

	_, err = e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m", OHLCVOptions{OverlapBars: 3})
	require.NoError(t, err)
	require.Len(t, gw.OHLCVCalls, 1)
	// last + interval - 3*interval
	assert.Equal(t, int64(9_000_000-2*900_000), gw.OHLCVCalls[0])
}

func TestIngestOHLCVPagesUntilShortPage(t *testing.T) {
	st := newTestStore(t)
	// A full page of BarsPerRequest bars followed by a short page.
	full := make([]exchange.Candle, BarsPerRequest)
	for i := range full {
		full[i] = exchangeCandle(int64(i)*900_000, "100")
	}
	short := []exchange.Candle{exchangeCandle(int64(BarsPerRequest)*900_000, "101")}
	gw := &mock.Gateway{CandlePages: map[string][][]exchange.Candle{
		"BTC-USDT-SWAP|15m": {full, short},
	}}
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m", OHLCVOptions{OverrideSince: true, SinceMs: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(BarsPerRequest+1), n)
	assert.Len(t, gw.OHLCVCalls, 2)
}

func TestIngestOHLCVMaxBarsStopsPaging(t *testing.T) {
	st := newTestStore(t)
	full := make([]exchange.Candle, BarsPerRequest)
	for i := range full {
		full[i] = exchangeCandle(int64(i)*900_000, "100")
	}
	gw := &mock.Gateway{CandlePages: map[string][][]exchange.Candle{
		"BTC-USDT-SWAP|15m": {full, full, full},
	}}
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m",
		OHLCVOptions{OverrideSince: true, SinceMs: 1, MaxBars: BarsPerRequest})
	require.NoError(t, err)
	assert.Equal(t, int64(BarsPerRequest), n)
	assert.Len(t, gw.OHLCVCalls, 1)
}

func TestIngestOHLCVFailureFinalizesRun(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{Err: errors.New("exchange down")}
	e, _ := newEngine(t, st, gw)

	_, err := e.IngestOHLCV(context.Background(), "BTC-USDT-SWAP", "15m", OHLCVOptions{})
	require.Error(t, err)

	run, err := st.LatestIngestionRun(context.Background(), "BTC-USDT-SWAP", "ohlcv")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.IngestionFailed, run.Status)
	assert.Contains(t, run.Error, "exchange down")
}

func TestIngestFundingRate(t *testing.T) {
	st := newTestStore(t)
	rate, _ := decimal.NewFromString("0.0001")
	gw := &mock.Gateway{FundingReply: exchange.Funding{TsMs: 42_000, Rate: rate}}
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestFundingRate(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Duplicate observation is dropped.
	n, err = e.IngestFundingRate(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestIngestPriceSnapshotSkipsEmptyTicker(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{} // zero TsMs: nothing to store
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestPriceSnapshot(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	run, err := st.LatestIngestionRun(context.Background(), "BTC-USDT-SWAP", "price_snapshot")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.IngestionSkipped, run.Status)
	assert.Empty(t, run.Error)
}

func TestIngestFundingRateSkipsMissingTimestamp(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{} // empty funding reply
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestFundingRate(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	run, err := st.LatestIngestionRun(context.Background(), "BTC-USDT-SWAP", "funding_rate")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.IngestionSkipped, run.Status)
}

func TestIngestOpenInterestSkipsMissingTimestamp(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{}
	e, _ := newEngine(t, st, gw)

	n, err := e.IngestOpenInterest(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	run, err := st.LatestIngestionRun(context.Background(), "BTC-USDT-SWAP", "open_interest")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.IngestionSkipped, run.Status)
}

func TestIngestAllContinuesPastFailures(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{CandlePages: map[string][][]exchange.Candle{
		"BTC-USDT-SWAP|15m": {{exchangeCandle(0, "100")}},
	}}
	e, _ := newEngine(t, st, gw)

	// Unknown timeframe fails, 15m succeeds.
	errs := e.IngestAll(context.Background(), "BTC-USDT-SWAP", []string{"7m", "15m"}, OHLCVOptions{})
	assert.Len(t, errs, 1)

	rows, err := st.CandlesInRange(context.Background(), "BTC-USDT-SWAP", "15m", 0, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTimeframeMs(t *testing.T) {
	ms, err := TimeframeMs("15m")
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), ms)

	_, err = TimeframeMs("7m")
	assert.Error(t, err)
}
