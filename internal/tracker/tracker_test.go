package tracker

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

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func newTracker(t *testing.T, st *store.Store, gw exchange.Gateway) *Tracker {
	t.Helper()
	return New(gw, st, clock.NewFrozen(time.Unix(1_700_000_000, 0)), logging.Nop{})
}

func seedOpenOrder(t *testing.T, st *store.Store, clientID, exchangeID string) *domain.Order {
	t.Helper()
	price := dec("100")
	o := &domain.Order{
		ClientOrderID: clientID, ExchangeOrderID: exchangeID,
		Symbol: "BTC-USDT-SWAP", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Price: &price, Amount: dec("1"), FilledAmount: decimal.Zero, RemainingAmount: dec("1"),
		Status: domain.StatusNew, CreatedAtS: 1000, UpdatedAtS: 1000,
	}
	require.NoError(t, st.InsertOrder(context.Background(), o))
	return o
}

func TestSyncOrdersPartialThenFull(t *testing.T) {
	st := newTestStore(t)
	o := seedOpenOrder(t, st, "cli-1", "ex-1")
	gw := &mock.Gateway{FetchOrderReplies: map[string][]exchange.OrderReply{
		"ex-1": {
			{ExchangeOrderID: "ex-1", Status: "open", Filled: decPtr("0.4"), TsMs: 43_000},
			{ExchangeOrderID: "ex-1", Status: "closed", Filled: decPtr("1"), Average: decPtr("100"), TsMs: 44_000},
		},
	}}
	trk := newTracker(t, st, gw)
	ctx := context.Background()

	updated, err := trk.SyncOrders(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := st.GetOrderByClientID(ctx, "cli-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyFilled, got.Status)
	assert.True(t, got.FilledAmount.Equal(dec("0.4")))
	assert.True(t, got.RemainingAmount.Equal(dec("0.6")))

	updated, err = trk.SyncOrders(ctx, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err = st.GetOrderByClientID(ctx, "cli-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, got.Status)

	events, err := st.LifecycleEvents(ctx, o.RowID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.StatusNew, events[0].FromStatus)
	assert.Equal(t, domain.StatusPartiallyFilled, events[0].ToStatus)
	assert.Contains(t, events[0].Message, "PARTIAL_FILL")
	assert.Equal(t, domain.StatusPartiallyFilled, events[1].FromStatus)
	assert.Equal(t, domain.StatusFilled, events[1].ToStatus)
	assert.Equal(t, "ORDER_FILLED", events[1].Message)

	trades, err := st.TradesForOrder(ctx, o.RowID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Amount.Equal(dec("1")))
}

func TestSyncOrdersFillProgressWithoutStatusChange(t *testing.T) {
	st := newTestStore(t)
	o := seedOpenOrder(t, st, "cli-1", "ex-1")
	// Mark the order partially filled already.
	o.Status = domain.StatusPartiallyFilled
	o.FilledAmount = dec("0.2")
	require.NoError(t, st.TransitionOrder(context.Background(), o, domain.LifecycleEvent{
		FromStatus: domain.StatusNew, ToStatus: domain.StatusPartiallyFilled, Message: "PARTIAL_FILL filled=0.2",
	}))

	gw := &mock.Gateway{FetchOrderReplies: map[string][]exchange.OrderReply{
		"ex-1": {{ExchangeOrderID: "ex-1", Status: "open", Filled: decPtr("0.6"), TsMs: 45_000}},
	}}
	trk := newTracker(t, st, gw)

	updated, err := trk.SyncOrders(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 0, updated) // no status change

	events, err := st.LifecycleEvents(context.Background(), o.RowID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, events[1].Message, "filled=0.6")

	got, err := st.GetOrderByClientID(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.True(t, got.FilledAmount.Equal(dec("0.6")))
	assert.Equal(t, domain.StatusPartiallyFilled, got.Status)
}

func TestSyncOrdersSkipsMissingExchangeID(t *testing.T) {
	st := newTestStore(t)
	seedOpenOrder(t, st, "cli-1", "")
	trk := newTracker(t, st, &mock.Gateway{})

	updated, err := trk.SyncOrders(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestSyncOrdersByExplicitIDs(t *testing.T) {
	st := newTestStore(t)
	seedOpenOrder(t, st, "cli-1", "ex-1")
	seedOpenOrder(t, st, "cli-2", "ex-2")
	gw := &mock.Gateway{FetchOrderReplies: map[string][]exchange.OrderReply{
		"ex-1": {{ExchangeOrderID: "ex-1", Status: "canceled"}},
		"ex-2": {{ExchangeOrderID: "ex-2", Status: "canceled"}},
	}}
	trk := newTracker(t, st, gw)

	updated, err := trk.SyncOrders(context.Background(), []string{"cli-2"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	got, err := st.GetOrderByClientID(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, got.Status)
}

func TestSyncExchangeHistoryInsertsAndDeduplicates(t *testing.T) {
	st := newTestStore(t)
	reply := exchange.OrderReply{
		ExchangeOrderID: "ex-9", ClientOrderID: "cli-9", Symbol: "BTC-USDT-SWAP",
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Price: decPtr("95"),
		Status: "closed", Filled: decPtr("2"), Amount: decPtr("2"), Average: decPtr("95"), TsMs: 50_000,
	}
	gw := &mock.Gateway{
		// The same order appears twice in the page: dedupe keeps one.
		ClosedOrderPages: [][]exchange.OrderReply{{reply, reply}},
	}
	trk := newTracker(t, st, gw)

	res, err := trk.SyncExchangeHistory(context.Background(), HistoryOptions{
		Symbols: []string{"BTC-USDT-SWAP"}, Limit: 100, IncludeClosed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OrdersInserted)
	assert.Equal(t, 0, res.OrdersUpdated)

	got, err := st.GetOrderByExchangeID(context.Background(), "ex-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cli-9", got.ClientOrderID)
	assert.Equal(t, domain.StatusFilled, got.Status)
}

func TestSyncExchangeHistoryUpdatesExistingRow(t *testing.T) {
	st := newTestStore(t)
	seedOpenOrder(t, st, "cli-1", "ex-1")
	gw := &mock.Gateway{
		ClosedOrderPages: [][]exchange.OrderReply{{{
			ExchangeOrderID: "ex-1", Status: "closed",
			Filled: decPtr("1"), Average: decPtr("101"), TsMs: 60_000,
		}}},
	}
	trk := newTracker(t, st, gw)

	res, err := trk.SyncExchangeHistory(context.Background(), HistoryOptions{
		Symbols: []string{"BTC-USDT-SWAP"}, Limit: 100, IncludeClosed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.OrdersInserted)
	assert.Equal(t, 1, res.OrdersUpdated)

	got, err := st.GetOrderByClientID(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, got.Status)

	trades, err := st.TradesForOrder(context.Background(), got.RowID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestSyncExchangeHistoryTrades(t *testing.T) {
	st := newTestStore(t)
	o := seedOpenOrder(t, st, "cli-1", "ex-1")
	trade := exchange.Trade{
		ExchangeTradeID: "tr-1", ExchangeOrderID: "ex-1", Symbol: "BTC-USDT-SWAP",
		Side: domain.SideBuy, Price: dec("100"), Amount: dec("0.5"), TsMs: 70_000,
	}
	gw := &mock.Gateway{TradePages: [][]exchange.Trade{{trade}, {trade}}}
	trk := newTracker(t, st, gw)

	res, err := trk.SyncExchangeHistory(context.Background(), HistoryOptions{
		Symbols: []string{"BTC-USDT-SWAP"}, Limit: 100, IncludeTrades: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesInserted)

	// Re-run: the identical trade is a duplicate.
	gw.TradePages = [][]exchange.Trade{{trade}}
	res, err = trk.SyncExchangeHistory(context.Background(), HistoryOptions{
		Symbols: []string{"BTC-USDT-SWAP"}, Limit: 100, IncludeTrades: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TradesInserted)

	trades, err := st.TradesForOrder(context.Background(), o.RowID)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestSyncExchangeHistorySkipsUnknownOrderTrades(t *testing.T) {
	st := newTestStore(t)
	gw := &mock.Gateway{TradePages: [][]exchange.Trade{{{
		ExchangeTradeID: "tr-1", ExchangeOrderID: "ex-unknown", Symbol: "BTC-USDT-SWAP",
		Side: domain.SideBuy, Price: dec("100"), Amount: dec("0.5"), TsMs: 70_000,
	}}}}
	trk := newTracker(t, st, gw)

	res, err := trk.SyncExchangeHistory(context.Background(), HistoryOptions{
		Symbols: []string{"BTC-USDT-SWAP"}, Limit: 100, IncludeTrades: true,
	})
	require.NoError(t, err)
	assert.Zero(t, res.TradesInserted)
}
