package tracker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
)

// maxHistoryPages caps a single history sweep so a bad cursor cannot page
// forever.
const maxHistoryPages = 200

// HistoryOptions tunes one SyncExchangeHistory sweep.
type HistoryOptions struct {
	Symbols       []string
	SinceMs       *int64
	Limit         int
	IncludeOpen   bool
	IncludeClosed bool
	IncludeTrades bool
}

// HistoryResult summarizes one sweep.
type HistoryResult struct {
	OrdersInserted int
	OrdersUpdated  int
	TradesInserted int
}

// SyncExchangeHistory pages open and/or closed orders plus own trades per
// symbol, deduplicating by exchange id then client id, upserting orders and
// inserting unseen trades. The cursor follows max(timestamp)+1, bounded by
// maxHistoryPages, with an inter-page wait at the gateway's rate limit.
func (t *Tracker) SyncExchangeHistory(ctx context.Context, opts HistoryOptions) (HistoryResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	limiter := rate.NewLimiter(rate.Every(t.gw.RateLimit()), 1)

	var res HistoryResult
	for _, symbol := range opts.Symbols {
		if opts.IncludeOpen {
			if err := t.syncOrderPages(ctx, symbol, opts, limiter, t.gw.FetchOpenOrders, &res); err != nil {
				return res, fmt.Errorf("sync open orders %s: %w", symbol, err)
			}
		}
		if opts.IncludeClosed {
			if err := t.syncOrderPages(ctx, symbol, opts, limiter, t.gw.FetchClosedOrders, &res); err != nil {
				return res, fmt.Errorf("sync closed orders %s: %w", symbol, err)
			}
		}
		if opts.IncludeTrades {
			if err := t.syncTradePages(ctx, symbol, opts, limiter, &res); err != nil {
				return res, fmt.Errorf("sync trades %s: %w", symbol, err)
			}
		}
	}
	return res, nil
}

type orderPager func(ctx context.Context, symbol string, sinceMs *int64, limit int) ([]exchange.OrderReply, error)

func (t *Tracker) syncOrderPages(ctx context.Context, symbol string, opts HistoryOptions, limiter *rate.Limiter, fetch orderPager, res *HistoryResult) error {
	cursor := opts.SinceMs
	seen := map[string]bool{}

	for page := 0; page < maxHistoryPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		replies, err := fetch(ctx, symbol, cursor, opts.Limit)
		if err != nil {
			return err
		}
		if len(replies) == 0 {
			return nil
		}

		var maxTs int64
		for _, reply := range replies {
			if reply.TsMs > maxTs {
				maxTs = reply.TsMs
			}
			key := reply.ExchangeOrderID
			if key == "" {
				key = "cl:" + reply.ClientOrderID
			}
			if key == "cl:" || seen[key] {
				continue
			}
			seen[key] = true

			inserted, err := t.upsertHistoryOrder(ctx, symbol, reply)
			if err != nil {
				t.log.Error("upsert history order", "symbol", symbol, "exchange_order_id", reply.ExchangeOrderID, "error", err)
				continue
			}
			if inserted {
				res.OrdersInserted++
			} else {
				res.OrdersUpdated++
			}
		}

		if len(replies) < opts.Limit || maxTs == 0 {
			return nil
		}
		next := maxTs + 1
		cursor = &next
	}
	t.log.Warn("history sweep hit page cap", "symbol", symbol, "pages", maxHistoryPages)
	return nil
}

// upsertHistoryOrder resolves a reply to an existing row by exchange id,
// then client id; unresolved replies become fresh rows. Reports whether a
// row was inserted.
func (t *Tracker) upsertHistoryOrder(ctx context.Context, symbol string, reply exchange.OrderReply) (bool, error) {
	var o *domain.Order
	var err error
	if reply.ExchangeOrderID != "" {
		if o, err = t.st.GetOrderByExchangeID(ctx, reply.ExchangeOrderID); err != nil {
			return false, err
		}
	}
	if o == nil && reply.ClientOrderID != "" {
		if o, err = t.st.GetOrderByClientID(ctx, reply.ClientOrderID); err != nil {
			return false, err
		}
	}

	if o == nil {
		o = t.orderFromReply(symbol, reply)
		if err := t.st.InsertOrder(ctx, o); err != nil {
			return false, err
		}
		return true, nil
	}

	// Existing row: refresh only what the reply actually carries.
	if reply.ExchangeOrderID != "" {
		o.ExchangeOrderID = reply.ExchangeOrderID
	}
	if _, err := t.applyUpdate(ctx, o, reply); err != nil {
		return false, err
	}
	return false, nil
}

func (t *Tracker) orderFromReply(symbol string, reply exchange.OrderReply) *domain.Order {
	clientID := reply.ClientOrderID
	if clientID == "" {
		clientID = "ext-" + reply.ExchangeOrderID
	}
	amount := decimal.Zero
	if reply.Amount != nil {
		amount = *reply.Amount
	}
	filled := decimal.Zero
	if reply.Filled != nil {
		filled = *reply.Filled
	}
	remaining := amount.Sub(filled)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	sym := reply.Symbol
	if sym == "" {
		sym = symbol
	}
	now := t.clk.NowS()
	return &domain.Order{
		ClientOrderID:   clientID,
		ExchangeOrderID: reply.ExchangeOrderID,
		Symbol:          sym,
		Side:            reply.Side,
		Type:            reply.Type,
		Price:           reply.Price,
		Amount:          amount,
		FilledAmount:    filled,
		RemainingAmount: remaining,
		AveragePrice:    reply.Average,
		Status:          exchange.NormalizedStatus(reply, amount),
		CreatedAtS:      now,
		UpdatedAtS:      now,
	}
}

func (t *Tracker) syncTradePages(ctx context.Context, symbol string, opts HistoryOptions, limiter *rate.Limiter, res *HistoryResult) error {
	cursor := opts.SinceMs
	seen := map[string]bool{}

	for page := 0; page < maxHistoryPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		trades, err := t.gw.FetchMyTrades(ctx, symbol, cursor, opts.Limit)
		if err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}

		var maxTs int64
		for _, tr := range trades {
			if tr.TsMs > maxTs {
				maxTs = tr.TsMs
			}
			if tr.ExchangeTradeID != "" && seen[tr.ExchangeTradeID] {
				continue
			}
			seen[tr.ExchangeTradeID] = true

			o, err := t.st.GetOrderByExchangeID(ctx, tr.ExchangeOrderID)
			if err != nil {
				return err
			}
			if o == nil {
				// Trades for orders this process never saw are skipped; the
				// order sweep will pick the parent up first on the next run.
				continue
			}

			var fee *decimal.Decimal
			feeCcy := ""
			if tr.Fee != nil {
				cost := tr.Fee.Cost
				fee = &cost
				feeCcy = tr.Fee.Currency
			}
			inserted, err := t.st.InsertTradeIfAbsent(ctx, domain.Trade{
				OrderRowID:  o.RowID,
				Symbol:      tr.Symbol,
				Side:        tr.Side,
				Price:       tr.Price,
				Amount:      tr.Amount,
				Fee:         fee,
				FeeCcy:      feeCcy,
				RealizedPnl: tr.RealizedPnl,
				TsMs:        tr.TsMs,
			})
			if err != nil {
				return err
			}
			if inserted {
				res.TradesInserted++
			}
		}

		if len(trades) < opts.Limit || maxTs == 0 {
			return nil
		}
		next := maxTs + 1
		cursor = &next
	}
	t.log.Warn("trade sweep hit page cap", "symbol", symbol, "pages", maxHistoryPages)
	return nil
}
