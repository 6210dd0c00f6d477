// Package mock provides a scripted exchange.Gateway for tests: callers
// queue pages and replies, the mock pops them in order and records every
// call it receives.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vantapoint/perpcore/internal/exchange"
)

// Gateway is a scripted exchange.Gateway. Zero value is usable: every fetch
// returns empty data and every mutation succeeds with the zero reply.
type Gateway struct {
	mu sync.Mutex

	// CandlePages are popped per FetchOHLCV call, keyed by symbol+"|"+timeframe.
	CandlePages map[string][][]exchange.Candle

	FundingReply   exchange.Funding
	TickerReply    exchange.Ticker
	BalanceReply   exchange.Balance
	PositionsReply []exchange.PositionInfo
	OIReply        exchange.OpenInterest

	// CreateReplies/CreateErrs are popped per CreateOrder call; when a
	// queue is exhausted the last element repeats (errors default to nil).
	CreateReplies []exchange.OrderReply
	CreateErrs    []error

	// FetchOrderReplies are popped per FetchOrder call, keyed by exchange
	// order id; the last reply repeats once the queue drains.
	FetchOrderReplies map[string][]exchange.OrderReply

	OpenOrderPages   [][]exchange.OrderReply
	ClosedOrderPages [][]exchange.OrderReply
	TradePages       [][]exchange.Trade

	// Err, when set, fails every call.
	Err error

	CreateCalls []exchange.CreateOrderParams
	CancelCalls []string
	FetchCalls  []string
	OHLCVCalls  []int64
}

var _ exchange.Gateway = (*Gateway)(nil)

func (g *Gateway) RateLimit() time.Duration { return time.Millisecond }

func (g *Gateway) FetchOHLCV(_ context.Context, symbol, timeframe string, sinceMs *int64, _ int) ([]exchange.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	if sinceMs != nil {
		g.OHLCVCalls = append(g.OHLCVCalls, *sinceMs)
	} else {
		g.OHLCVCalls = append(g.OHLCVCalls, 0)
	}
	key := symbol + "|" + timeframe
	pages := g.CandlePages[key]
	if len(pages) == 0 {
		return nil, nil
	}
	page := pages[0]
	g.CandlePages[key] = pages[1:]
	return page, nil
}

func (g *Gateway) FetchFundingRate(context.Context, string) (exchange.Funding, error) {
	if g.Err != nil {
		return exchange.Funding{}, g.Err
	}
	return g.FundingReply, nil
}

func (g *Gateway) FetchTicker(context.Context, string) (exchange.Ticker, error) {
	if g.Err != nil {
		return exchange.Ticker{}, g.Err
	}
	return g.TickerReply, nil
}

func (g *Gateway) FetchBalance(context.Context) (exchange.Balance, error) {
	if g.Err != nil {
		return exchange.Balance{}, g.Err
	}
	return g.BalanceReply, nil
}

func (g *Gateway) FetchPositions(context.Context, []string) ([]exchange.PositionInfo, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	return g.PositionsReply, nil
}

func (g *Gateway) FetchOpenInterest(context.Context, string) (exchange.OpenInterest, error) {
	if g.Err != nil {
		return exchange.OpenInterest{}, g.Err
	}
	return g.OIReply, nil
}

func (g *Gateway) CreateOrder(_ context.Context, p exchange.CreateOrderParams) (exchange.OrderReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return exchange.OrderReply{}, g.Err
	}
	g.CreateCalls = append(g.CreateCalls, p)
	n := len(g.CreateCalls) - 1

	var err error
	if len(g.CreateErrs) > 0 {
		if n < len(g.CreateErrs) {
			err = g.CreateErrs[n]
		}
	}
	var reply exchange.OrderReply
	if len(g.CreateReplies) > 0 {
		i := n
		if i >= len(g.CreateReplies) {
			i = len(g.CreateReplies) - 1
		}
		reply = g.CreateReplies[i]
	}
	return reply, err
}

func (g *Gateway) FetchOrder(_ context.Context, exchangeOrderID, _ string) (exchange.OrderReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return exchange.OrderReply{}, g.Err
	}
	g.FetchCalls = append(g.FetchCalls, exchangeOrderID)
	queue := g.FetchOrderReplies[exchangeOrderID]
	if len(queue) == 0 {
		return exchange.OrderReply{}, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		g.FetchOrderReplies[exchangeOrderID] = queue[1:]
	}
	return reply, nil
}

func (g *Gateway) CancelOrder(_ context.Context, exchangeOrderID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.CancelCalls = append(g.CancelCalls, exchangeOrderID)
	return nil
}

func (g *Gateway) FetchOpenOrders(context.Context, string, *int64, int) ([]exchange.OrderReply, error) {
	return g.popOrderPage(&g.OpenOrderPages)
}

func (g *Gateway) FetchClosedOrders(context.Context, string, *int64, int) ([]exchange.OrderReply, error) {
	return g.popOrderPage(&g.ClosedOrderPages)
}

func (g *Gateway) popOrderPage(pages *[][]exchange.OrderReply) ([]exchange.OrderReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	if len(*pages) == 0 {
		return nil, nil
	}
	page := (*pages)[0]
	*pages = (*pages)[1:]
	return page, nil
}

func (g *Gateway) FetchMyTrades(context.Context, string, *int64, int) ([]exchange.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	if len(g.TradePages) == 0 {
		return nil, nil
	}
	page := g.TradePages[0]
	g.TradePages = g.TradePages[1:]
	return page, nil
}
