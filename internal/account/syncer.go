// Package account mirrors exchange account state — balances and open
// positions — into the store, snapshotting position history along the way.
package account

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/store"
)

// Syncer pulls balances and positions from the gateway into the store.
type Syncer struct {
	gw  exchange.Gateway
	st  *store.Store
	clk clock.Clock
	log logging.Logger
}

// New wires a Syncer.
func New(gw exchange.Gateway, st *store.Store, clk clock.Clock, log logging.Logger) *Syncer {
	return &Syncer{gw: gw, st: st, clk: clk, log: log}
}

// Sync refreshes balances and positions for the given symbols. Balance and
// position failures are independent: one failing does not stop the other.
func (s *Syncer) Sync(ctx context.Context, symbols []string) error {
	balErr := s.syncBalances(ctx)
	posErr := s.syncPositions(ctx, symbols)
	if balErr != nil {
		return balErr
	}
	return posErr
}

func (s *Syncer) syncBalances(ctx context.Context) error {
	bal, err := s.gw.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	ts := bal.TsMs
	if ts == 0 {
		ts = s.clk.NowMs()
	}
	for ccy, total := range bal.Total {
		row := domain.Balance{Currency: ccy, TsMs: ts, Total: total}
		if free, ok := bal.Free[ccy]; ok {
			row.Free = free
		}
		if used, ok := bal.Used[ccy]; ok {
			row.Used = used
		}
		if err := s.st.UpsertBalance(ctx, row); err != nil {
			return fmt.Errorf("upsert balance %s: %w", ccy, err)
		}
	}
	return nil
}

// syncPositions replaces the stored position set for the symbols with the
// exchange's view. Positions that disappeared get a final zero-size
// snapshot; live ones get a current snapshot.
func (s *Syncer) syncPositions(ctx context.Context, symbols []string) error {
	infos, err := s.gw.FetchPositions(ctx, symbols)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	nowMs, nowS := s.clk.NowMs(), s.clk.NowS()
	active := map[string]bool{}
	rows := make([]domain.Position, 0, len(infos))
	snaps := make([]domain.PositionSnapshot, 0, len(infos))
	for _, info := range infos {
		if info.Size.IsZero() {
			continue
		}
		active[info.Symbol+"|"+string(info.Side)] = true
		rows = append(rows, domain.Position{
			Symbol:        info.Symbol,
			Side:          info.Side,
			Size:          info.Size,
			EntryPrice:    info.EntryPrice,
			Leverage:      info.Leverage,
			UnrealizedPnl: info.UnrealizedPnl,
			Margin:        info.Margin,
			UpdatedAt:     nowS,
		})
		snaps = append(snaps, domain.PositionSnapshot{
			Symbol: info.Symbol, TsMs: nowMs, Side: info.Side,
			Size: info.Size, EntryPrice: info.EntryPrice,
			MarkPrice:     info.MarkPrice,
			UnrealizedPnl: info.UnrealizedPnl,
		})
	}

	// Closed positions leave a terminal zero-size snapshot before the
	// replace drops their row.
	for _, sym := range symbols {
		existing, err := s.st.PositionsBySymbol(ctx, sym)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if active[p.Symbol+"|"+string(p.Side)] {
				continue
			}
			if err := s.st.InsertPositionSnapshot(ctx, domain.PositionSnapshot{
				Symbol: p.Symbol, TsMs: nowMs, Side: p.Side,
				Size: decimal.Zero, EntryPrice: p.EntryPrice,
			}); err != nil {
				s.log.Error("snapshot closed position", "symbol", p.Symbol, "error", err)
			}
		}
	}

	if err := s.st.ReplacePositions(ctx, symbols, rows); err != nil {
		return err
	}

	for _, snap := range snaps {
		if err := s.st.InsertPositionSnapshot(ctx, snap); err != nil {
			s.log.Error("snapshot position", "symbol", snap.Symbol, "error", err)
		}
	}
	return nil
}
