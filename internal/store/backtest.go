package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// RecentBacktestResults loads up to limit most-recent backtest rows for
// (symbol,timeframe) whose config's strategy key matches. Read-only:
// the backtest engine is external and this table may be empty.
func (s *Store) RecentBacktestResults(ctx context.Context, strategyKey, symbol, timeframe string, limit int) ([]domain.BacktestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.win_rate, r.return_pct, r.max_drawdown, r.created_at
		FROM backtest_results r
		JOIN backtest_configs c ON c.id = r.config_id
		WHERE c.strategy_key = ? AND c.symbol = ? AND c.timeframe = ?
		ORDER BY r.created_at DESC LIMIT ?`, strategyKey, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query backtest results: %w", err)
	}
	defer rows.Close()

	var out []domain.BacktestResult
	for rows.Next() {
		var r domain.BacktestResult
		var winRate, ret, dd string
		if err := rows.Scan(&winRate, &ret, &dd, &r.CreatedAtS); err != nil {
			return nil, fmt.Errorf("scan backtest result: %w", err)
		}
		r.StrategyKey, r.Symbol, r.Timeframe = strategyKey, symbol, timeframe
		r.WinRate, _ = decimal.NewFromString(winRate)
		r.Return, _ = decimal.NewFromString(ret)
		r.MaxDrawdown, _ = decimal.NewFromString(dd)
		out = append(out, r)
	}
	return out, rows.Err()
}
