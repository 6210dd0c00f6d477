package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// UpsertPosition writes the current net position for (symbol,side).
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, size, entry_price, leverage, unrealized_pnl, margin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, side) DO UPDATE SET
			size=excluded.size, entry_price=excluded.entry_price, leverage=excluded.leverage,
			unrealized_pnl=excluded.unrealized_pnl, margin=excluded.margin, updated_at=excluded.updated_at`,
		p.Symbol, p.Side, p.Size.String(), p.EntryPrice.String(),
		nullDecimal(p.Leverage), nullDecimal(p.UnrealizedPnl), nullDecimal(p.Margin), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes the row when net size collapses to zero.
func (s *Store) DeletePosition(ctx context.Context, symbol string, side domain.OrderSide) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol=? AND side=?`, symbol, side)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// DeletePositionsBySymbol removes every side's row for a symbol, used by
// the simulated executor when it rewrites the single net position.
func (s *Store) DeletePositionsBySymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol=?`, symbol)
	if err != nil {
		return fmt.Errorf("delete positions: %w", err)
	}
	return nil
}

// ReplacePositions swaps the stored positions for the given symbols with
// the freshly fetched set, in one transaction.
func (s *Store) ReplacePositions(ctx context.Context, symbols []string, rows []domain.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, sym := range symbols {
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol=?`, sym); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
	}
	for _, p := range rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (symbol, side, size, entry_price, leverage, unrealized_pnl, margin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Symbol, p.Side, p.Size.String(), p.EntryPrice.String(),
			nullDecimal(p.Leverage), nullDecimal(p.UnrealizedPnl), nullDecimal(p.Margin), p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert position: %w", err)
		}
	}
	return tx.Commit()
}

// PositionsBySymbol returns all open positions for a symbol (both sides in
// hedge mode, at most one in net mode).
func (s *Store) PositionsBySymbol(ctx context.Context, symbol string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, size, entry_price, leverage, unrealized_pnl, margin, updated_at
		FROM positions WHERE symbol=?`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var size, entry string
		var leverage, pnl, margin sql.NullString
		if err := rows.Scan(&p.Symbol, &p.Side, &size, &entry, &leverage, &pnl, &margin, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Size, _ = decimal.NewFromString(size)
		p.EntryPrice, _ = decimal.NewFromString(entry)
		p.Leverage = decimalPtr(leverage)
		p.UnrealizedPnl = decimalPtr(pnl)
		p.Margin = decimalPtr(margin)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPositionSnapshot appends an immutable historical position record.
func (s *Store) InsertPositionSnapshot(ctx context.Context, p domain.PositionSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_snapshots (symbol, timestamp, side, size, entry_price, mark_price, unrealized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(symbol, timestamp, side) DO NOTHING`,
		p.Symbol, p.TsMs, p.Side, p.Size.String(), p.EntryPrice.String(),
		nullDecimal(p.MarkPrice), nullDecimal(p.UnrealizedPnl))
	if err != nil {
		return fmt.Errorf("insert position snapshot: %w", err)
	}
	return nil
}

// UpsertBalance records one currency's balance at a point in time.
func (s *Store) UpsertBalance(ctx context.Context, b domain.Balance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (currency, timestamp, total, free, used)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(currency, timestamp) DO NOTHING`,
		b.Currency, b.TsMs, b.Total.String(), b.Free.String(), b.Used.String())
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// LatestBalance returns the most recent balance row for a currency, if any.
func (s *Store) LatestBalance(ctx context.Context, currency string) (*domain.Balance, error) {
	var b domain.Balance
	var total, free, used string
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, total, free, used FROM balances
		WHERE currency=? ORDER BY timestamp DESC LIMIT 1`, currency).Scan(&b.TsMs, &total, &free, &used)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest balance: %w", err)
	}
	b.Currency = currency
	b.Total, _ = decimal.NewFromString(total)
	b.Free, _ = decimal.NewFromString(free)
	b.Used, _ = decimal.NewFromString(used)
	return &b, nil
}

// InsertRiskEvent records a denial emitted by the risk chain.
func (s *Store) InsertRiskEvent(ctx context.Context, ev domain.RiskEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_events (symbol, timestamp, level, rule, details) VALUES (?, ?, ?, ?, ?)`,
		ev.Symbol, ev.TsS, ev.Level, ev.Rule, ev.Details)
	if err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// RiskEvents returns the recorded denials for a symbol, oldest first.
func (s *Store) RiskEvents(ctx context.Context, symbol string) ([]domain.RiskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, timestamp, level, rule, details FROM risk_events
		WHERE symbol=? ORDER BY id ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		var details sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.TsS, &ev.Level, &ev.Rule, &details); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		ev.Details = details.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertDecision writes an immutable cycle decision row.
func (s *Store) InsertDecision(ctx context.Context, d *domain.Decision) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (symbol, timeframe, timestamp, action, confidence, reasoning, technical_analysis, accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Symbol, d.Timeframe, d.TsMs, d.Action, nullFloat(d.Confidence), d.Reasoning, d.TechnicalAnalysis, d.Accepted)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("decision row id: %w", err)
	}
	d.ID = id
	return nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
