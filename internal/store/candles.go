package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// UpsertCandles inserts rows ordered by timestamp, silently dropping
// duplicates under (symbol,timeframe,timestamp).
func (s *Store) UpsertCandles(ctx context.Context, rows []domain.Candle) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_data (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, timestamp) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, c := range rows {
		res, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.TsMs,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			return inserted, fmt.Errorf("upsert candle: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// LastCandleTs returns the most recent stored timestamp for (symbol,
// timeframe), or ok=false if no rows exist.
func (s *Store) LastCandleTs(ctx context.Context, symbol, timeframe string) (int64, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM market_data WHERE symbol=? AND timeframe=?`,
		symbol, timeframe).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("query last candle: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// CandlesInRange returns ordered candles for (symbol,timeframe) with
// timestamp in [startMs, endMs], inclusive.
func (s *Store) CandlesInRange(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM market_data
		WHERE symbol=? AND timeframe=? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var o, h, l, cl, v string
		if err := rows.Scan(&c.TsMs, &o, &h, &l, &cl, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Symbol, c.Timeframe = symbol, timeframe
		c.Open, _ = decimal.NewFromString(o)
		c.High, _ = decimal.NewFromString(h)
		c.Low, _ = decimal.NewFromString(l)
		c.Close, _ = decimal.NewFromString(cl)
		c.Volume, _ = decimal.NewFromString(v)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestCandles returns up to limit of the most recent candles, ascending.
func (s *Store) LatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM market_data
		WHERE symbol=? AND timeframe=?
		ORDER BY timestamp DESC LIMIT ?`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var o, h, l, cl, v string
		if err := rows.Scan(&c.TsMs, &o, &h, &l, &cl, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Symbol, c.Timeframe = symbol, timeframe
		c.Open, _ = decimal.NewFromString(o)
		c.High, _ = decimal.NewFromString(h)
		c.Low, _ = decimal.NewFromString(l)
		c.Close, _ = decimal.NewFromString(cl)
		c.Volume, _ = decimal.NewFromString(v)
		out = append(out, c)
	}
	// reverse to ascending order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// TimestampCounts returns the ordered, deduplicated set of stored
// timestamps and a per-timestamp count, used by the integrity scanner.
func (s *Store) TimestampCounts(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]int64, map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, COUNT(*) FROM market_data
		WHERE symbol=? AND timeframe=? AND timestamp BETWEEN ? AND ?
		GROUP BY timestamp ORDER BY timestamp ASC`, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, nil, fmt.Errorf("query timestamp counts: %w", err)
	}
	defer rows.Close()

	var ordered []int64
	counts := make(map[int64]int)
	for rows.Next() {
		var ts int64
		var n int
		if err := rows.Scan(&ts, &n); err != nil {
			return nil, nil, fmt.Errorf("scan timestamp count: %w", err)
		}
		ordered = append(ordered, ts)
		counts[ts] = n
	}
	return ordered, counts, rows.Err()
}

// UpsertFundingRate inserts one funding observation, skipped on conflict.
func (s *Store) UpsertFundingRate(ctx context.Context, fr domain.FundingRate) (bool, error) {
	var next sql.NullInt64
	if fr.NextFundingTs != nil {
		next = sql.NullInt64{Int64: *fr.NextFundingTs, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO funding_rates (symbol, timestamp, funding_rate, next_funding_time)
		VALUES (?, ?, ?, ?) ON CONFLICT(symbol, timestamp) DO NOTHING`,
		fr.Symbol, fr.TsMs, fr.Rate.String(), next)
	if err != nil {
		return false, fmt.Errorf("upsert funding rate: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpsertPriceSnapshot inserts one ticker snapshot, skipped on conflict.
func (s *Store) UpsertPriceSnapshot(ctx context.Context, p domain.PriceSnapshot) (bool, error) {
	last, mark, index := nullDecimal(p.Last), nullDecimal(p.Mark), nullDecimal(p.Index)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (symbol, timestamp, last_price, mark_price, index_price)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(symbol, timestamp) DO NOTHING`,
		p.Symbol, p.TsMs, last, mark, index)
	if err != nil {
		return false, fmt.Errorf("upsert price snapshot: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LatestPriceSnapshot returns the most recent snapshot for symbol, if any.
func (s *Store) LatestPriceSnapshot(ctx context.Context, symbol string) (*domain.PriceSnapshot, error) {
	var p domain.PriceSnapshot
	var last, mark, index sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp, last_price, mark_price, index_price FROM price_snapshots
		WHERE symbol=? ORDER BY timestamp DESC LIMIT 1`, symbol).
		Scan(&p.TsMs, &last, &mark, &index)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest price snapshot: %w", err)
	}
	p.Symbol = symbol
	p.Last = decimalPtr(last)
	p.Mark = decimalPtr(mark)
	p.Index = decimalPtr(index)
	return &p, nil
}

// UpsertOpenInterest inserts one OI observation, skipped on conflict.
func (s *Store) UpsertOpenInterest(ctx context.Context, oi domain.OpenInterest) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO open_interest (symbol, timestamp, oi_contracts, oi_value)
		VALUES (?, ?, ?, ?) ON CONFLICT(symbol, timestamp) DO NOTHING`,
		oi.Symbol, oi.TsMs, oi.Contracts.String(), nullDecimal(oi.ValueCcy))
	if err != nil {
		return false, fmt.Errorf("upsert open interest: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func decimalPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}
