package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
)

// InsertOrder creates the CREATED row for a new order and returns its row id.
func (s *Store) InsertOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, exchange_order_id, symbol, side, type, price, amount,
			filled_amount, remaining_amount, average_price, leverage, status, time_in_force, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientOrderID, o.ExchangeOrderID, o.Symbol, o.Side, o.Type,
		nullDecimal(o.Price), o.Amount.String(), o.FilledAmount.String(), o.RemainingAmount.String(),
		nullDecimal(o.AveragePrice), nullDecimal(o.Leverage), o.Status, nullString(o.TimeInForce),
		o.CreatedAtS, o.UpdatedAtS)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order row id: %w", err)
	}
	o.RowID = id
	return nil
}

// TransitionOrder updates the order row and appends exactly one lifecycle
// event in the same transaction.
func (s *Store) TransitionOrder(ctx context.Context, o *domain.Order, ev domain.LifecycleEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET exchange_order_id = COALESCE(NULLIF(?, ''), exchange_order_id),
			filled_amount=?, remaining_amount=?, average_price=?, status=?, updated_at=?
		WHERE id=?`,
		o.ExchangeOrderID, o.FilledAmount.String(), o.RemainingAmount.String(),
		nullDecimal(o.AveragePrice), o.Status, o.UpdatedAtS, o.RowID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := insertLifecycleEvent(ctx, tx, o.RowID, ev); err != nil {
		return err
	}

	return tx.Commit()
}

func insertLifecycleEvent(ctx context.Context, tx *sql.Tx, orderRowID int64, ev domain.LifecycleEvent) error {
	var exchangeTs sql.NullInt64
	if ev.ExchangeTs != nil {
		exchangeTs = sql.NullInt64{Int64: *ev.ExchangeTs, Valid: true}
	}
	var tradeID sql.NullInt64
	if ev.TradeID != nil {
		tradeID = sql.NullInt64{Int64: *ev.TradeID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_lifecycle_events (order_id, from_status, to_status, message, timestamp,
			exchange_status, exchange_event_ts, raw_payload, trade_id, fill_qty, fill_price, fee)
		VALUES (?, ?, ?, ?, strftime('%s','now'), ?, ?, ?, ?, ?, ?, ?)`,
		orderRowID, ev.FromStatus, ev.ToStatus, ev.Message,
		nullString(ev.ExchangeStatus), exchangeTs, nullString(ev.RawPayload), tradeID,
		nullDecimal(ev.FillQty), nullDecimal(ev.FillPrice), nullDecimal(ev.Fee))
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}
	return nil
}

// InsertLifecycleEvent appends an event without a paired order row update,
// used by the tracker for PARTIAL_FILL observations that don't change the
// persisted status yet.
func (s *Store) InsertLifecycleEvent(ctx context.Context, orderRowID int64, ev domain.LifecycleEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertLifecycleEvent(ctx, tx, orderRowID, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateOrderFields updates mutable fields without inserting a lifecycle
// event, used by reconciliation when the status itself is unchanged.
func (s *Store) UpdateOrderFields(ctx context.Context, o *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET exchange_order_id = COALESCE(NULLIF(?, ''), exchange_order_id),
			filled_amount=?, remaining_amount=?, average_price=?, updated_at=?
		WHERE id=?`,
		o.ExchangeOrderID, o.FilledAmount.String(), o.RemainingAmount.String(),
		nullDecimal(o.AveragePrice), o.UpdatedAtS, o.RowID)
	if err != nil {
		return fmt.Errorf("update order fields: %w", err)
	}
	return nil
}

// GetOrderByRowID loads an order by its synthetic row id.
func (s *Store) GetOrderByRowID(ctx context.Context, id int64) (*domain.Order, error) {
	return s.queryOneOrder(ctx, `SELECT id, client_order_id, exchange_order_id, symbol, side, type,
		price, amount, filled_amount, remaining_amount, average_price, leverage, status, time_in_force,
		created_at, updated_at FROM orders WHERE id=?`, id)
}

// GetOrderByClientID loads an order by its client order id.
func (s *Store) GetOrderByClientID(ctx context.Context, clientID string) (*domain.Order, error) {
	return s.queryOneOrder(ctx, `SELECT id, client_order_id, exchange_order_id, symbol, side, type,
		price, amount, filled_amount, remaining_amount, average_price, leverage, status, time_in_force,
		created_at, updated_at FROM orders WHERE client_order_id=?`, clientID)
}

// GetOrderByExchangeID loads an order by its exchange order id.
func (s *Store) GetOrderByExchangeID(ctx context.Context, exchangeID string) (*domain.Order, error) {
	return s.queryOneOrder(ctx, `SELECT id, client_order_id, exchange_order_id, symbol, side, type,
		price, amount, filled_amount, remaining_amount, average_price, leverage, status, time_in_force,
		created_at, updated_at FROM orders WHERE exchange_order_id=?`, exchangeID)
}

func (s *Store) queryOneOrder(ctx context.Context, query string, arg interface{}) (*domain.Order, error) {
	var o domain.Order
	var exchangeID, price, filled, remaining, avg, leverage, tif sql.NullString
	var amount string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&o.RowID, &o.ClientOrderID, &exchangeID, &o.Symbol,
		&o.Side, &o.Type, &price, &amount, &filled, &remaining, &avg, &leverage, &o.Status, &tif,
		&o.CreatedAtS, &o.UpdatedAtS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.ExchangeOrderID = exchangeID.String
	o.TimeInForce = tif.String
	o.Amount, _ = decimal.NewFromString(amount)
	if filled.Valid {
		o.FilledAmount, _ = decimal.NewFromString(filled.String)
	}
	if remaining.Valid {
		o.RemainingAmount, _ = decimal.NewFromString(remaining.String)
	}
	o.Price = decimalPtr(price)
	o.AveragePrice = decimalPtr(avg)
	o.Leverage = decimalPtr(leverage)
	return &o, nil
}

// OrdersByStatuses loads all orders whose status is in the given set, used
// by the tracker to find open orders to reconcile.
func (s *Store) OrdersByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]*domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(statuses)
	rows, err := s.db.QueryContext(ctx, `SELECT id, client_order_id, exchange_order_id, symbol, side, type,
		price, amount, filled_amount, remaining_amount, average_price, leverage, status, time_in_force,
		created_at, updated_at FROM orders WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// OrdersByRowIDs loads orders by an explicit id list.
func (s *Store) OrdersByRowIDs(ctx context.Context, ids []int64) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders, args := inClause(args)
	rows, err := s.db.QueryContext(ctx, `SELECT id, client_order_id, exchange_order_id, symbol, side, type,
		price, amount, filled_amount, remaining_amount, average_price, leverage, status, time_in_force,
		created_at, updated_at FROM orders WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders by id: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		var o domain.Order
		var exchangeID, price, filled, remaining, avg, leverage, tif sql.NullString
		var amount string
		if err := rows.Scan(&o.RowID, &o.ClientOrderID, &exchangeID, &o.Symbol, &o.Side, &o.Type,
			&price, &amount, &filled, &remaining, &avg, &leverage, &o.Status, &tif,
			&o.CreatedAtS, &o.UpdatedAtS); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.ExchangeOrderID = exchangeID.String
		o.TimeInForce = tif.String
		o.Amount, _ = decimal.NewFromString(amount)
		if filled.Valid {
			o.FilledAmount, _ = decimal.NewFromString(filled.String)
		}
		if remaining.Valid {
			o.RemainingAmount, _ = decimal.NewFromString(remaining.String)
		}
		o.Price = decimalPtr(price)
		o.AveragePrice = decimalPtr(avg)
		o.Leverage = decimalPtr(leverage)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// InsertTradeIfAbsent inserts a trade unless one with the same
// (order,ts,price,amount,side) already exists, and reports whether it did.
func (s *Store) InsertTradeIfAbsent(ctx context.Context, t domain.Trade) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (order_id, symbol, side, price, amount, fee, fee_currency, realized_pnl, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id, timestamp, price, amount, side) DO NOTHING`,
		t.OrderRowID, t.Symbol, t.Side, t.Price.String(), t.Amount.String(),
		nullDecimal(t.Fee), nullString(t.FeeCcy), nullDecimal(t.RealizedPnl), t.TsMs)
	if err != nil {
		return false, fmt.Errorf("insert trade: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// HasTradeForOrder reports whether any trade row exists for an order.
func (s *Store) HasTradeForOrder(ctx context.Context, orderRowID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE order_id=?`, orderRowID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count trades: %w", err)
	}
	return n > 0, nil
}

// LifecycleEvents returns an order's events in insertion order.
func (s *Store) LifecycleEvents(ctx context.Context, orderRowID int64) ([]domain.LifecycleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, message, exchange_status, exchange_event_ts,
			raw_payload, trade_id, fill_qty, fill_price, fee
		FROM order_lifecycle_events WHERE order_id=? ORDER BY id ASC`, orderRowID)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle events: %w", err)
	}
	defer rows.Close()

	var out []domain.LifecycleEvent
	for rows.Next() {
		var ev domain.LifecycleEvent
		var msg, exStatus, raw, fillQty, fillPrice, fee sql.NullString
		var exTs, tradeID sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.OrderRowID, &ev.FromStatus, &ev.ToStatus, &msg,
			&exStatus, &exTs, &raw, &tradeID, &fillQty, &fillPrice, &fee); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		ev.Message = msg.String
		ev.ExchangeStatus = exStatus.String
		ev.RawPayload = raw.String
		if exTs.Valid {
			ev.ExchangeTs = &exTs.Int64
		}
		if tradeID.Valid {
			ev.TradeID = &tradeID.Int64
		}
		ev.FillQty = decimalPtr(fillQty)
		ev.FillPrice = decimalPtr(fillPrice)
		ev.Fee = decimalPtr(fee)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TradesForOrder returns an order's derived trades in timestamp order.
func (s *Store) TradesForOrder(ctx context.Context, orderRowID int64) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, price, amount, fee, fee_currency, realized_pnl, timestamp
		FROM trades WHERE order_id=? ORDER BY timestamp ASC, id ASC`, orderRowID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var price, amount string
		var fee, feeCcy, pnl sql.NullString
		if err := rows.Scan(&t.RowID, &t.OrderRowID, &t.Symbol, &t.Side, &price, &amount, &fee, &feeCcy, &pnl, &t.TsMs); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Amount, _ = decimal.NewFromString(amount)
		t.Fee = decimalPtr(fee)
		t.FeeCcy = feeCcy.String
		t.RealizedPnl = decimalPtr(pnl)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func inClause(items interface{}) (string, []interface{}) {
	var args []interface{}
	switch v := items.(type) {
	case []domain.OrderStatus:
		args = make([]interface{}, len(v))
		for i, s := range v {
			args[i] = s
		}
	case []interface{}:
		args = v
	}
	ph := ""
	for i := range args {
		if i > 0 {
			ph += ","
		}
		ph += "?"
	}
	return ph, args
}
