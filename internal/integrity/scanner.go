// Package integrity detects gaps and duplicate timestamps in stored candle
// series and repairs them, either by re-fetching from the exchange or by
// synthesizing flat fill bars.
package integrity

import (
	"context"
	"fmt"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/ingestion"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// Scanner inspects a stored candle range and repairs what it finds.
type Scanner struct {
	gw  exchange.Gateway
	st  *store.Store
	clk clock.Clock
	log logging.Logger
}

// NewScanner wires a Scanner.
func NewScanner(gw exchange.Gateway, st *store.Store, clk clock.Clock, log logging.Logger) *Scanner {
	return &Scanner{gw: gw, st: st, clk: clk, log: log}
}

func severityFor(bars int64) domain.Severity {
	switch {
	case bars >= 100:
		return domain.SeverityHigh
	case bars >= 20:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Scan loads the ordered, deduplicated timestamp set for (symbol,timeframe)
// in [startMs,endMs] and emits one GAP event per interior gap and one
// DUPLICATE event per repeated timestamp. Detection of the two is
// independent: a duplicate at a gap boundary never suppresses either event
//.
func (s *Scanner) Scan(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]domain.IntegrityEvent, error) {
	interval, err := ingestion.TimeframeMs(timeframe)
	if err != nil {
		return nil, err
	}

	ordered, counts, err := s.st.TimestampCounts(ctx, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("load timestamp counts: %w", err)
	}

	var events []domain.IntegrityEvent
	now := s.clk.NowS()

	for _, ts := range ordered {
		if n := counts[ts]; n > 1 {
			ev := domain.IntegrityEvent{
				Symbol: symbol, Timeframe: timeframe, EventType: domain.IntegrityDuplicate,
				StartTs: ts, EndTs: ts, DuplicateBars: int64(n - 1),
				Severity: severityFor(int64(n - 1)), DetectedAtS: now,
			}
			if err := s.st.InsertIntegrityEvent(ctx, &ev); err != nil {
				return events, fmt.Errorf("insert duplicate event: %w", err)
			}
			telemetry.IntegrityEventsTotal.WithLabelValues(symbol, timeframe, string(ev.EventType), string(ev.Severity)).Inc()
			events = append(events, ev)
		}
	}

	for i := 1; i < len(ordered); i++ {
		prev, curr := ordered[i-1], ordered[i]
		delta := curr - prev
		if delta <= interval {
			continue
		}
		missing := delta/interval - 1
		ev := domain.IntegrityEvent{
			Symbol: symbol, Timeframe: timeframe, EventType: domain.IntegrityGap,
			StartTs: prev + interval, EndTs: curr - interval,
			ExpectedBars: delta / interval, ActualBars: 1, MissingBars: missing,
			Severity: severityFor(missing), DetectedAtS: now,
		}
		if err := s.st.InsertIntegrityEvent(ctx, &ev); err != nil {
			return events, fmt.Errorf("insert gap event: %w", err)
		}
		telemetry.IntegrityEventsTotal.WithLabelValues(symbol, timeframe, string(ev.EventType), string(ev.Severity)).Inc()
		events = append(events, ev)
	}

	return events, nil
}
