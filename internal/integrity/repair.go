package integrity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/ingestion"
)

// maxRefetchPages bounds how many pages a single refetch repair will page
// through before giving up, so a pathological range cannot loop forever.
const maxRefetchPages = 50

// RepairCandles closes the gap [rangeStart,rangeEnd] in (symbol,timeframe)
// using mode "refetch" (re-pull from the exchange) or "fill" (synthesize
// flat bars from the preceding close). Every invocation creates a RepairJob
// row, finalizes it to DONE or FAILED, and appends a REPAIR IntegrityEvent
// on success.
func (s *Scanner) RepairCandles(ctx context.Context, symbol, timeframe string, rangeStart, rangeEnd int64, mode domain.RepairMode) (*domain.RepairJob, error) {
	job := &domain.RepairJob{
		JobID: uuid.NewString(), Symbol: symbol, Timeframe: timeframe,
		RangeStartTs: rangeStart, RangeEndTs: rangeEnd, Status: domain.RepairRunning,
	}
	if err := s.st.InsertRepairJob(ctx, job); err != nil {
		return nil, fmt.Errorf("insert repair job: %w", err)
	}

	var repaired int64
	var repairErr error
	switch mode {
	case domain.RepairRefetch:
		repaired, repairErr = s.repairByRefetch(ctx, symbol, timeframe, rangeStart, rangeEnd)
	case domain.RepairFill:
		repaired, repairErr = s.repairByFill(ctx, symbol, timeframe, rangeStart, rangeEnd)
	default:
		repairErr = fmt.Errorf("integrity: unknown repair mode %q", mode)
	}

	if repairErr != nil {
		if err := s.st.FinalizeRepairJob(ctx, job.JobID, domain.RepairFailed, repaired, repairErr.Error()); err != nil {
			s.log.Error("finalize failed repair job", "job_id", job.JobID, "error", err)
		}
		job.Status, job.RepairedBars, job.Message = domain.RepairFailed, repaired, repairErr.Error()
		return job, repairErr
	}

	if err := s.st.FinalizeRepairJob(ctx, job.JobID, domain.RepairDone, repaired, ""); err != nil {
		return job, fmt.Errorf("finalize repair job: %w", err)
	}
	job.Status, job.RepairedBars = domain.RepairDone, repaired

	ev := domain.IntegrityEvent{
		Symbol: symbol, Timeframe: timeframe, EventType: domain.IntegrityRepair,
		StartTs: rangeStart, EndTs: rangeEnd, MissingBars: repaired,
		Severity: severityFor(repaired), DetectedAtS: s.clk.NowS(), RepairJobID: job.JobID,
	}
	if err := s.st.InsertIntegrityEvent(ctx, &ev); err != nil {
		return job, fmt.Errorf("insert repair event: %w", err)
	}
	return job, nil
}

func (s *Scanner) repairByRefetch(ctx context.Context, symbol, timeframe string, rangeStart, rangeEnd int64) (int64, error) {
	var total int64
	since := rangeStart
	for page := 0; page < maxRefetchPages; page++ {
		candles, err := s.gw.FetchOHLCV(ctx, symbol, timeframe, &since, ingestion.BarsPerRequest)
		if err != nil {
			return total, fmt.Errorf("refetch ohlcv: %w", err)
		}
		if len(candles) == 0 {
			return total, nil
		}

		var rows []domain.Candle
		lastTs := since
		for _, c := range candles {
			if c.TsMs > rangeEnd {
				break
			}
			rows = append(rows, domain.Candle{Symbol: symbol, Timeframe: timeframe, TsMs: c.TsMs,
				Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
			lastTs = c.TsMs
		}
		n, err := s.st.UpsertCandles(ctx, rows)
		if err != nil {
			return total, fmt.Errorf("upsert refetched candles: %w", err)
		}
		total += n

		if lastTs >= rangeEnd || len(candles) < ingestion.BarsPerRequest {
			return total, nil
		}
		interval, err := ingestion.TimeframeMs(timeframe)
		if err != nil {
			return total, err
		}
		since = lastTs + interval
	}
	return total, nil
}

func (s *Scanner) repairByFill(ctx context.Context, symbol, timeframe string, rangeStart, rangeEnd int64) (int64, error) {
	interval, err := ingestion.TimeframeMs(timeframe)
	if err != nil {
		return 0, err
	}

	preceding, err := s.st.CandlesInRange(ctx, symbol, timeframe, rangeStart-interval, rangeStart-interval)
	if err != nil {
		return 0, fmt.Errorf("load preceding candle: %w", err)
	}
	var fillPrice decimal.Decimal
	if len(preceding) > 0 {
		fillPrice = preceding[0].Close
	}

	var rows []domain.Candle
	for ts := rangeStart; ts <= rangeEnd; ts += interval {
		rows = append(rows, domain.Candle{
			Symbol: symbol, Timeframe: timeframe, TsMs: ts,
			Open: fillPrice, High: fillPrice, Low: fillPrice, Close: fillPrice, Volume: decimal.Zero,
		})
	}
	n, err := s.st.UpsertCandles(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("upsert filled candles: %w", err)
	}
	return n, nil
}
