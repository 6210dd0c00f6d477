package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/domain"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/pkg/apperrors"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

// BarsPerRequest bounds a single FetchOHLCV call; the engine pages forward
// from the resume point rather than requesting unbounded history in one call.
const BarsPerRequest = 300

// errSkipped signals that the exchange reply lacked the mandatory field for
// a single-row ingestion; the run row finalizes as skipped, not failed.
var errSkipped = errors.New("ingestion: mandatory field absent")

// Engine drives the four ingestion operations against one
// Gateway and Store pair.
type Engine struct {
	gw       exchange.Gateway
	st       *store.Store
	clk      clock.Clock
	log      logging.Logger
	pipeline failsafe.Executor[int64]
}

// NewEngine wires an ingestion Engine. Transient gateway failures inside a
// run are retried with bounded backoff before the run row is finalized.
func NewEngine(gw exchange.Gateway, st *store.Store, clk clock.Clock, log logging.Logger) *Engine {
	retryPolicy := retrypolicy.NewBuilder[int64]().
		HandleIf(func(_ int64, err error) bool { return apperrors.IsTransient(err) }).
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(2).
		Build()
	return &Engine{gw: gw, st: st, clk: clk, log: log, pipeline: failsafe.With[int64](retryPolicy)}
}

func (e *Engine) run(ctx context.Context, source, symbol, timeframe, dataType string, fn func(ctx context.Context) (int64, error)) error {
	run := &domain.IngestionRun{Source: source, Symbol: symbol, Timeframe: timeframe, DataType: dataType, StartedAtS: e.clk.NowS()}
	if err := e.st.BeginIngestionRun(ctx, run); err != nil {
		return fmt.Errorf("begin ingestion run: %w", err)
	}

	rows, runErr := e.pipeline.GetWithExecution(func(_ failsafe.Execution[int64]) (int64, error) {
		return fn(ctx)
	})

	endedAt := e.clk.NowS()
	status := domain.IngestionSuccess
	errMsg := ""
	switch {
	case errors.Is(runErr, errSkipped):
		status = domain.IngestionSkipped
		runErr = nil
	case runErr != nil:
		status = domain.IngestionFailed
		errMsg = runErr.Error()
		e.log.Error("ingestion run failed", "source", source, "symbol", symbol, "timeframe", timeframe, "data_type", dataType, "error", runErr)
	}
	if err := e.st.FinalizeIngestionRun(ctx, run.ID, status, rows, endedAt, errMsg); err != nil {
		e.log.Error("finalize ingestion run failed", "error", err)
	}
	return runErr
}

// OHLCVOptions tunes one IngestOHLCV invocation. The zero value means
// "resume from the last stored bar, unbounded, no overlap".
type OHLCVOptions struct {
	// SinceMs seeds the backfill when nothing is stored yet (or always,
	// when OverrideSince is set). Zero means now minus DefaultLookback.
	SinceMs int64
	// MaxBars stops the backfill after roughly this many bars; zero is
	// unbounded.
	MaxBars int64
	// OverrideSince skips the last-stored-bar resume and starts at SinceMs.
	OverrideSince bool
	// OverlapBars re-fetches this many trailing bars below the resume point
	// to absorb late revisions of recently closed candles.
	OverlapBars int
}

// DefaultLookback seeds a fresh (symbol,timeframe) series when no explicit
// since is given.
const DefaultLookback = 30 * 24 * time.Hour

// IngestOHLCV pulls candles for (symbol,timeframe) forward to the present,
// paging in BarsPerRequest chunks and upserting with do-nothing on
// conflict, so overlapping invocations are idempotent.
func (e *Engine) IngestOHLCV(ctx context.Context, symbol, timeframe string, opts OHLCVOptions) (int64, error) {
	var total int64
	err := e.run(ctx, "okx", symbol, timeframe, "ohlcv", func(ctx context.Context) (int64, error) {
		barMs, err := TimeframeMs(timeframe)
		if err != nil {
			return 0, err
		}

		start := opts.SinceMs
		if start == 0 {
			start = e.clk.NowMs() - DefaultLookback.Milliseconds()
		}
		if !opts.OverrideSince {
			if last, ok, err := e.st.LastCandleTs(ctx, symbol, timeframe); err != nil {
				return 0, fmt.Errorf("last candle ts: %w", err)
			} else if ok {
				start = last + barMs - int64(opts.OverlapBars)*barMs
			}
		}
		since := &start

		for {
			candles, err := e.gw.FetchOHLCV(ctx, symbol, timeframe, since, BarsPerRequest)
			if err != nil {
				return total, fmt.Errorf("fetch ohlcv: %w", err)
			}
			if len(candles) == 0 {
				break
			}

			rows := make([]domain.Candle, len(candles))
			for i, c := range candles {
				rows[i] = domain.Candle{Symbol: symbol, Timeframe: timeframe, TsMs: c.TsMs,
					Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			}
			n, err := e.st.UpsertCandles(ctx, rows)
			if err != nil {
				return total, fmt.Errorf("upsert candles: %w", err)
			}
			total += n
			telemetry.CandlesIngestedTotal.WithLabelValues(symbol, timeframe).Add(float64(n))

			last := candles[len(candles)-1].TsMs
			next := last + barMs
			since = &next
			if len(candles) < BarsPerRequest {
				break
			}
			if opts.MaxBars > 0 && total >= opts.MaxBars {
				break
			}
		}
		return total, nil
	})
	return total, err
}

// IngestFundingRate pulls the current funding observation for symbol.
func (e *Engine) IngestFundingRate(ctx context.Context, symbol string) (int64, error) {
	var inserted int64
	err := e.run(ctx, "okx", symbol, "", "funding_rate", func(ctx context.Context) (int64, error) {
		fr, err := e.gw.FetchFundingRate(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("fetch funding rate: %w", err)
		}
		if fr.TsMs == 0 {
			return 0, errSkipped
		}
		ok, err := e.st.UpsertFundingRate(ctx, domain.FundingRate{
			Symbol: symbol, TsMs: fr.TsMs, Rate: fr.Rate, NextFundingTs: fr.NextFundingTs,
		})
		if err != nil {
			return 0, fmt.Errorf("upsert funding rate: %w", err)
		}
		if ok {
			inserted = 1
		}
		return inserted, nil
	})
	return inserted, err
}

// IngestPriceSnapshot pulls last/mark/index price for symbol.
func (e *Engine) IngestPriceSnapshot(ctx context.Context, symbol string) (int64, error) {
	var inserted int64
	err := e.run(ctx, "okx", symbol, "", "price_snapshot", func(ctx context.Context) (int64, error) {
		t, err := e.gw.FetchTicker(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("fetch ticker: %w", err)
		}
		if t.TsMs == 0 {
			return 0, errSkipped
		}
		ok, err := e.st.UpsertPriceSnapshot(ctx, domain.PriceSnapshot{
			Symbol: symbol, TsMs: t.TsMs, Last: t.Last, Mark: t.Mark, Index: t.Index,
		})
		if err != nil {
			return 0, fmt.Errorf("upsert price snapshot: %w", err)
		}
		if ok {
			inserted = 1
		}
		return inserted, nil
	})
	return inserted, err
}

// IngestOpenInterest pulls the current open-interest reading for symbol.
func (e *Engine) IngestOpenInterest(ctx context.Context, symbol string) (int64, error) {
	var inserted int64
	err := e.run(ctx, "okx", symbol, "", "open_interest", func(ctx context.Context) (int64, error) {
		oi, err := e.gw.FetchOpenInterest(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("fetch open interest: %w", err)
		}
		if oi.TsMs == 0 {
			return 0, errSkipped
		}
		ok, err := e.st.UpsertOpenInterest(ctx, domain.OpenInterest{
			Symbol: symbol, TsMs: oi.TsMs, Contracts: oi.Contracts, ValueCcy: oi.ValueCcy,
		})
		if err != nil {
			return 0, fmt.Errorf("upsert open interest: %w", err)
		}
		if ok {
			inserted = 1
		}
		return inserted, nil
	})
	return inserted, err
}

// IngestAll runs every data-type ingestion for symbol across every
// timeframe, continuing past individual failures so one bad timeframe does
// not block the rest. A rate-limit sleep separates timeframes.
func (e *Engine) IngestAll(ctx context.Context, symbol string, timeframes []string, opts OHLCVOptions) []error {
	var errs []error
	for i, tf := range timeframes {
		if i > 0 {
			e.clk.Sleep(e.gw.RateLimit())
		}
		if _, err := e.IngestOHLCV(ctx, symbol, tf, opts); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := e.IngestFundingRate(ctx, symbol); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.IngestPriceSnapshot(ctx, symbol); err != nil {
		errs = append(errs, err)
	}
	if _, err := e.IngestOpenInterest(ctx, symbol); err != nil {
		errs = append(errs, err)
	}
	return errs
}
