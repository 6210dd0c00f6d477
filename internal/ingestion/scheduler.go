package ingestion

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/vantapoint/perpcore/internal/logging"
)

// Scheduler ticks the ingestion Engine across every configured symbol on a
// cron schedule. Ticks never overlap: a tick that comes due while the
// previous one is still running is skipped.
type Scheduler struct {
	engine      *Engine
	symbols     []string
	timeframes  []string
	overlapBars int
	log         logging.Logger
	cron        *cron.Cron
}

// NewScheduler builds a Scheduler that has not yet been started. overlapBars
// is how far below the resume point each tick re-fetches, so late revisions
// of recently closed bars are absorbed by the idempotent upsert.
func NewScheduler(engine *Engine, symbols, timeframes []string, overlapBars int, log logging.Logger) *Scheduler {
	return &Scheduler{
		engine:      engine,
		symbols:     symbols,
		timeframes:  timeframes,
		overlapBars: overlapBars,
		log:         log,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the ingestion tick at spec and begins running it in the
// background. Ctx bounds every tick's gateway calls, not the scheduler's
// own lifetime; callers stop the scheduler with Stop.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts future ticks and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, symbol := range s.symbols {
		for _, err := range s.engine.IngestAll(ctx, symbol, s.timeframes, OHLCVOptions{OverlapBars: s.overlapBars}) {
			s.log.Warn("ingestion tick error", "symbol", symbol, "error", err)
		}
	}
}
