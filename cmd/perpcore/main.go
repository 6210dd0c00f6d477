package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vantapoint/perpcore/internal/account"
	"github.com/vantapoint/perpcore/internal/clock"
	"github.com/vantapoint/perpcore/internal/config"
	"github.com/vantapoint/perpcore/internal/decision"
	"github.com/vantapoint/perpcore/internal/exchange"
	"github.com/vantapoint/perpcore/internal/executor"
	"github.com/vantapoint/perpcore/internal/ingestion"
	"github.com/vantapoint/perpcore/internal/logging"
	"github.com/vantapoint/perpcore/internal/portfolio"
	"github.com/vantapoint/perpcore/internal/regime"
	"github.com/vantapoint/perpcore/internal/risk"
	"github.com/vantapoint/perpcore/internal/store"
	"github.com/vantapoint/perpcore/internal/strategy"
	"github.com/vantapoint/perpcore/internal/tracker"
	"github.com/vantapoint/perpcore/internal/tradecycle"
	"github.com/vantapoint/perpcore/pkg/telemetry"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/perpcore.yaml", "Path to configuration file")
	equity := flag.Float64("equity", 0, "Override total equity (USDT)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("perpcore version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting perpcore", "version", version,
		"symbols", cfg.Symbols, "executor", cfg.Trading.Executor, "trading_enabled", cfg.Trading.Enabled)

	if err := run(cfg, logger, *equity); err != nil && err != context.Canceled {
		logger.Error("perpcore exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("perpcore stopped")
}

func run(cfg *config.Config, logger logging.Logger, equityOverride float64) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// OTel instruments (exchange request spans/counters) land on the same
	// prometheus registry the metrics endpoint serves.
	if err := telemetry.InitOTel(); err != nil {
		logger.Warn("init otel metrics bridge", "error", err)
	}

	clk := clock.System{}
	rest := exchange.NewRESTClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey,
		cfg.Exchange.SecretKey, cfg.Exchange.Passphrase, cfg.Exchange.IsDemo, cfg.ExchangeTimeout())
	gw := exchange.NewOKXGateway(rest, cfg.Exchange.RateLimitMs)

	riskCfg := risk.Config{
		MaxNotional:   decimal.NewFromFloat(cfg.Risk.MaxNotional),
		MaxLeverage:   decimal.NewFromFloat(cfg.Risk.MaxLeverage),
		MinConfidence: cfg.Risk.MinConfidence,
	}

	var exec executor.Executor
	if cfg.Trading.Executor == "live" {
		exec = executor.NewLive(gw, st, clk, logger.WithField("component", "executor"), riskCfg, cfg.Exchange)
	} else {
		exec = executor.NewSimulated(st, clk, logger.WithField("component", "executor"), riskCfg)
	}

	source := decision.NewPortfolio(st, strategy.NewRegistry(), clk,
		logger.WithField("component", "decision"),
		regime.Thresholds{AdxThreshold: cfg.Regime.AdxThreshold, BBWidthThreshold: cfg.Regime.BBWidthThreshold},
		portfolio.SchedulerConfig{MinScore: cfg.Portfolio.MinScore, TopN: cfg.Portfolio.TopN})

	trk := tracker.New(gw, st, clk, logger.WithField("component", "tracker"))
	accounts := account.New(gw, st, clk, logger.WithField("component", "account"))

	runner := tradecycle.NewRunner(cfg, st, clk, logger.WithField("component", "tradecycle"), source, exec)
	runner.Accounts = accounts
	runner.Orders = trk
	if equityOverride > 0 {
		runner.EquityOverride = decimal.NewFromFloat(equityOverride)
	}

	engine := ingestion.NewEngine(gw, st, clk, logger.WithField("component", "ingestion"))
	scheduler := ingestion.NewScheduler(engine, cfg.Symbols, cfg.Exchange.Timeframes,
		cfg.Trading.OverlapBars, logger.WithField("component", "ingest_scheduler"))

	g, ctx := errgroup.WithContext(ctx)

	// Metrics endpoint.
	metricsSrv := &http.Server{Addr: cfg.Trading.MetricsAddr, Handler: promhttp.Handler()}
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutCtx)
	})

	// Ingestion scheduler.
	if err := scheduler.Start(ctx, cfg.Trading.IngestCron); err != nil {
		return fmt.Errorf("start ingestion scheduler: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})

	// Order sync loop.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Trading.OrderSyncS) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := trk.SyncOrders(ctx, nil, true); err != nil {
					logger.Warn("order sync loop", "error", err)
				}
			}
		}
	})

	// Trading cycle loop.
	g.Go(func() error {
		runner.Loop(ctx, cfg.Symbols)
		return nil
	})

	return g.Wait()
}
