// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solsniperx/internal/api"
	"github.com/rovshanmuradov/solsniperx/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/license"
	"github.com/rovshanmuradov/solsniperx/internal/logger"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/metrics"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/storage"
	"github.com/rovshanmuradov/solsniperx/internal/storage/sqlite"
	"github.com/rovshanmuradov/solsniperx/internal/surveillance"
	"github.com/rovshanmuradov/solsniperx/internal/trader"
	"github.com/rovshanmuradov/solsniperx/internal/wallet"
)

const (
	licenseHeartbeat = time.Hour
	upstreamTimeout  = 20 * time.Second
)

// Runner wires every collaborator from Config and runs them until a signal
// arrives or one of them fails.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	shutdown *ShutdownHandler
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		shutdown: NewShutdownHandler(logger, 0),
	}
}

// services is the wired object graph.
type services struct {
	controller *trader.Controller
	supervisor *surveillance.Supervisor
	recorder   *storage.Recorder
	server     *api.Server
	validator  *license.Validator
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator := license.NewValidator(license.Settings{
		Key:          r.cfg.License,
		AccountID:    r.cfg.KeygenAccountID,
		ProductID:    r.cfg.KeygenProductID,
		ProductToken: r.cfg.KeygenProductToken,
	}, r.logger)
	if err := validator.Check(ctx); err != nil {
		return fmt.Errorf("license validation failed: %w", err)
	}

	svc, err := r.build(ctx)
	if err != nil {
		_ = r.shutdown.Shutdown(context.Background())
		return err
	}
	svc.validator = validator

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.controller.Run(gctx) })
	g.Go(func() error { return svc.recorder.Run(gctx) })
	g.Go(func() error { return svc.server.Start(gctx) })
	g.Go(func() error { return svc.validator.Heartbeat(gctx, licenseHeartbeat) })
	if svc.supervisor != nil {
		g.Go(func() error {
			// A persistent failure is surfaced through the status endpoint
			// and metrics; trading and the API keep running.
			if err := svc.supervisor.Run(gctx); err != nil {
				r.logger.Error("❌ Chain surveillance stopped", zap.Error(err))
			}
			return nil
		})
	}

	r.logger.Info("🚀 solsniperx running",
		zap.String("http_addr", r.cfg.HTTPAddr),
		zap.Bool("surveillance", svc.supervisor != nil))

	runErr := g.Wait()
	r.logger.Info("👋 Shutting down")
	if err := r.shutdown.Shutdown(context.Background()); err != nil {
		r.logger.Warn("Shutdown finished with errors", zap.Error(err))
	}
	return runErr
}

func (r *Runner) build(ctx context.Context) (*services, error) {
	cfg, log := r.cfg, r.logger

	bus := events.NewBus(log, cfg.EventBufferSize)
	collector := metrics.NewCollector()
	httpClient := &http.Client{Timeout: upstreamTimeout}

	journal, err := sqlite.Open(cfg.DatabasePath, log)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	recorder := storage.NewRecorder(journal, cfg.EventBufferSize, log)
	recorder.Attach(bus)

	hub := api.NewHub(collector, log)
	bus.SubscribeAll(hub)

	// Closed LIFO: hub, bus, journal flush, journal.
	r.shutdown.Add("journal", journal)
	r.shutdown.AddFunc("journal_flush", func() error {
		flushCtx, cancel := context.WithCancel(context.Background())
		cancel()
		return recorder.Run(flushCtx)
	})
	r.shutdown.Add("event_bus", bus)
	r.shutdown.Add("ws_hub", hub)

	w, err := wallet.NewWallet(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	chain := solbc.NewClient(cfg.RPCURL, log)
	balances := wallet.NewBalances(w, chain)
	r.logWallet(ctx, w, balances)

	marketClient := market.NewClient(market.ClientConfig{
		DexscreenerURL: cfg.DexscreenerURL,
		BirdeyeURL:     cfg.BirdeyeURL,
		BirdeyeAPIKey:  cfg.BirdeyeAPIKey,
		HTTPClient:     httpClient,
		Logger:         log,
	})
	scorer := scoring.NewLLMScorer(scoring.LLMConfig{
		BaseURL:    cfg.LLMURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		HTTPClient: httpClient,
		Logger:     log,
	})
	exec := executor.NewService(
		executor.NewJupiter(cfg.JupiterURL, httpClient, log),
		chain, balances, w, log,
	)

	store := config.NewTradingStore(cfg.TradingConfigPath, log)
	if _, err := store.Load(); err != nil {
		return nil, fmt.Errorf("load trading config: %w", err)
	}

	controller := trader.NewController(trader.Deps{
		Market:    marketClient,
		Scorer:    scorer,
		Executor:  exec,
		Balances:  balances,
		Config:    store,
		Publisher: bus,
		Metrics:   collector,
		Logger:    log,
	}, trader.Options{
		Interval:         cfg.ScanInterval(),
		ExecutionTimeout: cfg.ExecutionTimeout(),
	})

	var supervisor *surveillance.Supervisor
	serverCfg := api.ServerConfig{
		Addr:          cfg.HTTPAddr,
		Trader:        controller,
		Trades:        journal,
		Market:        marketClient,
		Scorer:        scorer,
		Orders:        exec,
		Wallet:        balances,
		WalletAddress: w.String(),
		OrderTimeout:  cfg.ExecutionTimeout(),
		Hub:           hub,
		Metrics:       collector.Handler(),
		Logger:        log,
	}
	if cfg.Surveillance.Enabled {
		supervisor = r.buildSurveillance(chain, marketClient, bus, collector, controller)
		serverCfg.Surveillance = supervisor
	} else {
		log.Info("Chain surveillance disabled")
	}

	server, err := api.NewServer(serverCfg)
	if err != nil {
		return nil, err
	}

	return &services{
		controller: controller,
		supervisor: supervisor,
		recorder:   recorder,
		server:     server,
	}, nil
}

func (r *Runner) buildSurveillance(
	chain *solbc.Client,
	lookup surveillance.SnapshotLookup,
	bus *events.Bus,
	collector *metrics.Collector,
	controller *trader.Controller,
) *surveillance.Supervisor {
	sc := r.cfg.Surveillance
	log := logger.WithComponent(r.logger, "surveillance")

	pipeline := surveillance.NewPipeline(
		surveillance.NewRPCInspector(chain, log),
		lookup, bus, collector,
		surveillance.PipelineConfig{
			LargeTransferThreshold: sc.LargeTransferThreshold,
			InspectTimeout:         sc.InspectTimeout(),
		},
		log,
	)
	pipeline.OnEvent(controller.OnSurveillanceEvent)

	source := surveillance.NewLiveSource(surveillance.LiveSourceConfig{
		URL:          r.cfg.WebSocketURL,
		Commitment:   sc.Commitment,
		Mentions:     sc.Mentions,
		PingInterval: sc.PingInterval(),
		IdleTimeout:  sc.IdleTimeout(),
	}, log)

	return surveillance.NewSupervisor(source, pipeline, bus, collector, surveillance.SupervisorConfig{
		MaxAttempts:    sc.MaxReconnectAttempts,
		InitialBackoff: sc.InitialBackoff(),
		MaxBackoff:     sc.MaxBackoff(),
		MinUptime:      sc.MinUptime(),
	}, log)
}

func (r *Runner) logWallet(ctx context.Context, w *wallet.Wallet, balances *wallet.Balances) {
	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	sol, err := balances.SOLBalance(ctx)
	if err != nil {
		r.logger.Warn("Could not read wallet balance", zap.String("wallet", w.String()), zap.Error(err))
		return
	}
	r.logger.Info("💼 Wallet loaded",
		zap.String("wallet", w.String()),
		zap.String("sol", sol.String()))
}
