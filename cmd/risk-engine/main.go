package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/cmd/common"
	"github.com/ducminhle1904/crypto-risk-core/internal/api"
	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/engine"
	"github.com/ducminhle1904/crypto-risk-core/internal/exchange/adapters"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/monitoring"
	"github.com/ducminhle1904/crypto-risk-core/internal/notifications"
	"github.com/ducminhle1904/crypto-risk-core/internal/recovery"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
	"github.com/ducminhle1904/crypto-risk-core/internal/state"
	"github.com/ducminhle1904/crypto-risk-core/internal/strategy"
	"github.com/ducminhle1904/crypto-risk-core/pkg/reporting"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., risk.json, looked up under configs/)")
		envFile    = flag.String("env", ".env", "Environment file path")
		dryRun     = flag.Bool("dry-run", false, "Trade a paper account priced from live market data")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("risk-engine")
		return
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("Warning: could not load env file %s: %v", *envFile, err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dryRun {
		cfg.Engine.DryRun = true
	}
	if *debug {
		cfg.Debug = true
	}

	if err := run(cfg); err != nil {
		log.Fatalf("risk engine stopped: %v", err)
	}
}

func run(cfg *config.Config) error {
	root, err := logger.NewFileLogger(cfg.LogDir, "risk_engine", logger.DefaultRotation())
	if err != nil {
		return err
	}
	defer root.Close()
	root.SetDebug(cfg.Debug)
	root.Status("%s %s starting (%s)", common.ProjectName, common.GetFullVersion(), cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := state.Open(ctx, cfg.Storage, root.With("STATE"))
	if err != nil {
		return fmt.Errorf("open %s repository: %w", cfg.Storage.Driver, err)
	}

	metrics := monitoring.NewMetrics()
	observers := risk.Observers{metrics}
	alerter := newAlerter(cfg.Notifications, root.With("ALERTS"))
	if alerter != nil {
		observers = append(observers, alerter)
	}
	manager, err := risk.NewManager(ctx, risk.Options{
		Limits:            cfg.Risk,
		Metrics:           cfg.Metrics,
		Repository:        repo,
		Logger:            root.With("RISK"),
		Observer:          observers,
		OverrideTokenHash: cfg.API.OverrideTokenHash,
	})
	if err != nil {
		repo.Close()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			root.LogError("final checkpoint", err)
		}
	}()
	if loadErr := manager.LoadError(); loadErr != nil {
		root.Risk("trading halted until an operator resumes: %v", loadErr)
	}
	health := monitoring.NewHealthChecker(manager)

	gateway, stream, err := adapters.NewGateway(cfg.Exchange, cfg.Engine, []string{cfg.Symbol}, root.With("EXCHANGE"))
	if err != nil {
		return err
	}
	dca, err := strategy.NewDCAStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	rc := recovery.DefaultConfig()
	rc.MaxConsecutiveFailures = cfg.Engine.MaxConsecutiveCycleErrors
	eng, err := engine.New(engine.Options{
		Symbol:             cfg.Symbol,
		Interval:           cfg.Engine.Interval.Std(),
		RollupInterval:     cfg.Engine.RollupInterval.Std(),
		CheckpointInterval: cfg.Engine.CheckpointInterval.Std(),
		Gateway:            gateway,
		Strategy:           dca,
		Risk:               manager,
		Recovery:           recovery.NewHandler(rc, root.With("RECOVERY")),
		Metrics:            metrics,
		Health:             health,
		Logger:             root,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.API.ListenAddr, api.Options{
		Risk:    manager,
		OnStop:  eng,
		Engine:  eng,
		Health:  health,
		Metrics: metrics.Handler(),
		Limiter: safety.NewRateLimiter("control_api", cfg.API.RateLimitBurst, cfg.API.RateLimitPerSec),
		Logger:  root,
	})

	reporting.RenderStatus(os.Stdout, manager.Status())

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		if alerter != nil {
			alerter.Run(alertCtx)
		}
	}()

	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		root.Status("shutdown signal received")
	case runErr = <-serverErr:
		root.LogError("control API", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		root.LogError("control API shutdown", err)
	}
	wg.Wait()
	stopAlerts()
	<-alertsDone

	reporting.RenderEngine(os.Stdout, eng.Stats())
	root.Status("risk engine stopped")
	return runErr
}

// newAlerter returns nil when Telegram is not configured or unreachable; alerts
// are optional and never block startup.
func newAlerter(cfg config.NotificationsConfig, log *logger.Logger) *notifications.Alerter {
	if !cfg.Enabled() {
		return nil
	}
	tg, err := notifications.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.LogWarning("telegram", "alerts disabled: %v", err)
		return nil
	}
	log.Info("telegram alerts enabled via @%s", tg.BotName())
	return notifications.NewAlerter(tg, cfg.QueueSize, log)
}
