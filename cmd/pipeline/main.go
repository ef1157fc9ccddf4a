// Package main is the entry point for the strategy execution pipeline:
// it wires market-data ingestion, order-flow analysis, regime warnings,
// risk management, the strategy registry, and the execution cycle loop
// into one running process, plus the telemetry/store/config ambient
// stack around them.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/feedback"
	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/orderflow"
	"github.com/atlas-desktop/trading-backend/internal/regime"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/internal/telemetry"
	"github.com/atlas-desktop/trading-backend/pkg/market"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// marketDataAdapter satisfies executor.MarketDataProvider off a
// marketdata.Processor's snapshot.
type marketDataAdapter struct {
	processor *marketdata.Processor
}

func (a marketDataAdapter) GetLatestMarketData(_ context.Context, symbol market.Symbol) (*market.Data, error) {
	return a.processor.Snapshot(symbol)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults + env if omitted)")
	symbolsFlag := flag.String("symbols", "BTC/USD,ETH/USD,SOL/USD", "comma-separated symbols to trade")
	storeKind := flag.String("store", "memory", "durable store backend: memory or sqlite")
	storePath := flag.String("store-path", "./pipeline.db", "sqlite store file path (only used when -store=sqlite)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	telemetryHost := flag.String("telemetry-host", "127.0.0.1", "telemetry HTTP/WS bind host")
	telemetryPort := flag.Int("telemetry-port", 9090, "telemetry HTTP/WS bind port")
	feedIntervalMs := flag.Int64("feed-interval-ms", 500, "synthetic market-data feed tick interval")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	symbols := parseSymbols(*symbolsFlag)

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting strategy execution pipeline",
		zap.Strings("symbols", symbolsToStrings(symbols)),
		zap.String("execution_mode", cfg.ExecutionMode),
		zap.String("store", *storeKind),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	durableStore, closeStore := mustOpenStore(logger, *storeKind, *storePath)
	defer closeStore()

	telemetry.Init()
	eventBus := telemetry.NewEventBus(logger, telemetry.DefaultEventBusConfig())
	reporter := telemetry.NewReporter(logger, eventBus)

	serverCfg := telemetry.DefaultServerConfig()
	serverCfg.Host = *telemetryHost
	serverCfg.Port = *telemetryPort
	telemetryServer := telemetry.NewServer(logger, serverCfg, eventBus)

	processor := marketdata.New(logger, marketdata.DefaultConfig())
	flowAnalyzer := orderflow.New(logger, orderflow.DefaultConfig())
	regimeEngine := regime.New(logger, cfg.ToRegimeConfig())

	riskMgr := risk.New(logger, cfg.ToRiskConfig())
	if cfg.RiskManager.UseRegimeSizing {
		riskMgr.SetRegimeSource(regimeEngine)
	}

	drawdownTracker := feedback.NewDrawdownTracker(logger, feedback.DefaultDrawdownBands())
	attributionEngine := feedback.NewAttributionEngine(logger, feedback.DefaultAttributionConfig())
	factorEngine := feedback.NewFactorAnalysisEngine(logger, feedback.DefaultFactorAnalysisConfig())
	governanceEnforcer := feedback.NewGovernanceEnforcer(logger, feedback.DefaultGovernanceConfig())
	riskMgr.SetDrawdownSource(drawdownTracker)

	registry := strategy.NewDefaultRegistry(logger)
	for _, name := range registry.Names() {
		s, ok := registry.Get(name)
		if !ok {
			continue
		}
		riskMgr.RegisterStrategy(s.Name(), s.RiskProfile())
	}
	logger.Info("registered strategies", zap.Strings("strategies", registry.Names()))

	execService := executor.NewPaperExecutionService()
	exec := executor.New(
		logger,
		cfg.ToExecutorConfig(),
		registry,
		symbols,
		riskMgr,
		marketDataAdapter{processor: processor},
		execService,
	)
	exec.SetReporter(reporter)
	exec.SetDrawdownTracker(drawdownTracker)
	exec.SetAttributionEngine(attributionEngine)
	exec.SetFactorAnalysisEngine(factorEngine)
	exec.SetGovernanceEnforcer(governanceEnforcer)

	if err := loader.Watch(logger, func(rw config.RegimeWarningConfig) {
		regimeEngine.UpdateIndicators(rw.ToRegimeConfig().Indicators)
	}); err != nil {
		logger.Warn("config hot-reload watch failed to start", zap.Error(err))
	}

	feed := newFeedGenerator(logger, symbols, time.Duration(*feedIntervalMs)*time.Millisecond, processor, flowAnalyzer, regimeEngine, durableStore)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return feed.Run(groupCtx) })
	group.Go(func() error { return regimeEngine.Poll(groupCtx) })
	group.Go(func() error { return exec.Run(groupCtx) })
	group.Go(func() error {
		if err := telemetryServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := telemetryServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during telemetry server shutdown", zap.Error(err))
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline exited with error", zap.Error(err))
	}

	logger.Info("pipeline stopped")
}

func mustOpenStore(logger *zap.Logger, kind, path string) (store.Store, func()) {
	switch kind {
	case "sqlite":
		s, err := store.NewSQLiteStore(logger, path)
		if err != nil {
			logger.Fatal("failed to open sqlite store", zap.Error(err))
		}
		return s, func() { _ = s.Close() }
	default:
		s := store.NewMemoryStore(logger)
		return s, func() { _ = s.Close() }
	}
}

func parseSymbols(raw string) []market.Symbol {
	parts := strings.Split(raw, ",")
	symbols := make([]market.Symbol, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		symbols = append(symbols, market.Symbol(p))
	}
	return symbols
}

func symbolsToStrings(symbols []market.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = string(s)
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
