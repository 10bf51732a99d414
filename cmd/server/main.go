// Package main wires the trading decision engine together: configuration,
// logging, the LLM Provider Manager, the versioned Prompt Store, the eleven
// Orchestration Graph agents, the Strategy Planner, the Rule Engine, the
// Three-Layer Scheduler, and a minimal status HTTP surface. Grounded on the
// teacher's cmd/server/main.go flag-parsing/logger-setup sequence,
// generalized from its regime-detection stack to this engine's agent/graph/
// scheduler stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/internal/api"
	"github.com/atlas-ai/trading-engine/internal/config"
	"github.com/atlas-ai/trading-engine/internal/data"
	"github.com/atlas-ai/trading-engine/internal/events"
	"github.com/atlas-ai/trading-engine/internal/execution"
	"github.com/atlas-ai/trading-engine/internal/graph"
	"github.com/atlas-ai/trading-engine/internal/instrument"
	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/planner"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/ruleengine"
	"github.com/atlas-ai/trading-engine/internal/scheduler"
	"github.com/atlas-ai/trading-engine/internal/sizing"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to the configuration file")
	promptsDir := flag.String("prompts", "./data/prompts", "Prompt Store root directory")
	dataDir := flag.String("data", "./data/market", "Market-data history directory")
	accountValue := flag.Float64("account-value", 100000, "Account value used by the risk agents' sizing arithmetic")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Environment)
	defer logger.Sync()

	logger.Info("starting trading decision engine",
		zap.String("instrument", cfg.Instrument.Symbol),
		zap.String("venue", cfg.Instrument.Venue),
		zap.String("environment", cfg.Environment),
	)

	profile := instrument.Detect(cfg.Instrument.Symbol, cfg.Instrument.Venue, cfg.Instrument.DataSource)

	promptStore, err := prompts.NewFileStore(*promptsDir, prompts.DefaultPrompts)
	if err != nil {
		logger.Fatal("failed to initialize prompt store", zap.Error(err))
	}

	eventBus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	alerts := events.NewAlertRouter(logger, eventBus)
	defer alerts.Stop()

	llmMgr, err := llm.NewManager(logger, cfg.LLM, llm.NewHTTPAdapter("", llm.BearerAuth), alerts)
	if err != nil {
		logger.Fatal("failed to initialize llm manager", zap.Error(err))
	}

	marketData := data.NewBinanceFeed(logger, data.DefaultBinanceFeedConfig(cfg.Instrument.Symbol))
	history, err := data.NewHistoryStore(*dataDir)
	if err != nil {
		logger.Fatal("failed to initialize market history store", zap.Error(err))
	}
	for _, tf := range []types.Timeframe{types.Timeframe1m, types.Timeframe5m, types.Timeframe15m} {
		if err := history.WarmStart(marketData, cfg.Instrument.Symbol, tf); err != nil {
			logger.Warn("failed to warm-start market history", zap.String("timeframe", string(tf)), zap.Error(err))
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if err := marketData.Start(runCtx); err != nil {
		logger.Fatal("failed to start market data feed", zap.Error(err))
	}
	defer marketData.Stop()

	broker := execution.NewPaperBroker(logger, &profile, marketData, nil, nil)
	cache := interfaces.NewInMemoryKVCache()
	docs := interfaces.NewInMemoryDocumentStore()

	g := buildGraph(promptStore, llmMgr, logger, &profile, broker, *accountValue)

	strategyPlanner := planner.New(promptStore, llmMgr, logger, &profile, marketData, nil, cache,
		time.Duration(profile.OptimalCadenceMinutes)*time.Minute, time.Now)
	defer strategyPlanner.Stop()

	engine := ruleengine.NewEngine(logger, broker, alerts)

	sched := scheduler.New(logger, &profile, g, strategyPlanner, engine, marketData, nil, cache, docs, alerts,
		scheduler.Config{
			StrategicInterval: cfg.Scheduler.StrategicInterval,
			StrategicDeadline: cfg.Scheduler.StrategicDeadline,
			TacticalInterval:  cfg.Scheduler.TacticalInterval,
			ExecutionInterval: cfg.Scheduler.ExecutionInterval,
		}, time.Now)
	if cfg.Scheduler.ReviewEnabled {
		sched = sched.WithReview(agents.NewReviewAgent(promptStore, llmMgr, logger))
	}

	statusServer := api.NewServer(logger, &cfg.Server, docs)
	go func() {
		if err := statusServer.Start(); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusServer.Stop(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", zap.Error(err))
		}
	}()

	// Scheduler.Run installs its own SIGINT/SIGTERM handler and blocks until
	// shutdown, so main does not duplicate signal handling here.
	if err := sched.Run(runCtx); err != nil {
		logger.Error("scheduler exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("trading decision engine stopped")
}

// buildGraph wires the eleven Orchestration Graph agents into the fixed
// four-cohort topology (spec §4.3).
func buildGraph(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, profile *types.InstrumentProfile, broker interfaces.BrokerAdapter, accountValue float64) *graph.Graph {
	analysis := []state.Agent{
		agents.NewTechnical(store, mgr, logger),
		agents.NewFundamental(store, mgr, logger, profile),
		agents.NewSentiment(store, mgr, logger),
		agents.NewMacro(store, mgr, logger, profile),
	}
	debate := []state.Agent{
		agents.NewBull(store, mgr, logger),
		agents.NewBear(store, mgr, logger),
	}
	sizer := sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig())
	risk := []state.Agent{
		agents.NewAggressive(logger, accountValue),
		agents.NewConservative(logger, accountValue),
		agents.NewNeutral(logger, accountValue, sizer),
	}
	pm := agents.NewPortfolioManager(store, mgr, logger, profile.Symbol)
	exec := agents.NewExecution(store, mgr, logger, profile.Symbol, broker, time.Now)

	return graph.NewGraph(logger, mgr, analysis, debate, risk, pm, exec)
}

func setupLogger(environment string) *zap.Logger {
	var zcfg zap.Config
	if environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
