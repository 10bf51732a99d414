// Package scheduler implements the Three-Layer Scheduler (spec §4.7): a
// Strategic loop that runs the Orchestration Graph and the Strategy Planner
// on a slow cadence, a Tactical loop that watches for drift between
// Strategic cycles without ever triggering one early, and an Execution loop
// that drives the Rule Engine against live ticks at ~10Hz. Grounded on
// internal/orchestrator/orchestrator.go's Start/Stop/ticker+select idiom
// (regimeDetectionLoop/strategyMonitoringLoop/metricsLoop) and
// cmd/server/main.go's signal.Notify(syscall.SIGINT, syscall.SIGTERM)
// shutdown sequence, generalized from "N independent intervals on one
// orchestrator" to the spec's fixed three-loop topology.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/internal/graph"
	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/marketmemory"
	"github.com/atlas-ai/trading-engine/internal/planner"
	"github.com/atlas-ai/trading-engine/internal/ruleengine"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

const (
	defaultStrategicInterval = 15 * time.Minute
	defaultStrategicDeadline = 5 * time.Minute
	defaultTacticalInterval  = 3 * time.Minute
	defaultTacticalFirstFire = 1 * time.Minute
	defaultExecutionInterval = 100 * time.Millisecond

	strategicRetryBackoff = 60 * time.Second
	executionErrorBackoff = 1 * time.Second

	// tacticalHoldThresholdPct/tacticalOtherThresholdPct are the price-move
	// thresholds the Tactical loop warns on (spec §4.7).
	tacticalHoldThresholdPct  = 1.5
	tacticalOtherThresholdPct = 2.5

	supportResistanceWindow = 10
)

// Scheduler owns the three loops and the shared state they hand off through:
// the KV cache (canonical Strategic -> Execution hand-off for the
// RuleBundle) and the document store (canonical Strategic -> review
// hand-off for the decision record). The loops never share mutable process
// state directly except the small lastStrategic snapshot below, which the
// Tactical loop reads to avoid re-deriving the last signal from the cache.
type Scheduler struct {
	logger     *zap.Logger
	instrument *types.InstrumentProfile

	graph   *graph.Graph
	planner *planner.Planner
	engine  *ruleengine.Engine

	marketData interfaces.MarketDataAdapter
	news       interfaces.NewsAdapter
	cache      interfaces.KVCache
	docs       interfaces.DocumentStore
	alerts     interfaces.AlertRouter

	// review is the optional post-hoc Review Agent (spec §4.8). nil unless
	// WithReview was called; runStrategicCycle never blocks the
	// cycle's return on it.
	review *agents.ReviewAgent

	buf *marketmemory.Buffer

	strategicInterval time.Duration
	strategicDeadline time.Duration
	tacticalInterval  time.Duration
	executionInterval time.Duration

	reviewEnabled bool

	clock func() time.Time

	mu            sync.RWMutex
	lastStrategic lastStrategicRun
	loadedBundle  string // strategy id of the bundle currently loaded into engine
}

// lastStrategicRun is the Tactical loop's read-only view of the most recent
// Strategic cycle, updated only by the Strategic loop.
type lastStrategicRun struct {
	signal     types.SignalType
	price      float64
	decidedAt  time.Time
}

// Config configures a Scheduler's loop cadences; zero fields fall back to
// the spec's defaults, optionally overridden by the instrument profile's
// optimal cadence.
type Config struct {
	StrategicInterval time.Duration
	StrategicDeadline time.Duration
	TacticalInterval  time.Duration
	ExecutionInterval time.Duration
}

// New builds a Scheduler. clock defaults to time.Now when nil.
func New(
	logger *zap.Logger,
	instrument *types.InstrumentProfile,
	g *graph.Graph,
	p *planner.Planner,
	engine *ruleengine.Engine,
	marketData interfaces.MarketDataAdapter,
	news interfaces.NewsAdapter,
	cache interfaces.KVCache,
	docs interfaces.DocumentStore,
	alerts interfaces.AlertRouter,
	cfg Config,
	clock func() time.Time,
) *Scheduler {
	if clock == nil {
		clock = time.Now
	}

	strategic := cfg.StrategicInterval
	if strategic <= 0 {
		strategic = defaultStrategicInterval
		if instrument.OptimalCadenceMinutes > 0 {
			strategic = time.Duration(instrument.OptimalCadenceMinutes) * time.Minute
		}
	}
	deadline := cfg.StrategicDeadline
	if deadline <= 0 {
		deadline = defaultStrategicDeadline
	}
	tactical := cfg.TacticalInterval
	if tactical <= 0 {
		tactical = defaultTacticalInterval
	}
	execution := cfg.ExecutionInterval
	if execution <= 0 {
		execution = defaultExecutionInterval
	}

	return &Scheduler{
		logger:            logger.Named("scheduler"),
		instrument:        instrument,
		graph:             g,
		planner:           p,
		engine:            engine,
		marketData:        marketData,
		news:              news,
		cache:             cache,
		docs:              docs,
		alerts:            alerts,
		buf:               marketmemory.NewBuffer(),
		strategicInterval: strategic,
		strategicDeadline: deadline,
		tacticalInterval:  tactical,
		executionInterval: execution,
		clock:             clock,
	}
}

// WithReview enables the post-hoc Review Agent critique after each
// Strategic cycle persists its decision record (spec §4.8). Off by default;
// call this once after New to opt in. Returns s for chaining.
func (s *Scheduler) WithReview(review *agents.ReviewAgent) *Scheduler {
	s.review = review
	s.reviewEnabled = review != nil
	return s
}

// Run starts all three loops and blocks until ctx is cancelled or an
// interrupt/terminate signal arrives, then waits for the loops to observe
// cancellation and drain before returning (spec §4.7 Cancellation).
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.strategicLoop(ctx) }()
	go func() { defer wg.Done(); s.tacticalLoop(ctx) }()
	go func() { defer wg.Done(); s.executionLoop(ctx) }()

	select {
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
	}

	wg.Wait()
	s.logger.Info("scheduler drained, exiting")
	return nil
}

// strategicLoop runs the Orchestration Graph under a hard deadline, then the
// Strategy Planner, once immediately and then on strategicInterval. A
// deadline timeout skips the cycle, logs, and retries after a fixed
// backoff rather than waiting a full interval (spec §4.7).
func (s *Scheduler) strategicLoop(ctx context.Context) {
	for {
		ok := s.runStrategicCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := s.strategicInterval
		if !ok {
			wait = strategicRetryBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runStrategicCycle runs one Strategic cycle. Returns false if the cycle was
// skipped because the graph run exceeded its deadline.
func (s *Scheduler) runStrategicCycle(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, s.strategicDeadline)
	defer cancel()

	snapshot, err := s.buildMarketSnapshot(cctx)
	if err != nil {
		s.logger.Error("strategic cycle: failed to build market snapshot", zap.Error(err))
		return false
	}

	initial := types.NewDecisionState()
	initial.Market = snapshot

	final, err := s.graph.Run(cctx, initial)
	if err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			s.logger.Warn("strategic cycle exceeded its deadline, skipping", zap.Duration("deadline", s.strategicDeadline))
			s.publishAlert(ctx, types.Alert{
				Type: "strategic_deadline_exceeded", Severity: types.AlertWarning,
				Message: fmt.Sprintf("strategic cycle for %s exceeded its %s deadline", s.instrument.Symbol, s.strategicDeadline),
				Details: map[string]any{"instrument": s.instrument.Symbol}, Timestamp: s.clock(),
			})
		} else {
			s.logger.Error("strategic cycle failed", zap.Error(err))
		}
		return false
	}
	if len(final.IncompleteAgents) > 0 {
		s.publishAlert(ctx, types.Alert{
			Type: "analysis_incomplete", Severity: types.AlertWarning,
			Message: fmt.Sprintf("%d agent(s) returned incomplete structured output", len(final.IncompleteAgents)),
			Details: map[string]any{"instrument": s.instrument.Symbol}, Timestamp: s.clock(),
		})
	}

	s.mu.Lock()
	s.lastStrategic = lastStrategicRun{signal: final.FinalSignal, price: final.EntryPrice, decidedAt: s.clock()}
	s.mu.Unlock()

	record := buildDecisionRecord(final, s.instrument.Symbol, s.clock())
	if err := s.docs.Insert(ctx, record); err != nil {
		s.logger.Error("failed to persist decision record", zap.Error(err))
	} else if s.reviewEnabled {
		s.runReview(record)
	}

	bundle, err := s.planner.GenerateRules(ctx)
	if err != nil {
		s.logger.Error("strategy planner failed", zap.Error(err))
		return true
	}
	if bundle != nil {
		s.engine.LoadRules(*bundle)
		s.mu.Lock()
		s.loadedBundle = bundle.StrategyID
		s.mu.Unlock()
	}

	return true
}

// tacticalLoop performs quick validation between Strategic cycles. It never
// triggers a new graph run — it only logs a warning so the next Strategic
// cycle picks up the drift (spec §4.7: "avoids over-trading").
func (s *Scheduler) tacticalLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(defaultTacticalFirstFire):
	}

	ticker := time.NewTicker(s.tacticalInterval)
	defer ticker.Stop()

	for {
		s.runTacticalCheck(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runTacticalCheck(ctx context.Context) {
	raw, ok, err := s.cache.Get(ctx, s.planner.CacheKey())
	if err != nil {
		s.logger.Error("tactical check: cache read failed", zap.Error(err))
		return
	}
	if !ok {
		return // no active rules, nothing to validate
	}
	var bundle types.RuleBundle
	if err := decodeBundle(raw, &bundle); err != nil {
		s.logger.Error("tactical check: failed to decode cached bundle", zap.Error(err))
		return
	}
	now := s.clock()
	if bundle.Expired(now) {
		s.logger.Warn("tactical check: active rule bundle has expired", zap.String("strategy_id", bundle.StrategyID))
		return
	}

	tick, err := s.marketData.LatestTick(ctx, s.instrument.Symbol)
	if err != nil {
		s.logger.Error("tactical check: failed to fetch latest tick", zap.Error(err))
		return
	}
	price, _ := tick.Price.Float64()
	if bundle.GeneratedPrice == 0 || price == 0 {
		return
	}

	s.mu.RLock()
	signal := s.lastStrategic.signal
	s.mu.RUnlock()

	threshold := tacticalOtherThresholdPct
	if signal == types.SignalHold {
		threshold = tacticalHoldThresholdPct
	}

	changePct := (price - bundle.GeneratedPrice) / bundle.GeneratedPrice * 100
	if absFloat(changePct) >= threshold {
		s.logger.Warn("tactical check: significant price drift since last strategy",
			zap.Float64("changePct", changePct), zap.Float64("thresholdPct", threshold))
		s.publishAlert(ctx, types.Alert{
			Type: "tactical_drift_detected", Severity: types.AlertWarning,
			Message: fmt.Sprintf("price moved %.2f%% since strategy %s was generated", changePct, bundle.StrategyID),
			Details: map[string]any{"instrument": s.instrument.Symbol, "strategyId": bundle.StrategyID}, Timestamp: now,
		})
	}

	bars, err := s.marketData.OHLCV(ctx, s.instrument.Symbol, types.Timeframe1m, 10)
	if err == nil && len(bars) > 1 {
		volatility := volatilityProxy(bars)
		s.logger.Debug("tactical check: volatility proxy", zap.Float64("pct", volatility))
	}
}

// executionLoop polls the latest tick, evaluates the currently-loaded rule
// set, and dispatches any matches through the Rule Engine (spec §4.7).
func (s *Scheduler) executionLoop(ctx context.Context) {
	for {
		if err := s.runExecutionTick(ctx); err != nil {
			s.logger.Error("execution tick failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(executionErrorBackoff):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.executionInterval):
		}
	}
}

func (s *Scheduler) runExecutionTick(ctx context.Context) error {
	tick, err := s.marketData.LatestTick(ctx, s.instrument.Symbol)
	if err != nil {
		return fmt.Errorf("fetch latest tick: %w", err)
	}
	s.buf.PushTick(tick)

	raw, ok, err := s.cache.Get(ctx, s.planner.CacheKey())
	if err != nil {
		return fmt.Errorf("read rule bundle: %w", err)
	}
	if !ok {
		return nil // no active rules, nothing to evaluate
	}
	var bundle types.RuleBundle
	if err := decodeBundle(raw, &bundle); err != nil {
		return fmt.Errorf("decode rule bundle: %w", err)
	}
	if bundle.Expired(s.clock()) {
		return nil
	}

	s.mu.Lock()
	if s.loadedBundle != bundle.StrategyID {
		s.engine.LoadRules(bundle)
		s.loadedBundle = bundle.StrategyID
	}
	s.mu.Unlock()

	bars, err := s.marketData.OHLCV(ctx, s.instrument.Symbol, types.Timeframe1m, supportResistanceWindow)
	if err != nil {
		return fmt.Errorf("fetch ohlc: %w", err)
	}
	support, resistance := supportResistanceFromBars(bars)

	matched := s.engine.EvaluateTick(tick, s.buf, resistance, support)
	for _, rule := range matched {
		if _, err := s.engine.Execute(ctx, rule, tick); err != nil {
			s.logger.Error("rule execution failed", zap.String("ruleId", rule.RuleID), zap.Error(err))
		}
	}
	return nil
}

// buildMarketSnapshot assembles DecisionState's external-writer Market
// section from the market-data and news adapters, the handoff point between
// live data and the Orchestration Graph (spec §3).
func (s *Scheduler) buildMarketSnapshot(ctx context.Context) (types.MarketSnapshot, error) {
	tick, err := s.marketData.LatestTick(ctx, s.instrument.Symbol)
	if err != nil {
		return types.MarketSnapshot{}, fmt.Errorf("latest tick: %w", err)
	}
	price, _ := tick.Price.Float64()
	bestBid, _ := tick.BestBid.Float64()
	bestAsk, _ := tick.BestAsk.Float64()
	totalBuy, _ := tick.TotalBuyQty.Float64()
	totalSell, _ := tick.TotalSellQty.Float64()

	ohlc := make(map[types.Timeframe][]types.OHLCV, 2)
	for _, tf := range []types.Timeframe{types.Timeframe5m, types.Timeframe1m} {
		bars, err := s.marketData.OHLCV(ctx, s.instrument.Symbol, tf, marketmemory.Capacity[tf])
		if err != nil {
			s.logger.Warn("failed to fetch OHLCV", zap.String("timeframe", string(tf)), zap.Error(err))
			continue
		}
		ohlc[tf] = bars
	}

	snapshot := types.MarketSnapshot{
		CurrentPrice: price,
		OHLC:         ohlc,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		TotalBuyQty:  totalBuy,
		TotalSellQty: totalSell,
	}

	if s.news != nil {
		if items, err := s.news.Latest(ctx, s.instrument.Symbol, 10); err == nil {
			snapshot.LatestNews = items
		}
	}

	return snapshot, nil
}

func buildDecisionRecord(st *types.DecisionState, instrument string, now time.Time) types.DecisionRecord {
	status := types.DecisionStatusAnalysis
	if st.OrderID != "" {
		status = types.DecisionStatusExecuted
	}
	incomplete := make([]string, 0, len(st.IncompleteAgents))
	for name, flagged := range st.IncompleteAgents {
		if flagged {
			incomplete = append(incomplete, name)
		}
	}
	return types.DecisionRecord{
		ID:         fmt.Sprintf("dr_%s_%d", instrument, now.UnixNano()),
		Timestamp:  now,
		Instrument: instrument,
		Market:     st.Market,
		FinalSignal:  st.FinalSignal,
		TrendSignal:  st.TrendSignal,
		PositionSize: st.PositionSize,
		EntryPrice:   st.EntryPrice,
		StopLoss:     st.StopLoss,
		TakeProfit:   st.TakeProfit,
		PerAgentOutputs: map[string]types.AgentOutput{
			"technical":   st.Technical,
			"fundamental": st.Fundamental,
			"sentiment":   st.Sentiment,
			"macro":       st.Macro_,
		},
		Rationale:        st.AgentExplanations,
		AuditTrail:       st.DecisionAuditTrail,
		Status:           status,
		IncompleteAgents: incomplete,
	}
}

func supportResistanceFromBars(bars []types.OHLCV) (support, resistance float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	low, _ := bars[0].Low.Float64()
	high, _ := bars[0].High.Float64()
	support, resistance = low, high
	for _, bar := range bars[1:] {
		l, _ := bar.Low.Float64()
		h, _ := bar.High.Float64()
		if l < support {
			support = l
		}
		if h > resistance {
			resistance = h
		}
	}
	return support, resistance
}

// volatilityProxy computes a simple rolling stddev-of-returns proxy over
// closes, the Tactical loop's "volatility proxy from the last 10 one-minute
// closes" (spec §4.7).
func volatilityProxy(bars []types.OHLCV) float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		c, _ := b.Close.Float64()
		closes[i] = c
	}
	var sum, sumSq float64
	n := len(closes) - 1
	if n <= 0 {
		return 0
	}
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		ret := (closes[i] - closes[i-1]) / closes[i-1] * 100
		sum += ret
		sumSq += ret * ret
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func absFloat(f float64) float64 {
	return math.Abs(f)
}

func decodeBundle(raw []byte, bundle *types.RuleBundle) error {
	return json.Unmarshal(raw, bundle)
}

// runReview invokes the Review Agent after a decision record has already
// been persisted, off the Strategic cycle's own deadline: a slow or failing
// review must never cause runStrategicCycle to report failure or delay the
// next cycle. The critique is delivered through the alert router rather than
// mutating the (append-only, spec §6) document store.
func (s *Scheduler) runReview(record types.DecisionRecord) {
	go func() {
		rctx, cancel := context.WithTimeout(context.Background(), s.strategicDeadline)
		defer cancel()

		critique, err := s.review.Review(rctx, record)
		if err != nil {
			s.logger.Warn("review agent failed", zap.String("decisionId", record.ID), zap.Error(err))
			return
		}
		s.publishAlert(rctx, types.Alert{
			Type: "decision_reviewed", Severity: types.AlertInfo,
			Message: critique,
			Details: map[string]any{"instrument": s.instrument.Symbol, "decisionId": record.ID},
			Timestamp: s.clock(),
		})
	}()
}

// publishAlert delivers a non-blocking operational alert, logging rather
// than failing the caller's cycle if delivery itself fails (spec §6; mirrors
// internal/llm.Manager's alert-on-failure discipline).
func (s *Scheduler) publishAlert(ctx context.Context, alert types.Alert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Publish(ctx, alert); err != nil {
		s.logger.Warn("failed to publish alert", zap.Error(err))
	}
}
