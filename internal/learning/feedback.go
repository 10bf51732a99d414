// Package learning closes the loop between a persisted DecisionRecord and
// its eventual realized outcome: it records win/loss feedback keyed by
// decision ID, tracks per-signal-type performance, and surfaces simple
// entry/exit threshold suggestions an operator can feed back into a prompt
// or rule update. Grounded on the teacher's internal/learning/feedback.go
// (FeedbackEngine/StrategyOptimizer/PerformanceAnalyzer), adapted from its
// own per-strategy types.Trade records to outcomes keyed by the Decision
// Record Gateway's DecisionRecord.ID (SPEC_FULL.md §4.8).
package learning

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Outcome is the realized result of a decision, reported back once its
// position has closed (or been confirmed as HOLD with no position taken).
type Outcome struct {
	DecisionRecordID string          `json:"decisionRecordId"`
	Instrument       string          `json:"instrument"`
	SignalType       types.SignalType `json:"signalType"`
	Confidence       decimal.Decimal `json:"confidence"`
	PnL              decimal.Decimal `json:"pnl"`
	Rating           int             `json:"rating"` // 1-5, operator's judgment of decision quality
	WasGoodEntry     bool            `json:"wasGoodEntry"`
	WasGoodExit      bool            `json:"wasGoodExit"`
	ShouldHaveHeld   bool            `json:"shouldHaveHeld"`
	Notes            string          `json:"notes,omitempty"`
	ExecutedAt       time.Time       `json:"executedAt"`
}

// PatternPerformance tracks performance of a single signal type across
// every outcome reported for it.
type PatternPerformance struct {
	SignalType  types.SignalType `json:"signalType"`
	TotalTrades int              `json:"totalTrades"`
	WinRate     decimal.Decimal  `json:"winRate"`
	AvgPnL      decimal.Decimal  `json:"avgPnl"`
	AvgRating   float64          `json:"avgRating"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// FeedbackEngine collects realized outcomes and tracks per-signal-type
// performance, persisting to disk so feedback survives a restart.
type FeedbackEngine struct {
	logger *zap.Logger

	mu       sync.RWMutex
	outcomes []Outcome
	patterns map[types.SignalType]*PatternPerformance
	dataDir  string
}

// NewFeedbackEngine builds a FeedbackEngine rooted at dataDir, loading any
// previously persisted outcomes.
func NewFeedbackEngine(logger *zap.Logger, dataDir string) *FeedbackEngine {
	fe := &FeedbackEngine{
		logger:   logger.Named("feedback"),
		patterns: make(map[types.SignalType]*PatternPerformance),
		dataDir:  dataDir,
	}
	fe.load()
	return fe
}

// RecordOutcome records a realized outcome for a previously persisted
// DecisionRecord and updates that signal type's running performance.
func (fe *FeedbackEngine) RecordOutcome(outcome Outcome) {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if outcome.ExecutedAt.IsZero() {
		outcome.ExecutedAt = time.Now()
	}
	fe.outcomes = append(fe.outcomes, outcome)

	perf, ok := fe.patterns[outcome.SignalType]
	if !ok {
		perf = &PatternPerformance{SignalType: outcome.SignalType}
		fe.patterns[outcome.SignalType] = perf
	}

	perf.TotalTrades++
	const alpha = 0.1
	if outcome.PnL.GreaterThan(decimal.Zero) {
		perf.WinRate = perf.WinRate.Mul(decimal.NewFromFloat(1 - alpha)).Add(decimal.NewFromFloat(alpha))
	} else {
		perf.WinRate = perf.WinRate.Mul(decimal.NewFromFloat(1 - alpha))
	}

	oldWeight := decimal.NewFromInt(int64(perf.TotalTrades - 1))
	newWeight := decimal.NewFromInt(int64(perf.TotalTrades))
	perf.AvgPnL = perf.AvgPnL.Mul(oldWeight).Add(outcome.PnL).Div(newWeight)
	perf.AvgRating = (perf.AvgRating*float64(perf.TotalTrades-1) + float64(outcome.Rating)) / float64(perf.TotalTrades)
	perf.LastUpdated = time.Now()

	if len(fe.outcomes)%10 == 0 {
		fe.save()
	}

	fe.logger.Info("outcome recorded",
		zap.String("decisionRecordId", outcome.DecisionRecordID),
		zap.String("signalType", string(outcome.SignalType)),
		zap.Int("rating", outcome.Rating),
	)
}

// GetPatternPerformance returns performance for a signal type, or nil if
// no outcome has been recorded for it yet.
func (fe *FeedbackEngine) GetPatternPerformance(signal types.SignalType) *PatternPerformance {
	fe.mu.RLock()
	defer fe.mu.RUnlock()
	return fe.patterns[signal]
}

// GetAllPatternPerformance returns a snapshot of every tracked signal type's
// performance.
func (fe *FeedbackEngine) GetAllPatternPerformance() map[types.SignalType]*PatternPerformance {
	fe.mu.RLock()
	defer fe.mu.RUnlock()
	out := make(map[types.SignalType]*PatternPerformance, len(fe.patterns))
	for k, v := range fe.patterns {
		out[k] = v
	}
	return out
}

// GetRecentOutcomes returns the most recent limit outcomes (or all of them
// if limit <= 0 or exceeds the count on hand).
func (fe *FeedbackEngine) GetRecentOutcomes(limit int) []Outcome {
	fe.mu.RLock()
	defer fe.mu.RUnlock()

	if limit <= 0 || limit > len(fe.outcomes) {
		limit = len(fe.outcomes)
	}
	start := len(fe.outcomes) - limit
	out := make([]Outcome, limit)
	copy(out, fe.outcomes[start:])
	return out
}

type persistedFeedback struct {
	Outcomes []Outcome                              `json:"outcomes"`
	Patterns map[types.SignalType]*PatternPerformance `json:"patterns"`
}

func (fe *FeedbackEngine) save() {
	path := filepath.Join(fe.dataDir, "feedback.json")
	data := persistedFeedback{Outcomes: fe.outcomes, Patterns: fe.patterns}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fe.logger.Error("marshal feedback failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(fe.dataDir, 0o755); err != nil {
		fe.logger.Error("create feedback data dir failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		fe.logger.Error("write feedback file failed", zap.Error(err))
	}
}

func (fe *FeedbackEngine) load() {
	path := filepath.Join(fe.dataDir, "feedback.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var data persistedFeedback
	if err := json.Unmarshal(raw, &data); err != nil {
		fe.logger.Error("unmarshal feedback file failed", zap.Error(err))
		return
	}
	fe.outcomes = data.Outcomes
	fe.patterns = data.Patterns
	if fe.patterns == nil {
		fe.patterns = make(map[types.SignalType]*PatternPerformance)
	}
}

// StrategyOptimizer derives threshold suggestions for a signal type from
// its recorded outcome history.
type StrategyOptimizer struct {
	logger   *zap.Logger
	feedback *FeedbackEngine

	mu            sync.RWMutex
	optimizations map[types.SignalType]*OptimizationResult
}

// OptimizationResult is a suggested parameter adjustment for a signal type.
type OptimizationResult struct {
	SignalType   types.SignalType           `json:"signalType"`
	Parameters   map[string]decimal.Decimal `json:"parameters"`
	Score        decimal.Decimal            `json:"score"`
	Confidence   decimal.Decimal            `json:"confidence"`
	SampleSize   int                        `json:"sampleSize"`
	OptimizedAt  time.Time                  `json:"optimizedAt"`
	Improvements []Improvement              `json:"improvements"`
}

// Improvement describes one suggested parameter change and the reasoning
// behind it.
type Improvement struct {
	Parameter  string          `json:"parameter"`
	Current    decimal.Decimal `json:"current"`
	Suggested  decimal.Decimal `json:"suggested"`
	Reasoning  string          `json:"reasoning"`
	Confidence decimal.Decimal `json:"confidence"`
}

// NewStrategyOptimizer builds a StrategyOptimizer reading from feedback.
func NewStrategyOptimizer(logger *zap.Logger, feedback *FeedbackEngine) *StrategyOptimizer {
	return &StrategyOptimizer{
		logger:        logger.Named("strategy_optimizer"),
		feedback:      feedback,
		optimizations: make(map[types.SignalType]*OptimizationResult),
	}
}

// Optimize analyzes the last 1000 outcomes for signalType and returns a
// suggested parameter set, or nil if fewer than 30 outcomes exist.
func (so *StrategyOptimizer) Optimize(ctx context.Context, signalType types.SignalType) (*OptimizationResult, error) {
	so.logger.Info("optimizing signal type", zap.String("signalType", string(signalType)))

	var relevant []Outcome
	for _, o := range so.feedback.GetRecentOutcomes(1000) {
		if o.SignalType == signalType {
			relevant = append(relevant, o)
		}
	}
	if len(relevant) < 30 {
		return nil, nil
	}

	result := &OptimizationResult{
		SignalType:  signalType,
		Parameters:  make(map[string]decimal.Decimal),
		SampleSize:  len(relevant),
		OptimizedAt: time.Now(),
	}

	entry := so.analyzeEntryQuality(relevant)
	result.Parameters["entryConfidenceThreshold"] = entry.threshold
	if !entry.improvement.IsZero() {
		result.Improvements = append(result.Improvements, Improvement{
			Parameter:  "entryConfidenceThreshold",
			Current:    entry.current,
			Suggested:  entry.threshold,
			Reasoning:  entry.reasoning,
			Confidence: entry.confidence,
		})
	}

	exit := so.analyzeExitQuality(relevant)
	result.Parameters["stopLossMultiplier"] = exit.slMultiplier
	result.Parameters["takeProfitMultiplier"] = exit.tpMultiplier

	result.Score = so.calculateOverallScore(relevant)
	result.Confidence = decimal.NewFromFloat(math.Min(float64(len(relevant))/100.0, 1.0))

	so.mu.Lock()
	so.optimizations[signalType] = result
	so.mu.Unlock()

	return result, nil
}

type entryAnalysis struct {
	threshold   decimal.Decimal
	current     decimal.Decimal
	improvement decimal.Decimal
	reasoning   string
	confidence  decimal.Decimal
}

func (so *StrategyOptimizer) analyzeEntryQuality(outcomes []Outcome) entryAnalysis {
	result := entryAnalysis{
		threshold:  decimal.NewFromFloat(0.6),
		current:    decimal.NewFromFloat(0.6),
		confidence: decimal.NewFromFloat(0.5),
	}

	bestThreshold := decimal.NewFromFloat(0.5)
	bestWinRate := decimal.Zero

	for threshold := 0.5; threshold <= 0.9; threshold += 0.1 {
		wins, total := 0, 0
		for _, o := range outcomes {
			if o.Confidence.GreaterThanOrEqual(decimal.NewFromFloat(threshold)) {
				total++
				if o.WasGoodEntry {
					wins++
				}
			}
		}
		if total > 0 {
			winRate := decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(total)))
			if winRate.GreaterThan(bestWinRate) {
				bestWinRate = winRate
				bestThreshold = decimal.NewFromFloat(threshold)
			}
		}
	}

	result.threshold = bestThreshold
	if bestThreshold.GreaterThan(result.current) {
		result.improvement = bestThreshold.Sub(result.current)
		result.reasoning = "higher confidence threshold improves entry win rate"
		result.confidence = decimal.NewFromFloat(0.7)
	}
	return result
}

type exitAnalysis struct {
	slMultiplier decimal.Decimal
	tpMultiplier decimal.Decimal
}

func (so *StrategyOptimizer) analyzeExitQuality(outcomes []Outcome) exitAnalysis {
	result := exitAnalysis{
		slMultiplier: decimal.NewFromFloat(1.0),
		tpMultiplier: decimal.NewFromFloat(2.0),
	}

	heldCount, exitCount := 0, 0
	for _, o := range outcomes {
		if o.ShouldHaveHeld {
			heldCount++
		}
		if o.WasGoodExit {
			exitCount++
		}
	}
	if len(outcomes) > 0 && float64(heldCount)/float64(len(outcomes)) > 0.3 {
		result.tpMultiplier = decimal.NewFromFloat(2.5)
	}
	return result
}

func (so *StrategyOptimizer) calculateOverallScore(outcomes []Outcome) decimal.Decimal {
	if len(outcomes) == 0 {
		return decimal.Zero
	}
	totalRating := 0
	totalPnL := decimal.Zero
	for _, o := range outcomes {
		totalRating += o.Rating
		totalPnL = totalPnL.Add(o.PnL)
	}
	avgRating := float64(totalRating) / float64(len(outcomes)) / 5.0
	avgPnL := totalPnL.Div(decimal.NewFromInt(int64(len(outcomes))))

	ratingScore := decimal.NewFromFloat(avgRating)
	pnlScore := avgPnL.Add(decimal.NewFromInt(1000)).Div(decimal.NewFromInt(2000))
	if pnlScore.LessThan(decimal.Zero) {
		pnlScore = decimal.Zero
	}
	if pnlScore.GreaterThan(decimal.NewFromInt(1)) {
		pnlScore = decimal.NewFromInt(1)
	}
	return ratingScore.Mul(decimal.NewFromFloat(0.5)).Add(pnlScore.Mul(decimal.NewFromFloat(0.5)))
}

// GetOptimization returns the last optimization result for signalType, if any.
func (so *StrategyOptimizer) GetOptimization(signalType types.SignalType) *OptimizationResult {
	so.mu.RLock()
	defer so.mu.RUnlock()
	return so.optimizations[signalType]
}

// PerformanceReport summarizes realized outcomes over a reporting period.
type PerformanceReport struct {
	Period       string                   `json:"period"`
	TotalTrades  int                      `json:"totalTrades"`
	WinRate      decimal.Decimal          `json:"winRate"`
	ProfitFactor decimal.Decimal          `json:"profitFactor"`
	SharpeRatio  decimal.Decimal          `json:"sharpeRatio"`
	SortinoRatio decimal.Decimal          `json:"sortinoRatio"`
	MaxDrawdown  decimal.Decimal          `json:"maxDrawdown"`
	TotalPnL     decimal.Decimal          `json:"totalPnl"`
	AveragePnL   decimal.Decimal          `json:"averagePnl"`
	AverageWin   decimal.Decimal          `json:"averageWin"`
	AverageLoss  decimal.Decimal          `json:"averageLoss"`
	BestOutcome  *Outcome                 `json:"bestOutcome,omitempty"`
	WorstOutcome *Outcome                 `json:"worstOutcome,omitempty"`
	ByInstrument map[string]*InstrumentPerformance `json:"byInstrument"`
	Streaks      *StreakAnalysis          `json:"streaks"`
	GeneratedAt  time.Time                `json:"generatedAt"`
}

// InstrumentPerformance summarizes realized outcomes for one instrument.
type InstrumentPerformance struct {
	Instrument string          `json:"instrument"`
	Trades     int             `json:"trades"`
	WinRate    decimal.Decimal `json:"winRate"`
	TotalPnL   decimal.Decimal `json:"totalPnl"`
	AveragePnL decimal.Decimal `json:"averagePnl"`
}

// StreakAnalysis summarizes consecutive win/loss runs.
type StreakAnalysis struct {
	CurrentStreak     int     `json:"currentStreak"` // positive = wins, negative = losses
	LongestWinStreak  int     `json:"longestWinStreak"`
	LongestLossStreak int     `json:"longestLossStreak"`
	AverageWinStreak  float64 `json:"averageWinStreak"`
	AverageLossStreak float64 `json:"averageLossStreak"`
}

// PerformanceAnalyzer builds PerformanceReports from realized outcomes.
type PerformanceAnalyzer struct {
	logger *zap.Logger
}

// NewPerformanceAnalyzer builds a PerformanceAnalyzer.
func NewPerformanceAnalyzer(logger *zap.Logger) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{logger: logger.Named("performance_analyzer")}
}

// Analyze computes a PerformanceReport over outcomes.
func (pa *PerformanceAnalyzer) Analyze(outcomes []Outcome, period string) *PerformanceReport {
	report := &PerformanceReport{
		Period:       period,
		TotalTrades:  len(outcomes),
		ByInstrument: make(map[string]*InstrumentPerformance),
		GeneratedAt:  time.Now(),
	}
	if len(outcomes) == 0 {
		return report
	}

	wins, losses := 0, 0
	grossProfit, grossLoss, totalPnL := decimal.Zero, decimal.Zero, decimal.Zero
	pnls := make([]decimal.Decimal, 0, len(outcomes))

	for i := range outcomes {
		o := &outcomes[i]
		totalPnL = totalPnL.Add(o.PnL)
		pnls = append(pnls, o.PnL)

		if o.PnL.GreaterThan(decimal.Zero) {
			wins++
			grossProfit = grossProfit.Add(o.PnL)
			if report.BestOutcome == nil || o.PnL.GreaterThan(report.BestOutcome.PnL) {
				report.BestOutcome = o
			}
		} else {
			losses++
			grossLoss = grossLoss.Add(o.PnL.Abs())
			if report.WorstOutcome == nil || o.PnL.LessThan(report.WorstOutcome.PnL) {
				report.WorstOutcome = o
			}
		}

		ip, ok := report.ByInstrument[o.Instrument]
		if !ok {
			ip = &InstrumentPerformance{Instrument: o.Instrument}
			report.ByInstrument[o.Instrument] = ip
		}
		ip.Trades++
		ip.TotalPnL = ip.TotalPnL.Add(o.PnL)
	}

	report.TotalPnL = totalPnL
	report.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(outcomes))))
	report.AveragePnL = totalPnL.Div(decimal.NewFromInt(int64(len(outcomes))))
	if wins > 0 {
		report.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		report.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(losses)))
	}
	if !grossLoss.IsZero() {
		report.ProfitFactor = grossProfit.Div(grossLoss)
	}
	for instrument, ip := range report.ByInstrument {
		if ip.Trades > 0 {
			ip.AveragePnL = ip.TotalPnL.Div(decimal.NewFromInt(int64(ip.Trades)))
		}
		report.ByInstrument[instrument] = ip
	}

	if len(pnls) > 1 {
		report.SharpeRatio = pa.calculateSharpe(pnls)
		report.SortinoRatio = pa.calculateSortino(pnls)
	}
	report.MaxDrawdown = pa.calculateMaxDrawdown(outcomes)
	report.Streaks = pa.analyzeStreaks(outcomes)

	return report
}

func (pa *PerformanceAnalyzer) calculateSharpe(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, pnl := range pnls {
		sum = sum.Add(pnl)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(pnls))))

	sumSq := decimal.Zero
	for _, pnl := range pnls {
		diff := pnl.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(pnls) - 1)))
	stdDev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
	if stdDev.IsZero() {
		return decimal.Zero
	}
	annFactor := decimal.NewFromFloat(math.Sqrt(252))
	return mean.Div(stdDev).Mul(annFactor)
}

func (pa *PerformanceAnalyzer) calculateSortino(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, pnl := range pnls {
		sum = sum.Add(pnl)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(pnls))))

	sumSq := decimal.Zero
	negCount := 0
	for _, pnl := range pnls {
		if pnl.LessThan(decimal.Zero) {
			sumSq = sumSq.Add(pnl.Mul(pnl))
			negCount++
		}
	}
	if negCount == 0 {
		return decimal.NewFromInt(100)
	}
	downsideVar := sumSq.Div(decimal.NewFromInt(int64(negCount)))
	downsideDev := decimal.NewFromFloat(math.Sqrt(downsideVar.InexactFloat64()))
	if downsideDev.IsZero() {
		return decimal.Zero
	}
	annFactor := decimal.NewFromFloat(math.Sqrt(252))
	return mean.Div(downsideDev).Mul(annFactor)
}

func (pa *PerformanceAnalyzer) calculateMaxDrawdown(outcomes []Outcome) decimal.Decimal {
	if len(outcomes) == 0 {
		return decimal.Zero
	}
	equity := decimal.NewFromInt(10000)
	peak := equity
	maxDD := decimal.Zero
	for _, o := range outcomes {
		equity = equity.Add(o.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func (pa *PerformanceAnalyzer) analyzeStreaks(outcomes []Outcome) *StreakAnalysis {
	analysis := &StreakAnalysis{}
	if len(outcomes) == 0 {
		return analysis
	}

	currentStreak := 0
	var winStreaks, lossStreaks []int

	for _, o := range outcomes {
		if o.PnL.GreaterThan(decimal.Zero) {
			if currentStreak < 0 {
				lossStreaks = append(lossStreaks, -currentStreak)
				currentStreak = 0
			}
			currentStreak++
		} else {
			if currentStreak > 0 {
				winStreaks = append(winStreaks, currentStreak)
				currentStreak = 0
			}
			currentStreak--
		}
	}
	if currentStreak > 0 {
		winStreaks = append(winStreaks, currentStreak)
	} else if currentStreak < 0 {
		lossStreaks = append(lossStreaks, -currentStreak)
	}
	analysis.CurrentStreak = currentStreak

	for _, s := range winStreaks {
		if s > analysis.LongestWinStreak {
			analysis.LongestWinStreak = s
		}
	}
	for _, s := range lossStreaks {
		if s > analysis.LongestLossStreak {
			analysis.LongestLossStreak = s
		}
	}
	if len(winStreaks) > 0 {
		sum := 0
		for _, s := range winStreaks {
			sum += s
		}
		analysis.AverageWinStreak = float64(sum) / float64(len(winStreaks))
	}
	if len(lossStreaks) > 0 {
		sum := 0
		for _, s := range lossStreaks {
			sum += s
		}
		analysis.AverageLossStreak = float64(sum) / float64(len(lossStreaks))
	}

	return analysis
}
