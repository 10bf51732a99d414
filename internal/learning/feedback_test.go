package learning

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

func newTestEngine(t *testing.T) *FeedbackEngine {
	t.Helper()
	return NewFeedbackEngine(zap.NewNop(), filepath.Join(t.TempDir(), "feedback"))
}

func TestRecordOutcomeUpdatesPatternPerformance(t *testing.T) {
	fe := newTestEngine(t)

	fe.RecordOutcome(Outcome{
		DecisionRecordID: "dec-1",
		Instrument:       "BTC/USDT",
		SignalType:       types.SignalBuy,
		Confidence:       decimal.NewFromFloat(0.8),
		PnL:              decimal.NewFromFloat(50),
		Rating:           4,
		WasGoodEntry:     true,
	})
	fe.RecordOutcome(Outcome{
		DecisionRecordID: "dec-2",
		Instrument:       "BTC/USDT",
		SignalType:       types.SignalBuy,
		Confidence:       decimal.NewFromFloat(0.6),
		PnL:              decimal.NewFromFloat(-20),
		Rating:           2,
	})

	perf := fe.GetPatternPerformance(types.SignalBuy)
	if perf == nil {
		t.Fatal("expected pattern performance to be tracked")
	}
	if perf.TotalTrades != 2 {
		t.Fatalf("expected 2 trades, got %d", perf.TotalTrades)
	}
	if !perf.AvgPnL.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected avg pnl 15 ((50 - 20) / 2), got %s", perf.AvgPnL)
	}
}

func TestRecentOutcomesRespectsLimit(t *testing.T) {
	fe := newTestEngine(t)
	for i := 0; i < 5; i++ {
		fe.RecordOutcome(Outcome{DecisionRecordID: "dec", SignalType: types.SignalHold})
	}
	if got := fe.GetRecentOutcomes(2); len(got) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(got))
	}
	if got := fe.GetRecentOutcomes(0); len(got) != 5 {
		t.Fatalf("expected all 5 outcomes with limit 0, got %d", len(got))
	}
}

func TestFeedbackEnginePersistsAcrossRestarts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "feedback")
	first := NewFeedbackEngine(zap.NewNop(), dir)
	for i := 0; i < 10; i++ {
		first.RecordOutcome(Outcome{DecisionRecordID: "dec", SignalType: types.SignalSell, PnL: decimal.NewFromInt(1)})
	}

	second := NewFeedbackEngine(zap.NewNop(), dir)
	if got := len(second.GetRecentOutcomes(0)); got != 10 {
		t.Fatalf("expected the restarted engine to load 10 persisted outcomes, got %d", got)
	}
}

func TestOptimizeRequiresMinimumSampleSize(t *testing.T) {
	fe := newTestEngine(t)
	optimizer := NewStrategyOptimizer(zap.NewNop(), fe)

	for i := 0; i < 10; i++ {
		fe.RecordOutcome(Outcome{SignalType: types.SignalBuy, Confidence: decimal.NewFromFloat(0.7), PnL: decimal.NewFromInt(1)})
	}
	result, err := optimizer.Optimize(context.Background(), types.SignalBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result below the 30-sample threshold, got %+v", result)
	}
}

func TestOptimizeSuggestsHigherConfidenceThreshold(t *testing.T) {
	fe := newTestEngine(t)
	optimizer := NewStrategyOptimizer(zap.NewNop(), fe)

	for i := 0; i < 20; i++ {
		fe.RecordOutcome(Outcome{
			SignalType:   types.SignalBuy,
			Confidence:   decimal.NewFromFloat(0.5),
			PnL:          decimal.NewFromInt(-1),
			WasGoodEntry: false,
		})
	}
	for i := 0; i < 20; i++ {
		fe.RecordOutcome(Outcome{
			SignalType:   types.SignalBuy,
			Confidence:   decimal.NewFromFloat(0.9),
			PnL:          decimal.NewFromInt(1),
			WasGoodEntry: true,
		})
	}

	result, err := optimizer.Optimize(context.Background(), types.SignalBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Fatal("expected an optimization result with 40 samples")
	}
	if result.SampleSize != 40 {
		t.Fatalf("expected sample size 40, got %d", result.SampleSize)
	}
	threshold := result.Parameters["entryConfidenceThreshold"]
	if !threshold.Equal(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected the optimizer to favor the high-confidence bucket with the lowest threshold that excludes the 0.5 outcomes (0.6), got %s", threshold)
	}
}

func TestPerformanceAnalyzerComputesWinRateAndDrawdown(t *testing.T) {
	analyzer := NewPerformanceAnalyzer(zap.NewNop())
	now := time.Unix(1700000000, 0)
	outcomes := []Outcome{
		{Instrument: "BTC/USDT", PnL: decimal.NewFromInt(100), ExecutedAt: now},
		{Instrument: "BTC/USDT", PnL: decimal.NewFromInt(-50), ExecutedAt: now.Add(time.Hour)},
		{Instrument: "ETH/USDT", PnL: decimal.NewFromInt(30), ExecutedAt: now.Add(2 * time.Hour)},
	}

	report := analyzer.Analyze(outcomes, "test-window")
	if report.TotalTrades != 3 {
		t.Fatalf("expected 3 trades, got %d", report.TotalTrades)
	}
	if !report.WinRate.Equal(decimal.NewFromInt(2).Div(decimal.NewFromInt(3))) {
		t.Fatalf("expected win rate 2/3, got %s", report.WinRate)
	}
	if len(report.ByInstrument) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(report.ByInstrument))
	}
	if report.MaxDrawdown.IsZero() {
		t.Fatal("expected a non-zero drawdown after a losing trade")
	}
}

func TestPerformanceAnalyzerHandlesEmptyOutcomes(t *testing.T) {
	analyzer := NewPerformanceAnalyzer(zap.NewNop())
	report := analyzer.Analyze(nil, "empty")
	if report.TotalTrades != 0 {
		t.Fatalf("expected 0 trades, got %d", report.TotalTrades)
	}
}
