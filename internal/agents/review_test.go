package agents_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func testDecisionRecord() types.DecisionRecord {
	return types.DecisionRecord{
		ID:           "dr_BTCUSDT_1",
		Timestamp:    time.Unix(0, 0),
		Instrument:   "BTCUSDT",
		FinalSignal:  types.SignalBuy,
		EntryPrice:   100,
		StopLoss:     98,
		TakeProfit:   105,
		PositionSize: 0.1,
		Rationale:    []string{"technical: uptrend", "fundamental: strong sector"},
	}
}

func TestReviewAgentReturnsCritique(t *testing.T) {
	body := `{"critique": "the entry was well-timed given the uptrend", "lessons": "none", "confidence_in_hindsight": 0.8}`
	a := agents.NewReviewAgent(newTestPromptStore(t), newTestManager(t, body), zap.NewNop())

	critique, err := a.Review(context.Background(), testDecisionRecord())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if critique != "the entry was well-timed given the uptrend" {
		t.Fatalf("unexpected critique: %q", critique)
	}
}

func TestReviewAgentPropagatesLLMFailure(t *testing.T) {
	a := agents.NewReviewAgent(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop())

	if _, err := a.Review(context.Background(), testDecisionRecord()); err == nil {
		t.Fatal("expected an error when the LLM call fails")
	}
}

func TestReviewAgentRejectsEmptyCritique(t *testing.T) {
	body := `{"critique": "", "lessons": "none", "confidence_in_hindsight": 0.5}`
	a := agents.NewReviewAgent(newTestPromptStore(t), newTestManager(t, body), zap.NewNop())

	if _, err := a.Review(context.Background(), testDecisionRecord()); err == nil {
		t.Fatal("expected an error on an empty critique")
	}
}
