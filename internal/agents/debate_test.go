package agents_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func TestBullProcessDefaultsToNeutralOnLLMFailure(t *testing.T) {
	a := agents.NewBull(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop())
	st := &types.DecisionState{Market: types.MarketSnapshot{CurrentPrice: 100}}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.BullThesis == nil || *update.BullConfidence != 0.5 {
		t.Fatalf("expected a default 0.5-conviction bull thesis, got %+v", update)
	}
	if !update.Incomplete {
		t.Fatal("expected the fallback update to be marked incomplete")
	}
}

func TestBullProcessReadsLLMConviction(t *testing.T) {
	body := `{"bull_thesis": "strong momentum", "key_drivers": [], "upside_target": 106, "upside_probability": 0.65,
		"key_risks": [], "downside_risk": 98, "conviction_score": 0.72}`
	a := agents.NewBull(newTestPromptStore(t), newTestManager(t, body), zap.NewNop())
	st := &types.DecisionState{Market: types.MarketSnapshot{CurrentPrice: 100}}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.BullThesis == nil || *update.BullThesis != "strong momentum" {
		t.Fatalf("expected the LLM-provided thesis, got %+v", update.BullThesis)
	}
	if update.BullConfidence == nil || *update.BullConfidence != 0.72 {
		t.Fatalf("expected conviction 0.72, got %+v", update.BullConfidence)
	}
}

func TestBearProcessDefaultsToNeutralOnLLMFailure(t *testing.T) {
	a := agents.NewBear(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop())
	st := &types.DecisionState{Market: types.MarketSnapshot{CurrentPrice: 100}}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.BearThesis == nil || *update.BearConfidence != 0.5 {
		t.Fatalf("expected a default 0.5-conviction bear thesis, got %+v", update)
	}
}

func TestBearProcessReadsLLMConviction(t *testing.T) {
	body := `{"bear_thesis": "overbought reversal risk", "key_drivers": [], "downside_target": 94, "downside_probability": 0.6,
		"key_risks": [], "upside_risk": 103, "conviction_score": 0.68}`
	a := agents.NewBear(newTestPromptStore(t), newTestManager(t, body), zap.NewNop())
	st := &types.DecisionState{Market: types.MarketSnapshot{CurrentPrice: 100}}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.BearThesis == nil || *update.BearThesis != "overbought reversal risk" {
		t.Fatalf("expected the LLM-provided thesis, got %+v", update.BearThesis)
	}
	if update.BearConfidence == nil || *update.BearConfidence != 0.68 {
		t.Fatalf("expected conviction 0.68, got %+v", update.BearConfidence)
	}
}
