package agents_test

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func TestPortfolioManagerHoldsOnNeutralAgentOutputs(t *testing.T) {
	a := agents.NewPortfolioManager(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop(), "BTCUSDT")
	st := &types.DecisionState{
		Market:      types.MarketSnapshot{CurrentPrice: 100},
		Technical:   types.AgentOutput{},
		Fundamental: types.AgentOutput{},
		Sentiment:   types.AgentOutput{},
		Macro_:      types.AgentOutput{},
	}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.FinalDecision == nil {
		t.Fatal("expected a final decision to be set")
	}
	if update.FinalDecision.Signal != types.SignalHold {
		t.Fatalf("expected a HOLD signal on neutral inputs, got %s", update.FinalDecision.Signal)
	}
	if update.FinalDecision.TrendSignal != types.TrendNeutral {
		t.Fatalf("expected a neutral trend signal, got %s", update.FinalDecision.TrendSignal)
	}
}

func TestPortfolioManagerBuysOnStrongBullishSignals(t *testing.T) {
	a := agents.NewPortfolioManager(newTestPromptStore(t), newTestManager(t, `{"decision": "EXECUTE", "reason": "aligned with strong bullish consensus"}`), zap.NewNop(), "BTCUSDT")
	st := &types.DecisionState{
		Market:         types.MarketSnapshot{CurrentPrice: 100},
		Technical:      types.AgentOutput{"trend_direction": "UP", "trend_strength": 100.0},
		Fundamental:    types.AgentOutput{"bullish_probability": 1.0, "bearish_probability": 0.0},
		Sentiment:      types.AgentOutput{"retail_sentiment": 1.0},
		Macro_:         types.AgentOutput{"sector_headwind_score": 1.0},
		BullConfidence: 1.0,
		NeutralRisk:    types.AgentOutput{"position_size": 5, "stop_loss_price": 98.5},
	}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.FinalDecision == nil {
		t.Fatal("expected a final decision to be set")
	}
	if update.FinalDecision.Signal != types.SignalBuy {
		t.Fatalf("expected a BUY signal on strong bullish inputs, got %s", update.FinalDecision.Signal)
	}
}

func strongBullState() *types.DecisionState {
	return &types.DecisionState{
		Market:         types.MarketSnapshot{CurrentPrice: 100},
		Technical:      types.AgentOutput{"trend_direction": "UP", "trend_strength": 100.0},
		Fundamental:    types.AgentOutput{"bullish_probability": 1.0, "bearish_probability": 0.0},
		Sentiment:      types.AgentOutput{"retail_sentiment": 1.0},
		Macro_:         types.AgentOutput{"sector_headwind_score": 1.0},
		BullConfidence: 1.0,
		BearConfidence: 0.25,
		NeutralRisk:    types.AgentOutput{"position_size": 5, "stop_loss_price": 98.5},
	}
}

func TestPortfolioManagerGateVetoForcesHold(t *testing.T) {
	a := agents.NewPortfolioManager(newTestPromptStore(t), newTestManager(t, `{"decision": "HOLD", "reason": "thin upside"}`), zap.NewNop(), "BTCUSDT")

	update, err := a.Process(context.Background(), strongBullState())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.FinalDecision.Signal != types.SignalHold {
		t.Fatalf("expected the LLM veto to force a HOLD, got %s", update.FinalDecision.Signal)
	}
	if update.FinalDecision.PositionSize != 0 {
		t.Fatalf("expected zero position size on a vetoed BUY, got %v", update.FinalDecision.PositionSize)
	}
	pmOutput, _ := update.FinalDecision.AuditTrail["portfolio_manager_output"].(map[string]any)
	reasons, _ := pmOutput["gating_reasons"].([]string)
	found := false
	for _, r := range reasons {
		if strings.Contains(r, "thin upside") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the veto reason in gating_reasons, got %v", reasons)
	}
}

func TestPortfolioManagerBearProbabilityBackstopForcesHold(t *testing.T) {
	st := strongBullState()
	st.BearConfidence = 0.6 // bear_case probability = 0.6*0.8 = 0.48 > the 0.45 backstop threshold

	a := agents.NewPortfolioManager(newTestPromptStore(t), newTestManager(t, `{"decision": "EXECUTE", "reason": "aligned"}`), zap.NewNop(), "BTCUSDT")
	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.FinalDecision.Signal != types.SignalHold {
		t.Fatalf("expected the bear-probability backstop to force a HOLD despite an EXECUTE veto, got %s", update.FinalDecision.Signal)
	}
	if update.FinalDecision.PositionSize != 0 {
		t.Fatalf("expected zero position size, got %v", update.FinalDecision.PositionSize)
	}
}

// TestPortfolioManagerScenarioPathsAreCoherent checks that the generated
// forward scenario paths keep bull_case at or above the current price and
// bear_case at or below it, across a spread of technical inputs, and that
// every scenario probability stays within [0,1].
func TestPortfolioManagerScenarioPathsAreCoherent(t *testing.T) {
	trends := []string{"UP", "DOWN", "SIDEWAYS"}
	for _, trend := range trends {
		st := &types.DecisionState{
			Market:      types.MarketSnapshot{CurrentPrice: 100},
			Technical:   types.AgentOutput{"trend_direction": trend, "trend_strength": 40.0},
			Fundamental: types.AgentOutput{"bullish_probability": 0.5, "bearish_probability": 0.5},
		}
		a := agents.NewPortfolioManager(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop(), "BTCUSDT")

		update, err := a.Process(context.Background(), st)
		if err != nil {
			t.Fatalf("trend %s: unexpected error: %v", trend, err)
		}
		pmOutput, _ := update.FinalDecision.AuditTrail["portfolio_manager_output"].(map[string]any)
		paths, _ := pmOutput["scenario_paths"].(map[string]map[string]any)
		bullTarget, _ := paths["bull_case"]["target_15m"].(float64)
		bearTarget, _ := paths["bear_case"]["target_15m"].(float64)

		if bullTarget < 100 {
			t.Errorf("trend %s: expected bull_case.target_15m >= current price, got %v", trend, bullTarget)
		}
		if bearTarget > 100 {
			t.Errorf("trend %s: expected bear_case.target_15m <= current price, got %v", trend, bearTarget)
		}
		for _, caseName := range []string{"base_case", "bull_case", "bear_case"} {
			prob, _ := paths[caseName]["probability"].(float64)
			if prob < 0 || prob > 1 {
				t.Errorf("trend %s: %s probability out of [0,1]: %v", trend, caseName, prob)
			}
		}
	}
}
