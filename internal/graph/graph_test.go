package graph_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/graph"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

type fakeAgent struct {
	name    string
	process func(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error)
}

func (f *fakeAgent) Name() string         { return f.name }
func (f *fakeAgent) SystemPrompt() string { return "" }
func (f *fakeAgent) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	return f.process(ctx, st)
}

func noopOutput(name string) func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
	return func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{AgentName: name, Output: types.AgentOutput{}}, nil
	}
}

func TestGraphAnalysisBarrierPrecedesDebate(t *testing.T) {
	var mu sync.Mutex
	var debateSawTechnical bool

	analysis := []state.Agent{
		&fakeAgent{name: "technical", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			return state.PartialUpdate{AgentName: "technical", Output: types.AgentOutput{"trend_direction": "UP"}}, nil
		}},
		&fakeAgent{name: "fundamental", process: noopOutput("fundamental")},
		&fakeAgent{name: "sentiment", process: noopOutput("sentiment")},
		&fakeAgent{name: "macro", process: noopOutput("macro")},
	}
	debate := []state.Agent{
		&fakeAgent{name: "bull", process: func(_ context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
			mu.Lock()
			debateSawTechnical = st.Technical["trend_direction"] == "UP"
			mu.Unlock()
			thesis, conf := "bull case", 0.6
			return state.PartialUpdate{AgentName: "bull", BullThesis: &thesis, BullConfidence: &conf}, nil
		}},
		&fakeAgent{name: "bear", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			thesis, conf := "bear case", 0.4
			return state.PartialUpdate{AgentName: "bear", BearThesis: &thesis, BearConfidence: &conf}, nil
		}},
	}
	pm := &fakeAgent{name: "portfolio_manager", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{AgentName: "portfolio_manager", FinalDecision: &state.FinalDecisionUpdate{Signal: types.SignalHold}}, nil
	}}
	exec := &fakeAgent{name: "execution", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{AgentName: "execution"}, nil
	}}

	g := graph.NewGraph(zap.NewNop(), nil, analysis, debate, nil, pm, exec)
	if _, err := g.Run(context.Background(), types.NewDecisionState()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !debateSawTechnical {
		t.Error("expected debate cohort to observe the analysis cohort's reduced output")
	}
}

func TestGraphPropagatesNodeError(t *testing.T) {
	analysis := []state.Agent{
		&fakeAgent{name: "technical", process: noopOutput("technical")},
	}
	risk := []state.Agent{
		&fakeAgent{name: "aggressive_risk", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			return state.PartialUpdate{}, errors.New("provider exhausted")
		}},
	}
	pm := &fakeAgent{name: "portfolio_manager", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		t.Fatal("portfolio_manager must not run after a failed risk cohort")
		return state.PartialUpdate{}, nil
	}}
	exec := &fakeAgent{name: "execution"}

	g := graph.NewGraph(zap.NewNop(), nil, analysis, nil, risk, pm, exec)
	_, err := g.Run(context.Background(), types.NewDecisionState())
	if err == nil {
		t.Fatal("expected an error from the risk cohort to propagate")
	}
}

func TestGraphFullPipelineWritesFinalDecisionAndExecution(t *testing.T) {
	analysis := []state.Agent{
		&fakeAgent{name: "technical", process: noopOutput("technical")},
		&fakeAgent{name: "fundamental", process: noopOutput("fundamental")},
		&fakeAgent{name: "sentiment", process: noopOutput("sentiment")},
		&fakeAgent{name: "macro", process: noopOutput("macro")},
	}
	debate := []state.Agent{
		&fakeAgent{name: "bull", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			thesis, conf := "bull", 0.8
			return state.PartialUpdate{AgentName: "bull", BullThesis: &thesis, BullConfidence: &conf}, nil
		}},
		&fakeAgent{name: "bear", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			thesis, conf := "bear", 0.2
			return state.PartialUpdate{AgentName: "bear", BearThesis: &thesis, BearConfidence: &conf}, nil
		}},
	}
	risk := []state.Agent{
		&fakeAgent{name: "neutral_risk", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			return state.PartialUpdate{AgentName: "neutral_risk", Output: types.AgentOutput{"position_size": 10.0}}, nil
		}},
	}
	pm := &fakeAgent{name: "portfolio_manager", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{
			AgentName: "portfolio_manager",
			FinalDecision: &state.FinalDecisionUpdate{
				Signal: types.SignalBuy, TrendSignal: types.TrendBullish,
				PositionSize: 10, EntryPrice: 100, StopLoss: 98, TakeProfit: 103,
			},
		}, nil
	}}
	exec := &fakeAgent{name: "execution", process: func(context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
		if st.FinalSignal != types.SignalBuy {
			t.Fatalf("execution ran before portfolio_manager's decision was reduced: got %v", st.FinalSignal)
		}
		return state.PartialUpdate{
			AgentName: "execution",
			Execution: &state.ExecutionUpdate{OrderID: "ORD1", FilledPrice: 100.5, FilledQuantity: 10, ExecutionTimestamp: time.Unix(0, 0), TradeID: "TRD1"},
		}, nil
	}}

	g := graph.NewGraph(zap.NewNop(), nil, analysis, debate, risk, pm, exec)
	final, err := g.Run(context.Background(), types.NewDecisionState())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final.FinalSignal != types.SignalBuy || final.OrderID != "ORD1" || final.TradeID != "TRD1" {
		t.Fatalf("unexpected final state: signal=%v orderID=%v tradeID=%v", final.FinalSignal, final.OrderID, final.TradeID)
	}
}
