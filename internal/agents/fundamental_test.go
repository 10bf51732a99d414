package agents_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func TestFundamentalProcessUsesCryptoDefaultsOnLLMFailure(t *testing.T) {
	a := agents.NewFundamental(newTestPromptStore(t), newFailingTestManager(t, context.DeadlineExceeded), zap.NewNop(), instrumentProfileForTest())
	st := &types.DecisionState{}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Output["regulatory_impact"] != "NEUTRAL" {
		t.Fatalf("expected the crypto-flavored default output, got %+v", update.Output)
	}
	if !update.Incomplete {
		t.Fatal("expected the fallback update to be marked incomplete")
	}
}

func TestFundamentalProcessSummarizesNewsIntoPrompt(t *testing.T) {
	body := `{"sector_strength": "STRONG", "bullish_probability": 0.7, "bearish_probability": 0.3,
		"key_risk_factors": ["regulation"], "key_catalysts": ["etf approval"], "confidence_score": 0.8}`
	a := agents.NewFundamental(newTestPromptStore(t), newTestManager(t, body), zap.NewNop(), instrumentProfileForTest())
	st := &types.DecisionState{
		Market: types.MarketSnapshot{
			LatestNews: []types.NewsItem{{Title: "ETF inflows accelerate", Sentiment: 0.6}},
		},
	}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Output["sector_strength"] != "STRONG" {
		t.Fatalf("expected the LLM-provided sector strength, got %+v", update.Output)
	}
}
