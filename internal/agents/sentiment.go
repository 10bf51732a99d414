package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Sentiment is the Sentiment Analysis Agent (spec §4.2/§4.3), grounded on
// original_source/agents/sentiment_agent.py: pure LLM analysis over recent
// news headlines plus the aggregate sentiment score carried on the market
// snapshot.
type Sentiment struct {
	base
}

// NewSentiment builds the sentiment agent.
func NewSentiment(store prompts.Store, mgr *llm.Manager, logger *zap.Logger) *Sentiment {
	return &Sentiment{base: newBase("sentiment", store, mgr, logger)}
}

var sentimentFields = []string{
	"retail_sentiment", "institutional_sentiment", "sentiment_divergence",
	"options_flow_signal", "fear_greed_index", "confidence_score",
}

func defaultSentimentOutput() types.AgentOutput {
	return types.AgentOutput{
		"retail_sentiment":        0.0,
		"institutional_sentiment": 0.0,
		"sentiment_divergence":    "NONE",
		"options_flow_signal":     "NEUTRAL",
		"fear_greed_index":        50.0,
		"confidence_score":        0.5,
	}
}

func (a *Sentiment) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	news := st.Market.LatestNews
	if len(news) > 20 {
		news = news[:20]
	}

	var headlines strings.Builder
	if len(news) == 0 {
		headlines.WriteString("No recent news available")
	} else {
		for _, item := range news {
			fmt.Fprintf(&headlines, "- %s\n", item.Title)
		}
	}

	prompt := fmt.Sprintf(
		"Latest News Headlines:\n%s\n\nAggregate Sentiment Score: %.2f (range: -1 to +1)\n\nAnalyze the market sentiment and provide your assessment.",
		headlines.String(), st.Market.SentimentScore,
	)

	result := a.callStructured(ctx, st.AnalysisCohortID, prompt, sentimentFields, 0.3, 400)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		def := defaultSentimentOutput()
		return fallbackUpdate(a.name, def, "LLM unavailable"), nil
	}

	retail := floatOrDefault(result.Obj, "retail_sentiment", 0.0)
	inst := floatOrDefault(result.Obj, "institutional_sentiment", 0.0)
	divergence := stringOrDefault(result.Obj, "sentiment_divergence", "NONE")

	return state.PartialUpdate{
		AgentName:   a.name,
		Output:      types.AgentOutput(result.Obj),
		Explanation: fmt.Sprintf("sentiment analysis: retail %.2f, institutional %.2f, divergence: %s", retail, inst, divergence),
		Incomplete:  result.Incomplete,
	}, nil
}
