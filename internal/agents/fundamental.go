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

// Fundamental is the Fundamental Analysis Agent (spec §4.2/§4.3), grounded
// on original_source/agents/fundamental_agent.py: instrument-aware default
// output and prompt framing (regulatory/adoption for crypto, sector/RBI-policy
// for equities), driven purely by recent news plus the instrument profile.
type Fundamental struct {
	base
	profile *types.InstrumentProfile
}

// NewFundamental builds the fundamental agent for the given profile.
func NewFundamental(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, profile *types.InstrumentProfile) *Fundamental {
	return &Fundamental{base: newBase("fundamental", store, mgr, logger), profile: profile}
}

var fundamentalFields = []string{
	"sector_strength", "bullish_probability", "bearish_probability",
	"key_risk_factors", "key_catalysts", "confidence_score",
}

func defaultFundamentalOutput(isCrypto bool) types.AgentOutput {
	out := types.AgentOutput{
		"sector_strength":      "MODERATE",
		"bullish_probability":  0.5,
		"bearish_probability":  0.5,
		"key_risk_factors":     []string{},
		"key_catalysts":        []string{},
		"confidence_score":     0.5,
	}
	if isCrypto {
		out["regulatory_impact"] = "NEUTRAL"
		out["adoption_trend"] = "STABLE"
	} else {
		out["credit_quality_trend"] = "STABLE"
		out["rbi_policy_impact"] = "NEUTRAL"
	}
	return out
}

func (a *Fundamental) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	isCrypto := a.profile != nil && a.profile.IsCrypto()

	news := st.Market.LatestNews
	if len(news) > 10 {
		news = news[:10]
	}
	var summary strings.Builder
	if len(news) == 0 {
		summary.WriteString("No recent news available")
	} else {
		for _, item := range news {
			fmt.Fprintf(&summary, "- %s (sentiment: %.2f)\n", item.Title, item.Sentiment)
		}
	}

	var context string
	if isCrypto {
		context = fmt.Sprintf(
			"Latest News for %s:\n%s\n\nFocus on regulatory clarity, adoption and mainstream integration, network health, and market structure.",
			a.profile.Symbol, summary.String(),
		)
	} else {
		context = fmt.Sprintf(
			"Latest News for %s:\n%s\n\nFocus on sector strength, credit quality trend, and policy impact.",
			a.profile.Symbol, summary.String(),
		)
	}

	result := a.callStructured(ctx, st.AnalysisCohortID, context, fundamentalFields, 0.3, 500)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		return fallbackUpdate(a.name, defaultFundamentalOutput(isCrypto), "LLM unavailable"), nil
	}

	strength := stringOrDefault(result.Obj, "sector_strength", "MODERATE")
	bullishP := floatOrDefault(result.Obj, "bullish_probability", 0.5)

	return state.PartialUpdate{
		AgentName:   a.name,
		Output:      types.AgentOutput(result.Obj),
		Explanation: fmt.Sprintf("fundamental analysis: %s sector strength, bullish probability %.2f", strength, bullishP),
		Incomplete:  result.Incomplete,
	}, nil
}
