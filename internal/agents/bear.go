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

// Bear is the Bear Researcher Agent, the other half of the debate cohort
// (spec §4.3). Grounded on original_source/agents/bear_researcher.py,
// including its empty-thesis validation: if the model returns a blank or
// "n/a"-style thesis, the agent falls back to its default rather than
// persisting an empty bear case.
type Bear struct {
	base
}

// NewBear builds the bear researcher agent.
func NewBear(store prompts.Store, mgr *llm.Manager, logger *zap.Logger) *Bear {
	return &Bear{base: newBase("bear", store, mgr, logger)}
}

var bearFields = []string{
	"bear_thesis", "key_drivers", "downside_target", "downside_probability",
	"key_risks", "upside_risk", "conviction_score",
}

func (a *Bear) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	currentPrice := st.Market.CurrentPrice
	target := currentPrice * 0.97
	stopLoss := currentPrice * 1.015

	prompt := fmt.Sprintf(`Given the analysis from all agents:

Fundamental Analysis:
- Sector Strength: %v
- Bearish Probability: %.2f
- Key Risks: %s

Technical Analysis:
- Trend: %v (%v%% strength)
- RSI Status: %v
- Resistance Level: %v

Sentiment Analysis:
- Retail Sentiment: %.2f
- Institutional Sentiment: %.2f

Macro Analysis:
- Macro Regime: %v
- Sector Headwind Score: %.2f

Current Price: %.2f
Downside Target: %.2f (-3%%)
Stop Loss: %.2f (+1.5%%)

Build the strongest BEAR CASE for why the price should go DOWN from here.`,
		valueOr(st.Fundamental, "sector_strength", "UNKNOWN"),
		floatOrDefault(st.Fundamental, "bearish_probability", 0.5),
		strings.Join(stringSlice(st.Fundamental["key_risk_factors"]), ", "),
		valueOr(st.Technical, "trend_direction", "UNKNOWN"),
		valueOr(st.Technical, "trend_strength", 0),
		valueOr(st.Technical, "rsi_status", "NEUTRAL"),
		valueOr(st.Technical, "resistance_level", "N/A"),
		floatOrDefault(st.Sentiment, "retail_sentiment", 0.0),
		floatOrDefault(st.Sentiment, "institutional_sentiment", 0.0),
		valueOr(st.Macro_, "macro_regime", "UNKNOWN"),
		floatOrDefault(st.Macro_, "sector_headwind_score", 0.0),
		currentPrice, target, stopLoss,
	)

	defaultThesis := "Analysis unavailable - using default neutral stance"
	defaultConviction := 0.5

	result := a.callStructured(ctx, st.DebateCohortID, prompt, bearFields, 0.4, 600)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		return state.PartialUpdate{
			AgentName:      a.name,
			BearThesis:     &defaultThesis,
			BearConfidence: &defaultConviction,
			Explanation:    "Bear thesis: 0.50 conviction (default - LLM unavailable)",
			Incomplete:     true,
		}, nil
	}

	thesis := strings.TrimSpace(stringOrDefault(result.Obj, "bear_thesis", ""))
	if isEmptyThesis(thesis) {
		thesis = defaultThesis
	}
	conviction := floatOrDefault(result.Obj, "conviction_score", 0.5)
	downside := floatOrDefault(result.Obj, "downside_probability", 0.5)

	return state.PartialUpdate{
		AgentName:      a.name,
		BearThesis:     &thesis,
		BearConfidence: &conviction,
		Explanation:    fmt.Sprintf("Bear thesis: %.2f conviction, downside prob: %.2f", conviction, downside),
		Incomplete:     result.Incomplete,
	}, nil
}

func isEmptyThesis(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a":
		return true
	default:
		return false
	}
}
