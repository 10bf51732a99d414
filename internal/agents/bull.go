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

// Bull is the Bull Researcher Agent, one half of the debate cohort that runs
// after all four analysis slots are filled (spec §4.3). Grounded on
// original_source/agents/bull_researcher.py: it writes only BullThesis and
// BullConfidence, the dedicated pointer fields the reducer bypasses its
// named-output-slot double-write guard for (internal/state/reducer.go),
// since bull and bear never compete for the same slot.
type Bull struct {
	base
}

// NewBull builds the bull researcher agent.
func NewBull(store prompts.Store, mgr *llm.Manager, logger *zap.Logger) *Bull {
	return &Bull{base: newBase("bull", store, mgr, logger)}
}

var bullFields = []string{
	"bull_thesis", "key_drivers", "upside_target", "upside_probability",
	"key_risks", "downside_risk", "conviction_score",
}

func (a *Bull) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	currentPrice := st.Market.CurrentPrice
	target := currentPrice * 1.03
	stopLoss := currentPrice * 0.985

	prompt := fmt.Sprintf(`Given the analysis from all agents:

Fundamental Analysis:
- Sector Strength: %v
- Bullish Probability: %.2f
- Key Catalysts: %s

Technical Analysis:
- Trend: %v (%v%% strength)
- RSI Status: %v
- Support Level: %v

Sentiment Analysis:
- Retail Sentiment: %.2f
- Institutional Sentiment: %.2f

Macro Analysis:
- Macro Regime: %v
- Sector Headwind Score: %.2f

Current Price: %.2f
Upside Target: %.2f (+3%%)
Stop Loss: %.2f (-1.5%%)

Build the strongest BULL CASE for why the price should go UP from here.`,
		valueOr(st.Fundamental, "sector_strength", "UNKNOWN"),
		floatOrDefault(st.Fundamental, "bullish_probability", 0.5),
		strings.Join(stringSlice(st.Fundamental["key_catalysts"]), ", "),
		valueOr(st.Technical, "trend_direction", "UNKNOWN"),
		valueOr(st.Technical, "trend_strength", 0),
		valueOr(st.Technical, "rsi_status", "NEUTRAL"),
		valueOr(st.Technical, "support_level", "N/A"),
		floatOrDefault(st.Sentiment, "retail_sentiment", 0.0),
		floatOrDefault(st.Sentiment, "institutional_sentiment", 0.0),
		valueOr(st.Macro_, "macro_regime", "UNKNOWN"),
		floatOrDefault(st.Macro_, "sector_headwind_score", 0.0),
		currentPrice, target, stopLoss,
	)

	result := a.callStructured(ctx, st.DebateCohortID, prompt, bullFields, 0.4, 600)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		thesis := "Analysis unavailable - using default neutral stance"
		conviction := 0.5
		return state.PartialUpdate{
			AgentName:      a.name,
			BullThesis:     &thesis,
			BullConfidence: &conviction,
			Explanation:    "Bull thesis: 0.50 conviction (default - LLM unavailable)",
			Incomplete:     true,
		}, nil
	}

	thesis := stringOrDefault(result.Obj, "bull_thesis", "")
	conviction := floatOrDefault(result.Obj, "conviction_score", 0.5)
	upside := floatOrDefault(result.Obj, "upside_probability", 0.5)

	return state.PartialUpdate{
		AgentName:      a.name,
		BullThesis:     &thesis,
		BullConfidence: &conviction,
		Explanation:    fmt.Sprintf("Bull thesis: %.2f conviction, upside prob: %.2f", conviction, upside),
		Incomplete:     result.Incomplete,
	}, nil
}

func valueOr(m types.AgentOutput, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
