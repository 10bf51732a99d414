package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Macro is the Macro Analysis Agent (spec §4.2/§4.3), grounded on
// original_source/agents/macro_agent.py: instrument-aware default output and
// prompt (a crypto instrument gets a Fed-cycle/dollar-strength framing
// instead of an RBI/NPA one, per types.InstrumentProfile.IsCrypto rather than
// the original's instrument-name substring check).
type Macro struct {
	base
	profile *types.InstrumentProfile
}

// NewMacro builds the macro agent for the given instrument profile.
func NewMacro(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, profile *types.InstrumentProfile) *Macro {
	return &Macro{base: newBase("macro", store, mgr, logger), profile: profile}
}

var macroFieldsCrypto = []string{
	"macro_regime", "fed_cycle", "rate_cut_probability", "rate_hike_probability",
	"liquidity_condition", "dollar_strength", "sector_headwind_score", "confidence_score",
}

var macroFieldsRates = []string{
	"macro_regime", "rbi_cycle", "rate_cut_probability", "rate_hike_probability",
	"npa_concern_level", "liquidity_condition", "sector_headwind_score", "confidence_score",
}

func defaultMacroOutput(isCrypto bool) types.AgentOutput {
	out := types.AgentOutput{
		"macro_regime":           "MIXED",
		"rate_cut_probability":   0.5,
		"rate_hike_probability":  0.5,
		"liquidity_condition":    "NORMAL",
		"sector_headwind_score":  0.0,
		"confidence_score":       0.5,
	}
	if isCrypto {
		out["fed_cycle"] = "NEUTRAL"
		out["dollar_strength"] = "NEUTRAL"
	} else {
		out["rbi_cycle"] = "NEUTRAL"
		out["npa_concern_level"] = "MEDIUM"
	}
	return out
}

func (a *Macro) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	isCrypto := a.profile != nil && a.profile.IsCrypto()
	fields := macroFieldsRates
	rateLabel := "RBI policy rate"
	cycleField := "rbi_cycle"
	if isCrypto {
		fields = macroFieldsCrypto
		rateLabel = "Global interest rates (Fed proxy)"
		cycleField = "fed_cycle"
	}

	policyRate := "Unknown"
	if st.Macro.PolicyRate != nil {
		policyRate = fmt.Sprintf("%.2f", *st.Macro.PolicyRate)
	}
	inflation := "Unknown"
	if st.Macro.InflationRate != nil {
		inflation = fmt.Sprintf("%.2f", *st.Macro.InflationRate)
	}

	prompt := fmt.Sprintf(
		"Macro Economic Context for %s:\n- %s: %s\n- Inflation Rate: %s\n- Liquidity conditions and sector headwinds\n\nAnalyze the macro regime and its impact on this instrument.",
		a.profile.Symbol, rateLabel, policyRate, inflation,
	)

	result := a.callStructured(ctx, st.AnalysisCohortID, prompt, fields, 0.3, 500)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		return fallbackUpdate(a.name, defaultMacroOutput(isCrypto), "LLM unavailable"), nil
	}

	regime := stringOrDefault(result.Obj, "macro_regime", "MIXED")
	cycle := stringOrDefault(result.Obj, cycleField, "NEUTRAL")

	return state.PartialUpdate{
		AgentName:   a.name,
		Output:      types.AgentOutput(result.Obj),
		Explanation: fmt.Sprintf("macro analysis: regime %s, policy cycle %s", regime, cycle),
		Incomplete:  result.Incomplete,
	}, nil
}
