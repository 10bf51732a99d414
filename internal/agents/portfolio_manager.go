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

// PortfolioManager is the final decision maker in the Orchestration Graph
// (spec §4.4), grounded on original_source/agents/portfolio_manager.py. It
// runs after the risk cohort barrier, synthesizes every prior agent's output
// into a weighted bullish/bearish score, derives an adaptive-threshold
// trading signal, builds forward scenario paths, and gates the resulting BUY
// through an LLM veto head plus a deterministic backstop before writing
// DecisionState's scalar decision fields.
type PortfolioManager struct {
	base
	instrument string
}

// NewPortfolioManager builds the portfolio manager agent.
func NewPortfolioManager(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, instrument string) *PortfolioManager {
	return &PortfolioManager{base: newBase("portfolio_manager", store, mgr, logger), instrument: instrument}
}

const (
	bearProbBackstopThreshold = 0.45
	minBullUpsidePct          = 0.0025
)

func (a *PortfolioManager) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	technical, fundamental, sentiment, macro := st.Technical, st.Fundamental, st.Sentiment, st.Macro_
	bullConfidence, bearConfidence := st.BullConfidence, st.BearConfidence
	currentPrice := st.Market.CurrentPrice

	bullishScore, bearishScore := scoreAgents(technical, fundamental, sentiment, macro, bullConfidence, bearConfidence)

	trendSignal := types.TrendNeutral
	const trendThreshold = 0.15
	switch {
	case bullishScore-bearishScore > trendThreshold:
		trendSignal = types.TrendBullish
	case bearishScore-bullishScore > trendThreshold:
		trendSignal = types.TrendBearish
	}

	environmentBias := "NEUTRAL"
	switch {
	case bullishScore-bearishScore > 0.05:
		environmentBias = "BULLISH"
	case bearishScore-bullishScore > 0.05:
		environmentBias = "BEARISH"
	}

	riskRec := st.NeutralRisk
	if len(riskRec) == 0 {
		riskRec = st.AggressiveRisk
	}

	volatilityFactor := 1.0
	if atr := floatOrDefault(technical, "atr", 0); atr > 0 && currentPrice > 0 {
		atrPct := (atr / currentPrice) * 100
		switch {
		case atrPct > 2.0:
			volatilityFactor = 1.15
		case atrPct < 0.5:
			volatilityFactor = 0.9
		}
	}

	strongThreshold := 0.70 * volatilityFactor
	moderateThreshold := 0.60 * volatilityFactor
	weakThreshold := 0.55 * volatilityFactor
	oppositeThreshold := 0.35 / volatilityFactor

	signal := types.SignalHold
	signalStrength := "NEUTRAL"
	positionSize := 0.0
	entryPrice := currentPrice
	stopLoss := currentPrice
	takeProfit := currentPrice

	recPositionSize := floatOrDefault(riskRec, "position_size", 0)
	recStopLossBuy := floatOrDefault(riskRec, "stop_loss_price", currentPrice*0.985)
	recStopLossSell := floatOrDefault(riskRec, "stop_loss_price", currentPrice*1.015)

	switch {
	case bullishScore > strongThreshold && bearishScore < oppositeThreshold:
		signal, signalStrength = types.SignalBuy, "STRONG_BUY"
		positionSize, stopLoss, takeProfit = recPositionSize, recStopLossBuy, currentPrice*1.03
	case bullishScore > moderateThreshold && bearishScore < (1-moderateThreshold):
		signal, signalStrength = types.SignalBuy, "BUY"
		positionSize, stopLoss, takeProfit = recPositionSize, recStopLossBuy, currentPrice*1.03
	case bullishScore > weakThreshold && bearishScore < (1-weakThreshold):
		signal, signalStrength = types.SignalBuy, "WEAK_BUY"
		positionSize, stopLoss, takeProfit = recPositionSize*0.7, recStopLossBuy, currentPrice*1.02
	case bearishScore > strongThreshold && bullishScore < oppositeThreshold:
		signal, signalStrength = types.SignalSell, "STRONG_SELL"
		positionSize, stopLoss, takeProfit = recPositionSize, recStopLossSell, currentPrice*0.97
	case bearishScore > moderateThreshold && bullishScore < (1-moderateThreshold):
		signal, signalStrength = types.SignalSell, "SELL"
		positionSize, stopLoss, takeProfit = recPositionSize, recStopLossSell, currentPrice*0.97
	case bearishScore > weakThreshold && bullishScore < (1-weakThreshold):
		signal, signalStrength = types.SignalSell, "WEAK_SELL"
		positionSize, stopLoss, takeProfit = recPositionSize*0.7, recStopLossSell, currentPrice*0.98
	}

	scenarioPaths := a.generateScenarioPaths(currentPrice, technical, fundamental, st.BullThesis, st.BearThesis, bullConfidence, bearConfidence)

	var gatingReasons []string
	if signal == types.SignalBuy {
		veto := a.llmExecutionVeto(ctx, scenarioPaths, bullishScore, bearishScore, entryPrice, environmentBias)
		switch veto.Decision {
		case "HOLD":
			gatingReasons = append(gatingReasons, fmt.Sprintf("LLM veto -> HOLD: %s", veto.Reason))
			signal, signalStrength, positionSize = types.SignalHold, "FILTERED_HOLD", 0
		case "REDUCE":
			gatingReasons = append(gatingReasons, fmt.Sprintf("LLM veto -> REDUCE: %s", veto.Reason))
			positionSize *= 0.5
			signalStrength = "REDUCED_" + signalStrength
		}

		bearCase, bullCase := scenarioPaths["bear_case"], scenarioPaths["bull_case"]
		bearProb := floatFromAny(bearCase["probability"])
		if bearProb > bearProbBackstopThreshold {
			gatingReasons = append(gatingReasons, fmt.Sprintf("Backstop HOLD: bear_case.probability=%.2f > %.2f", bearProb, bearProbBackstopThreshold))
			signal, signalStrength, positionSize = types.SignalHold, "FILTERED_HOLD", 0
		}
		if signal == types.SignalBuy && entryPrice != 0 {
			if target15m, ok := bullCase["target_15m"].(float64); ok {
				upsidePct := (target15m - entryPrice) / entryPrice
				if upsidePct < minBullUpsidePct {
					gatingReasons = append(gatingReasons, fmt.Sprintf("Backstop HOLD: bull_case 15m upside=%.4f < %.4f", upsidePct, minBullUpsidePct))
					signal, signalStrength, positionSize = types.SignalHold, "FILTERED_HOLD", 0
				}
			}
		}
	}

	strategyDescription := describeStrategy(signal, signalStrength, trendSignal, technical)
	adaptiveStrategy := a.createAdaptiveStrategy(signal, signalStrength, trendSignal, technical, entryPrice, stopLoss, takeProfit, positionSize, volatilityFactor)
	keyFactors := extractKeyFactors(technical, fundamental, sentiment, macro)

	auditTrail := map[string]any{
		"signal":              string(signal),
		"trend_signal":        string(trendSignal),
		"signal_strength":     signalStrength,
		"strategy":            strategyDescription,
		"adaptive_strategy":   adaptiveStrategy,
		"scenario_paths":      scenarioPaths,
		"gating_reasons":      gatingReasons,
		"bullish_score":       bullishScore,
		"bearish_score":       bearishScore,
		"environment_bias":    environmentBias,
		"time_horizon":        "INTRADAY_15M",
		"position_size":       positionSize,
		"entry_price":         entryPrice,
		"stop_loss":           stopLoss,
		"take_profit":         takeProfit,
		"key_factors":         keyFactors,
		"volatility_factor":   volatilityFactor,
	}

	summary := fmt.Sprintf("Portfolio Decision: %s (%s) - %s", signal, signalStrength, strategyDescription)
	executiveSummary := a.generateExecutiveSummary(ctx, signal, signalStrength, trendSignal, bullishScore, bearishScore, technical, fundamental, sentiment, macro, st.BullThesis, st.BearThesis, positionSize, entryPrice, stopLoss, takeProfit, summary)
	auditTrail["executive_summary"] = executiveSummary

	return state.PartialUpdate{
		AgentName: a.name,
		FinalDecision: &state.FinalDecisionUpdate{
			Signal:       signal,
			TrendSignal:  trendSignal,
			PositionSize: positionSize,
			EntryPrice:   entryPrice,
			StopLoss:     stopLoss,
			TakeProfit:   takeProfit,
			AuditTrail:   map[string]any{"portfolio_manager_output": auditTrail},
		},
		Explanation: executiveSummary,
	}, nil
}

// scoreAgents combines every cohort's output into a weighted bullish/bearish
// score pair (spec §4.4's 30/25/15/15/15 weighting).
func scoreAgents(technical, fundamental, sentiment, macro types.AgentOutput, bullConfidence, bearConfidence float64) (bullish, bearish float64) {
	switch stringOrDefault(technical, "trend_direction", "SIDEWAYS") {
	case "UP":
		bullish += 0.3 * (floatOrDefault(technical, "trend_strength", 50) / 100)
	case "DOWN":
		bearish += 0.3 * (floatOrDefault(technical, "trend_strength", 50) / 100)
	}

	bullish += 0.25 * floatOrDefault(fundamental, "bullish_probability", 0.5)
	bearish += 0.25 * floatOrDefault(fundamental, "bearish_probability", 0.5)

	retail := floatOrDefault(sentiment, "retail_sentiment", 0.0)
	if retail > 0 {
		bullish += 0.15 * retail
	} else {
		bearish += 0.15 * -retail
	}

	headwind := floatOrDefault(macro, "sector_headwind_score", 0.0)
	if headwind > 0 {
		bullish += 0.15 * headwind
	} else {
		bearish += 0.15 * -headwind
	}

	bullish += 0.15 * bullConfidence
	bearish += 0.15 * bearConfidence
	return bullish, bearish
}

func describeStrategy(signal types.SignalType, signalStrength string, trendSignal types.TrendSignal, technical types.AgentOutput) string {
	trendInfo := fmt.Sprintf("Trend: %s", trendSignal)
	techInfo := fmt.Sprintf("Technical: %v", valueOr(technical, "trend_direction", "UNKNOWN"))
	strengthInfo := fmt.Sprintf("Strength: %s", signalStrength)

	switch signal {
	case types.SignalHold:
		switch trendSignal {
		case types.TrendBullish:
			return "WAIT_FOR_BULLISH_ENTRY - bullish trend but insufficient conviction."
		case types.TrendBearish:
			return "WAIT_FOR_BEARISH_ENTRY - bearish trend but insufficient conviction."
		default:
			return "NEUTRAL_HOLD - mixed signals, no clear direction."
		}
	case types.SignalBuy:
		switch signalStrength {
		case "STRONG_BUY":
			return fmt.Sprintf("AGGRESSIVE_LONG - %s, %s, %s. High conviction entry.", strengthInfo, trendInfo, techInfo)
		case "BUY":
			return fmt.Sprintf("MODERATE_LONG - %s, %s, %s. Standard entry.", strengthInfo, trendInfo, techInfo)
		default:
			return fmt.Sprintf("CAUTIOUS_LONG - %s, %s, %s. Reduced size entry.", strengthInfo, trendInfo, techInfo)
		}
	case types.SignalSell:
		switch signalStrength {
		case "STRONG_SELL":
			return fmt.Sprintf("AGGRESSIVE_SHORT - %s, %s, %s. High conviction entry.", strengthInfo, trendInfo, techInfo)
		case "SELL":
			return fmt.Sprintf("MODERATE_SHORT - %s, %s, %s. Standard entry.", strengthInfo, trendInfo, techInfo)
		default:
			return fmt.Sprintf("CAUTIOUS_SHORT - %s, %s, %s. Reduced size entry.", strengthInfo, trendInfo, techInfo)
		}
	}
	return "UNKNOWN_STRATEGY"
}

// createAdaptiveStrategy builds the execution-facing strategy bundle (spec
// §4.4), a trimmed translation of _create_adaptive_strategy: entry/exit
// bands around the planned entry, RSI-confluence conditions, and a small
// adaptive-rule set reacting to regime transitions/volume spikes/stop hits.
func (a *PortfolioManager) createAdaptiveStrategy(signal types.SignalType, signalStrength string, trendSignal types.TrendSignal, technical types.AgentOutput, entryPrice, stopLoss, takeProfit, positionSize, volatilityFactor float64) map[string]any {
	rsi := floatOrDefault(technical, "rsi", 50)
	entryConditions := []string{}
	exitConditions := []string{}

	switch signal {
	case types.SignalBuy:
		entryConditions = append(entryConditions, fmt.Sprintf("price_above_%.2f", entryPrice*0.999))
		if rsi >= 40 && rsi <= 70 {
			entryConditions = append(entryConditions, "rsi_5m_in_buy_band")
		}
		exitConditions = append(exitConditions, fmt.Sprintf("price_below_stop_%.2f", stopLoss), fmt.Sprintf("price_above_target_%.2f", takeProfit))
	case types.SignalSell:
		entryConditions = append(entryConditions, fmt.Sprintf("price_below_%.2f", entryPrice*1.001))
		if rsi >= 30 && rsi <= 60 {
			entryConditions = append(entryConditions, "rsi_5m_in_sell_band")
		}
		exitConditions = append(exitConditions, fmt.Sprintf("price_above_stop_%.2f", stopLoss), fmt.Sprintf("price_below_target_%.2f", takeProfit))
	}

	adaptiveRules := []map[string]any{
		{"trigger": "regime_transition", "action": "reduce_position_50_pct"},
		{"trigger": "volume_spike", "action": "confidence_boost_0_1"},
		{"trigger": "stop_loss_hit", "action": "review_entry_conditions"},
	}

	return map[string]any{
		"strategy_id":   fmt.Sprintf("%s-%s", a.instrument, signalStrength),
		"type":          "ADAPTIVE",
		"market_regime": trendSignal,
		"entry_conditions": entryConditions,
		"exit_conditions":  exitConditions,
		"position_sizing": map[string]any{
			"position_size":      positionSize,
			"volatility_factor":  volatilityFactor,
		},
		"adaptive_rules": adaptiveRules,
	}
}

// generateScenarioPaths builds base/bull/bear forward paths for the next
// 15/60 minutes (spec §4.4), grounded on _generate_scenario_paths.
func (a *PortfolioManager) generateScenarioPaths(currentPrice float64, technical, fundamental types.AgentOutput, bullThesis, bearThesis string, bullConfidence, bearConfidence float64) map[string]map[string]any {
	support := floatOrDefault(technical, "support_level", currentPrice*0.98)
	resistance := floatOrDefault(technical, "resistance_level", currentPrice*1.02)
	atr := floatOrDefault(technical, "atr", currentPrice*0.01)
	trend := stringOrDefault(technical, "trend_direction", "SIDEWAYS")

	var baseTarget, baseProbability float64
	switch trend {
	case "UP":
		baseTarget, baseProbability = currentPrice*1.005, 0.5
	case "DOWN":
		baseTarget, baseProbability = currentPrice*0.995, 0.5
	default:
		baseTarget, baseProbability = currentPrice, 0.6
	}
	baseTarget60m := baseTarget
	switch trend {
	case "UP":
		baseTarget60m = baseTarget * 1.01
	case "DOWN":
		baseTarget60m = baseTarget * 0.99
	}

	bullTarget15m := min2(resistance, currentPrice*1.01)
	bullTarget60m := resistance * 1.005
	bullProbability := bullConfidence * 0.8

	bearTarget15m := max2(support, currentPrice*0.99)
	bearTarget60m := support * 0.995
	bearProbability := bearConfidence * 0.8

	bullDesc := "Bullish breakout scenario"
	if bullThesis != "" {
		bullDesc = truncate(bullThesis, 150)
	}
	bearDesc := "Bearish breakdown scenario"
	if bearThesis != "" {
		bearDesc = truncate(bearThesis, 150)
	}

	bullCatalysts := stringSlice(fundamental["key_catalysts"])
	if len(bullCatalysts) > 2 {
		bullCatalysts = bullCatalysts[:2]
	}
	if len(bullCatalysts) == 0 {
		bullCatalysts = []string{"Bullish momentum", "Positive sentiment"}
	}
	bearCatalysts := stringSlice(fundamental["key_risk_factors"])
	if len(bearCatalysts) > 2 {
		bearCatalysts = bearCatalysts[:2]
	}
	if len(bearCatalysts) == 0 {
		bearCatalysts = []string{"Bearish pressure", "Negative sentiment"}
	}

	return map[string]map[string]any{
		"base_case": {
			"scenario":    "Base Case",
			"description": fmt.Sprintf("Continuation of %s trend", trend),
			"target_15m":  baseTarget,
			"target_60m":  baseTarget60m,
			"probability": baseProbability,
			"key_levels":  []float64{currentPrice, baseTarget},
			"catalysts":   []string{trend + " technical trend", "Current momentum"},
		},
		"bull_case": {
			"scenario":    "Bull Case",
			"description": bullDesc,
			"target_15m":  bullTarget15m,
			"target_60m":  bullTarget60m,
			"probability": bullProbability,
			"key_levels":  []float64{currentPrice, resistance, bullTarget60m},
			"catalysts":   bullCatalysts,
		},
		"bear_case": {
			"scenario":    "Bear Case",
			"description": bearDesc,
			"target_15m":  bearTarget15m,
			"target_60m":  bearTarget60m,
			"probability": bearProbability,
			"key_levels":  []float64{currentPrice, support, bearTarget60m},
			"catalysts":   bearCatalysts,
		},
		"volatility_range": {
			"atr":                atr,
			"expected_range_15m": []float64{currentPrice - atr*0.5, currentPrice + atr*0.5},
			"expected_range_60m": []float64{currentPrice - atr*1.5, currentPrice + atr*1.5},
		},
	}
}

func extractKeyFactors(technical, fundamental, sentiment, macro types.AgentOutput) []string {
	var factors []string
	if trend := stringOrDefault(technical, "trend_direction", ""); trend != "" && trend != "SIDEWAYS" {
		factors = append(factors, fmt.Sprintf("Strong %s trend", trend))
	}
	if rsiStatus := stringOrDefault(technical, "rsi_status", ""); rsiStatus != "" && rsiStatus != "NEUTRAL" {
		factors = append(factors, fmt.Sprintf("RSI %s", rsiStatus))
	}
	if strength := stringOrDefault(fundamental, "sector_strength", ""); strength != "" {
		factors = append(factors, fmt.Sprintf("%s sector strength", strength))
	}
	if retail := floatOrDefault(sentiment, "retail_sentiment", 0); retail > 0.3 || retail < -0.3 {
		direction := "positive"
		if retail < 0 {
			direction = "negative"
		}
		factors = append(factors, fmt.Sprintf("Strong %s sentiment", direction))
	}
	if regime := stringOrDefault(macro, "macro_regime", ""); regime != "" {
		factors = append(factors, fmt.Sprintf("%s macro regime", regime))
	}
	if len(factors) > 5 {
		factors = factors[:5]
	}
	return factors
}

type executionVeto struct {
	Decision string
	Reason   string
}

// llmExecutionVeto asks the LLM for a light-touch EXECUTE/REDUCE/HOLD call
// against the generated scenario paths (spec §4.4). It defaults to EXECUTE
// on any failure, matching the original's fail-open posture for this gate —
// the deterministic backstop in Process is what actually guards against a
// bad BUY, not this advisory head.
func (a *PortfolioManager) llmExecutionVeto(ctx context.Context, scenarioPaths map[string]map[string]any, bullishScore, bearishScore, entryPrice float64, environmentBias string) executionVeto {
	baseCase, bullCase, bearCase := scenarioPaths["base_case"], scenarioPaths["bull_case"], scenarioPaths["bear_case"]

	prompt := fmt.Sprintf(`You are the portfolio risk co-pilot. Decide if we should EXECUTE, REDUCE, or HOLD a BUY based on forward scenarios.

Inputs:
- Environment bias: %s
- Bullish score: %.2f
- Bearish score: %.2f
- Planned entry price: %.2f

Scenario paths:
BASE: prob=%v target15m=%v target60m=%v
BULL: prob=%v target15m=%v target60m=%v
BEAR: prob=%v target15m=%v target60m=%v

Rules of thumb (be concise):
- If bear prob is high (>0.45) or upside is tiny (<0.25%%), prefer HOLD.
- If upside is modest (0.25%%-0.60%%) or bear prob is moderate (0.35-0.45), pick REDUCE.
- Otherwise EXECUTE.

Respond ONLY as JSON on one line like: {"decision": "EXECUTE", "reason": "..."}`,
		environmentBias, bullishScore, bearishScore, entryPrice,
		baseCase["probability"], baseCase["target_15m"], baseCase["target_60m"],
		bullCase["probability"], bullCase["target_15m"], bullCase["target_60m"],
		bearCase["probability"], bearCase["target_15m"], bearCase["target_60m"],
	)

	raw, err := a.llm.Call(ctx, llm.CallOptions{
		AgentName:    a.name,
		SystemPrompt: a.prompt,
		UserPrompt:   prompt,
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil || strings.TrimSpace(raw) == "" {
		return executionVeto{Decision: "EXECUTE", Reason: "LLM unavailable"}
	}

	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return executionVeto{Decision: "EXECUTE", Reason: "LLM parse fail"}
	}

	decision := strings.ToUpper(stringOrDefault(obj, "decision", "EXECUTE"))
	if decision != "EXECUTE" && decision != "REDUCE" && decision != "HOLD" {
		decision = "EXECUTE"
	}
	return executionVeto{Decision: decision, Reason: stringOrDefault(obj, "reason", "LLM provided")}
}

// generateExecutiveSummary produces the human-facing trading rationale (spec
// §4.4), falling back to a deterministic one-liner if the LLM call fails or
// returns something implausibly short.
func (a *PortfolioManager) generateExecutiveSummary(
	ctx context.Context,
	signal types.SignalType, signalStrength string, trendSignal types.TrendSignal,
	bullishScore, bearishScore float64,
	technical, fundamental, sentiment, macro types.AgentOutput,
	bullThesis, bearThesis string,
	positionSize, entryPrice, stopLoss, takeProfit float64,
	fallback string,
) string {
	prompt := fmt.Sprintf(`You are a Portfolio Manager synthesizing multi-agent trading analysis for %s.

Current Price: %.2f | Market Trend: %s | Bullish: %.2f | Bearish: %.2f
Technical: trend=%v strength=%v%% rsi=%v (%v) support=%v resistance=%v
Fundamental: strength=%v bullish_prob=%.2f bearish_prob=%.2f
Sentiment: retail=%.2f institutional=%.2f fear_greed=%v
Macro: regime=%v headwind=%.2f

Bull Thesis: %s
Bear Thesis: %s

Trading Decision: %s (%s), size %.2f, entry %.2f, stop %.2f, target %.2f.

Write a concise 3-4 sentence executive summary: state the decision and conviction, the 2-3 most critical driving factors, and the risk/reward context. Professional trader language, direct and actionable.`,
		a.instrument, entryPrice, trendSignal, bullishScore, bearishScore,
		valueOr(technical, "trend_direction", "UNKNOWN"), valueOr(technical, "trend_strength", 0),
		valueOr(technical, "rsi", 50), valueOr(technical, "rsi_status", "NEUTRAL"),
		valueOr(technical, "support_level", 0), valueOr(technical, "resistance_level", 0),
		valueOr(fundamental, "sector_strength", "UNKNOWN"),
		floatOrDefault(fundamental, "bullish_probability", 0.5), floatOrDefault(fundamental, "bearish_probability", 0.5),
		floatOrDefault(sentiment, "retail_sentiment", 0), floatOrDefault(sentiment, "institutional_sentiment", 0),
		valueOr(sentiment, "fear_greed_index", 50),
		valueOr(macro, "macro_regime", "UNKNOWN"), floatOrDefault(macro, "sector_headwind_score", 0),
		truncate(bullThesis, 200), truncate(bearThesis, 200),
		signal, signalStrength, positionSize, entryPrice, stopLoss, takeProfit,
	)

	raw, err := a.llm.Call(ctx, llm.CallOptions{
		AgentName:    a.name,
		SystemPrompt: a.prompt,
		UserPrompt:   prompt,
		Temperature:  0.7,
		MaxTokens:    400,
	})
	if err != nil {
		return fallback
	}
	text := strings.TrimSpace(raw)
	if len(text) <= 20 {
		return fallback
	}
	return truncate(text, 900)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

func floatFromAny(v any) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
