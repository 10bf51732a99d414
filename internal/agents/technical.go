package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/ruleengine"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
	"github.com/atlas-ai/trading-engine/pkg/utils"
)

// Technical is the Technical Analysis Agent (spec §4.2/§4.3, first of the
// four-way analysis fan-out). Grounded on
// original_source/agents/technical_agent.py: computed indicators (RSI, ATR,
// support/resistance, trend) are treated as ground truth, and the LLM call is
// used only for pattern recognition that can't be computed directly — the
// agent never lets a failed LLM call blank out the numeric indicators.
type Technical struct {
	base
}

// NewTechnical builds the technical analysis agent.
func NewTechnical(store prompts.Store, mgr *llm.Manager, logger *zap.Logger) *Technical {
	return &Technical{base: newBase("technical", store, mgr, logger)}
}

var technicalFields = []string{
	"reversal_pattern", "continuation_pattern", "candlestick_pattern",
	"volume_confirmation", "divergence_detected", "divergence_type", "confidence_score",
}

func (a *Technical) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	bars := st.Market.OHLC[types.Timeframe5m]
	if len(bars) == 0 {
		bars = st.Market.OHLC[types.Timeframe1m]
	}
	if len(bars) < 14 {
		out := defaultTechnicalOutput()
		return state.PartialUpdate{AgentName: a.name, Output: out, Explanation: "insufficient OHLC data for technical analysis"}, nil
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
	}

	rsi := ruleengine.RSI(closes, 14)
	rsiStatus := "NEUTRAL"
	if rsi < 30 {
		rsiStatus = "OVERSOLD"
	} else if rsi > 70 {
		rsiStatus = "OVERBOUGHT"
	}

	window := 20
	if window > len(lows) {
		window = len(lows)
	}
	support := minOf(lows[len(lows)-window:])
	resistance := maxOf(highs[len(highs)-window:])

	currentPrice := st.Market.CurrentPrice
	if currentPrice == 0 {
		currentPrice = closes[len(closes)-1]
	}

	trendDirection, trendStrength := trendFromSMA(closes, currentPrice)

	out := types.AgentOutput{
		"rsi":             rsi,
		"rsi_status":      rsiStatus,
		"support_level":   support,
		"resistance_level": resistance,
		"trend_direction": trendDirection,
		"trend_strength":  trendStrength,
		"confidence_score": 0.7,
	}

	prompt := fmt.Sprintf(
		"Current Price: %.2f\nOHLC candles: %d\nRSI(14): %.2f (%s)\nSupport: %.2f\nResistance: %.2f\nTrend: %s (%.1f%% strength)\n\nAnalyze the technical patterns and provide your assessment.",
		currentPrice, len(bars), rsi, rsiStatus, support, resistance, trendDirection, trendStrength,
	)

	result := a.callStructured(ctx, st.AnalysisCohortID, prompt, technicalFields, 0.1, 600)
	if result.Err != nil {
		if result.RateLimited {
			return state.PartialUpdate{}, result.Err
		}
		out["confidence_score"] = 0.7
		return state.PartialUpdate{
			AgentName:   a.name,
			Output:      out,
			Explanation: fmt.Sprintf("technical analysis: %s trend, RSI %s, confidence 0.70 (LLM pattern recognition unavailable)", trendDirection, rsiStatus),
		}, nil
	}

	out["reversal_pattern"] = result.Obj["reversal_pattern"]
	out["continuation_pattern"] = result.Obj["continuation_pattern"]
	out["candlestick_pattern"] = result.Obj["candlestick_pattern"]
	out["volume_confirmation"] = boolOrDefault(result.Obj, "volume_confirmation", false)
	out["divergence_detected"] = boolOrDefault(result.Obj, "divergence_detected", false)
	out["divergence_type"] = result.Obj["divergence_type"]
	out["confidence_score"] = floatOrDefault(result.Obj, "confidence_score", 0.7)

	return state.PartialUpdate{
		AgentName: a.name,
		Output:    out,
		Explanation: fmt.Sprintf("technical analysis: %s trend, RSI %s, confidence %.2f",
			trendDirection, rsiStatus, floatOrDefault(result.Obj, "confidence_score", 0.7)),
		Incomplete: result.Incomplete,
	}, nil
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func defaultTechnicalOutput() types.AgentOutput {
	return types.AgentOutput{
		"error":            "INSUFFICIENT_DATA",
		"confidence_score": 0.0,
		"trend_direction":  "SIDEWAYS",
		"trend_strength":   30.0,
	}
}

func trendFromSMA(closes []float64, currentPrice float64) (string, float64) {
	n := len(closes)
	if n < 20 {
		return "SIDEWAYS", 30.0
	}
	sma20 := utils.CalculateMean(closes[n-20:])
	sma50 := sma20
	if n >= 50 {
		sma50 = utils.CalculateMean(closes[n-50:])
	}

	switch {
	case currentPrice > sma20 && sma20 > sma50:
		strength := ((currentPrice - sma20) / sma20 * 100) * 2
		if strength > 100 {
			strength = 100
		}
		return "UP", strength
	case currentPrice < sma20 && sma20 < sma50:
		strength := ((sma20 - currentPrice) / currentPrice * 100) * 2
		if strength > 100 {
			strength = 100
		}
		return "DOWN", strength
	default:
		return "SIDEWAYS", 30.0
	}
}
