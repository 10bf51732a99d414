package agents

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/sizing"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// riskProfile is a purely arithmetic risk agent (no LLM call), grounded on
// original_source/agents/risk_agents.py's shared RiskAgent base: fixed
// risk/stop-loss/leverage parameters per profile, position size derived from
// an assumed account value, a stop-loss price derived from the current
// signal direction.
type riskProfile struct {
	name         string
	riskPct      float64
	stopLossPct  float64
	leverage     float64
	accountValue float64
	logger       *zap.Logger
}

// Aggressive is the Aggressive Risk Management Agent.
type Aggressive struct{ riskProfile }

// NewAggressive builds the aggressive risk agent.
func NewAggressive(logger *zap.Logger, accountValue float64) *Aggressive {
	return &Aggressive{riskProfile{name: "aggressive_risk", riskPct: 3.0, stopLossPct: 2.0, leverage: 1.5, accountValue: accountValue, logger: logger.Named("aggressive_risk")}}
}

// Conservative is the Conservative Risk Management Agent.
type Conservative struct{ riskProfile }

// NewConservative builds the conservative risk agent.
func NewConservative(logger *zap.Logger, accountValue float64) *Conservative {
	return &Conservative{riskProfile{name: "conservative_risk", riskPct: 1.0, stopLossPct: 1.0, leverage: 1.0, accountValue: accountValue, logger: logger.Named("conservative_risk")}}
}

// Neutral is the Neutral Risk Management Agent — the Portfolio Manager's
// default sizing/levels source (spec §4.4). It additionally runs the
// Kelly-criterion position sizer (internal/sizing.PositionSizer, adapted
// from the teacher's generic sizing module) instead of the fixed risk_pct
// arithmetic the aggressive/conservative profiles use, since this is the
// slot the Portfolio Manager actually reads sizing and levels from.
type Neutral struct {
	riskProfile
	sizer *sizing.PositionSizer
}

// NewNeutral builds the neutral risk agent.
func NewNeutral(logger *zap.Logger, accountValue float64, sizer *sizing.PositionSizer) *Neutral {
	return &Neutral{
		riskProfile: riskProfile{name: "neutral_risk", riskPct: 2.0, stopLossPct: 1.5, leverage: 1.25, accountValue: accountValue, logger: logger.Named("neutral_risk")},
		sizer:       sizer,
	}
}

func (a *riskProfile) Name() string         { return a.name }
func (a *riskProfile) SystemPrompt() string { return fmt.Sprintf("%s risk management: position size, stop-loss, and leverage recommendations.", a.name) }

func (a *riskProfile) process(st *types.DecisionState) state.PartialUpdate {
	currentPrice := st.Market.CurrentPrice
	if currentPrice == 0 {
		out := types.AgentOutput{"position_size": 0, "stop_loss_pct": 0.0, "leverage": 1.0, "risk_amount": 0.0}
		return state.PartialUpdate{AgentName: a.name, Output: out, Explanation: "no price data"}
	}

	riskAmount := a.accountValue * (a.riskPct / 100)
	stopLossPerUnit := currentPrice * (a.stopLossPct / 100)
	positionSize := 0
	if stopLossPerUnit > 0 {
		positionSize = int(riskAmount / stopLossPerUnit)
	}

	var stopLossPrice float64
	switch st.FinalSignal {
	case types.SignalBuy, types.SignalStrongBuy, types.SignalWeakBuy:
		stopLossPrice = currentPrice * (1 - a.stopLossPct/100)
	case types.SignalSell, types.SignalStrongSell, types.SignalWeakSell:
		stopLossPrice = currentPrice * (1 + a.stopLossPct/100)
	default:
		stopLossPrice = currentPrice
	}

	out := types.AgentOutput{
		"position_size":    positionSize,
		"stop_loss_pct":    a.stopLossPct,
		"stop_loss_price":  stopLossPrice,
		"leverage":         a.leverage,
		"risk_amount":      riskAmount,
		"risk_pct":         a.riskPct,
	}

	return state.PartialUpdate{
		AgentName:   a.name,
		Output:      out,
		Explanation: fmt.Sprintf("%s risk: position_size=%d, stop_loss=%.1f%%, leverage=%.2fx", a.name, positionSize, a.stopLossPct, a.leverage),
	}
}

func (a *Aggressive) Process(_ context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	return a.process(st), nil
}

func (a *Conservative) Process(_ context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	return a.process(st), nil
}

func (a *Neutral) Process(_ context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	update := a.process(st)
	if a.sizer == nil || st.Market.CurrentPrice == 0 {
		return update, nil
	}

	stopLoss, _ := update.Output["stop_loss_price"].(float64)
	takeProfit := st.Market.CurrentPrice + (st.Market.CurrentPrice - stopLoss) // symmetric 1R target by default

	winRate := 0.5
	avgWin, avgLoss := 1.5, 1.0
	confidence := 0.5
	if bc := st.BullConfidence; bc > 0 {
		confidence = bc
	}

	result := a.sizer.CalculateSize(&sizing.SizingRequest{
		Symbol:         symbolOrDefault(st),
		PortfolioValue: decimal.NewFromFloat(a.accountValue),
		CurrentPrice:   decimal.NewFromFloat(st.Market.CurrentPrice),
		StopLoss:       decimal.NewFromFloat(stopLoss),
		TakeProfit:     decimal.NewFromFloat(takeProfit),
		WinRate:        winRate,
		AvgWin:         avgWin,
		AvgLoss:        avgLoss,
		Confidence:     confidence,
	})

	units, _ := result.PositionUnits.Float64()
	update.Output["kelly_position_units"] = units
	update.Output["kelly_position_pct"] = result.PositionPct
	update.Output["kelly_limiting_factor"] = result.LimitingFactor
	return update, nil
}

func symbolOrDefault(st *types.DecisionState) string {
	if v, ok := st.Technical["instrument"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "instrument"
}
