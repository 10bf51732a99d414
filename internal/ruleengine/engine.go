// Package ruleengine evaluates planner-generated Rules against live ticks at
// the Execution Scheduler's ~10Hz cadence (spec §3/§4). Grounded on
// original_source/engines/rule_engine.py's RuleEngine: load_rules,
// update_indicators/_update_oi_changes, evaluate_rules/_conditions_met/
// _check_condition, execute_trade — translated to a synchronous, lock-guarded
// Go type instead of an asyncio class backed by Redis/MongoDB.
package ruleengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/marketmemory"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// EvaluationContext is the per-tick indicator snapshot a rule's conditions
// are checked against, the Go equivalent of _build_context's dict. Built
// fresh for every tick from the rolling buffer plus the engine's running OI
// and funding-rate state.
type EvaluationContext struct {
	Price                  float64
	RSI5                   float64
	FundingRate            float64
	VolumeSpikePct         float64
	PremiumAccelerationPct float64
	Resistance             float64
	Support                float64
	OIChangePct            map[string]float64 // keyed by "ce_<strike>_change_pct" / "pe_<strike>_change_pct"
}

// OIUpdate is one strike's current open-interest reading, the Go shape of
// the original's oi_data[strike] entries.
type OIUpdate struct {
	Strike float64
	CallOI float64
	PutOI  float64
}

// Engine evaluates active rules against ticks and dispatches matched rules to
// a broker. Safe for concurrent use; load_rules/update/evaluate are all
// mutex-guarded the way the original serializes through its asyncio event
// loop.
type Engine struct {
	logger *zap.Logger
	broker interfaces.BrokerAdapter
	alerts interfaces.AlertRouter

	mu          sync.Mutex
	rules       []*types.Rule
	prevOI      map[string]float64 // "ce_23500" -> last seen OI
	oiChangePct map[string]float64 // "ce_23500_change_pct" -> last computed change pct
	fundingRate float64
}

// NewEngine wires a rule engine to its broker and alert sink.
func NewEngine(logger *zap.Logger, broker interfaces.BrokerAdapter, alerts interfaces.AlertRouter) *Engine {
	return &Engine{
		logger:      logger.Named("ruleengine"),
		broker:      broker,
		alerts:      alerts,
		prevOI:      make(map[string]float64),
		oiChangePct: make(map[string]float64),
	}
}

// LoadRules replaces the active rule set, mirroring load_rules's behavior of
// wholesale-replacing self.active_rules from the latest published bundle.
// Rules already mid-flight (TradesExecuted > 0) from a prior bundle with the
// same RuleID keep their execution count rather than resetting to zero.
func (e *Engine) LoadRules(bundle types.RuleBundle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prevExecuted := make(map[string]int, len(e.rules))
	for _, r := range e.rules {
		prevExecuted[r.RuleID] = r.TradesExecuted
	}

	rules := make([]*types.Rule, len(bundle.Rules))
	for i := range bundle.Rules {
		r := bundle.Rules[i]
		if executed, ok := prevExecuted[r.RuleID]; ok {
			r.TradesExecuted = executed
		}
		rules[i] = &r
	}
	e.rules = rules
	e.logger.Info("loaded rule bundle", zap.String("strategyId", bundle.StrategyID), zap.Int("rules", len(rules)))
}

// UpdateOI folds the latest per-strike open-interest reading into the
// engine's change-percent tracking, the Go equivalent of _update_oi_changes.
func (e *Engine) UpdateOI(updates []OIUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, u := range updates {
		e.updateOneSide("ce", u.Strike, u.CallOI)
		e.updateOneSide("pe", u.Strike, u.PutOI)
	}
}

func (e *Engine) updateOneSide(side string, strike, oi float64) {
	if oi == 0 {
		return
	}
	key := fmt.Sprintf("%s_%g", side, strike)
	prev, ok := e.prevOI[key]
	if ok && prev > 0 {
		e.oiChangePct[key+"_change_pct"] = ((oi - prev) / prev) * 100
	}
	e.prevOI[key] = oi
}

// UpdateFundingRate records the latest futures funding rate for the
// funding_rate_above/below conditions (a SPEC_FULL.md addition for the
// crypto-derivatives instrument class; the original only targeted Indian
// options and had no funding-rate condition).
func (e *Engine) UpdateFundingRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fundingRate = rate
}

// buildContext assembles an EvaluationContext from the tick, the rolling
// buffer's RSI/volume/premium-acceleration indicators, and the engine's OI
// and funding-rate state. Grounded on _build_context, generalized to read
// indicator math from internal/ruleengine/indicators.go instead of
// pandas_ta.
func (e *Engine) buildContext(tick types.Tick, buf *marketmemory.Buffer, resistance, support float64) EvaluationContext {
	price, _ := tick.Price.Float64()

	closes := closesFromTicks(buf.RecentTicks(20))
	rsi := RSI(closes, 5)

	var volSpike, premAccel float64
	recent := buf.RecentTicks(21)
	if len(recent) >= 2 {
		vols := make([]float64, 0, len(recent)-1)
		for _, t := range recent[:len(recent)-1] {
			v, _ := t.TotalBuyQty.Add(t.TotalSellQty).Float64()
			vols = append(vols, v)
		}
		latestVol, _ := recent[len(recent)-1].TotalBuyQty.Add(recent[len(recent)-1].TotalSellQty).Float64()
		volSpike = VolumeSpikePct(vols, latestVol)
	}
	if len(closes) >= 3 {
		n := len(closes)
		premAccel = PremiumAccelerationPct(closes[n-3], closes[n-2], closes[n-1])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	oiCopy := make(map[string]float64, len(e.oiChangePct))
	for k, v := range e.oiChangePct {
		oiCopy[k] = v
	}
	return EvaluationContext{
		Price:                  price,
		RSI5:                   rsi,
		FundingRate:            e.fundingRate,
		VolumeSpikePct:         volSpike,
		PremiumAccelerationPct: premAccel,
		Resistance:             resistance,
		Support:                support,
		OIChangePct:            oiCopy,
	}
}

func closesFromTicks(ticks []types.Tick) []float64 {
	out := make([]float64, len(ticks))
	for i, t := range ticks {
		out[i], _ = t.Price.Float64()
	}
	return out
}

// checkCondition evaluates a single RuleCondition, the Go equivalent of
// _check_condition. volume_spike and premium_acceleration read real rolling
// indicators (SPEC_FULL.md §9.1) instead of the original's `return True`
// placeholder and its RSI>55 momentum stand-in.
func checkCondition(cond types.RuleCondition, ctx EvaluationContext) bool {
	switch cond.Type {
	case types.ConditionPriceAbove:
		return ctx.Price > cond.Value
	case types.ConditionPriceBelow:
		return ctx.Price < cond.Value
	case types.ConditionRSIAbove:
		return ctx.RSI5 > cond.Value
	case types.ConditionRSIBelow:
		return ctx.RSI5 < cond.Value
	case types.ConditionOISpikeCE:
		key := fmt.Sprintf("ce_%g_change_pct", cond.Strike)
		return ctx.OIChangePct[key] > minPctOrDefault(cond.MinPct, 10)
	case types.ConditionOISpikePE:
		key := fmt.Sprintf("pe_%g_change_pct", cond.Strike)
		return ctx.OIChangePct[key] > minPctOrDefault(cond.MinPct, 10)
	case types.ConditionFundingRateAbove:
		return ctx.FundingRate > cond.Value
	case types.ConditionFundingRateBelow:
		return ctx.FundingRate < cond.Value
	case types.ConditionVolumeSpike:
		return ctx.VolumeSpikePct > minPctOrDefault(cond.MinPct, 30)
	case types.ConditionPremiumAcceleration:
		return ctx.PremiumAccelerationPct > minPctOrDefault(cond.MinPct, 5)
	case types.ConditionPriceBreaksResistance:
		return ctx.Resistance > 0 && ctx.Price > ctx.Resistance
	case types.ConditionPriceBreaksSupport:
		return ctx.Support > 0 && ctx.Price < ctx.Support
	default:
		return false
	}
}

func minPctOrDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func conditionsMet(rule *types.Rule, ctx EvaluationContext) bool {
	for _, cond := range rule.Conditions {
		if !checkCondition(cond, ctx) {
			return false
		}
	}
	return true
}

// EvaluateTick checks every active rule against the current tick and
// returns the rules whose conditions are all satisfied and that have not
// exhausted MaxTrades, the Go equivalent of evaluate_rules. It does not
// dispatch trades itself — callers pass matches to Execute.
func (e *Engine) EvaluateTick(tick types.Tick, buf *marketmemory.Buffer, resistance, support float64) []*types.Rule {
	ctx := e.buildContext(tick, buf, resistance, support)

	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []*types.Rule
	for _, rule := range e.rules {
		if rule.TradesExecuted >= rule.MaxTrades {
			continue
		}
		if conditionsMet(rule, ctx) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// Execute places an order for a matched rule and increments its execution
// count, the Go equivalent of execute_trade (minus the paper/real order
// branch, which now lives entirely behind the BrokerAdapter boundary).
func (e *Engine) Execute(ctx context.Context, rule *types.Rule, tick types.Tick) (types.OrderResult, error) {
	qty := positionQty(rule, tick)
	if qty.IsZero() || qty.IsNegative() {
		return types.OrderResult{}, fmt.Errorf("ruleengine: invalid quantity for rule %q", rule.RuleID)
	}

	order := types.Order{
		ClientOrderID: fmt.Sprintf("rule_%s_%d", rule.RuleID, time.Now().UnixNano()),
		Instrument:    rule.Instrument,
		Side:          rule.Direction,
		Quantity:      qty,
		EntryPrice:    tick.Price,
		StopLoss:      stopLossPrice(rule, tick),
		TakeProfit:    takeProfitPrice(rule, tick),
	}

	result, err := e.broker.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("rule trade execution failed", zap.String("ruleId", rule.RuleID), zap.Error(err))
		return types.OrderResult{}, err
	}

	e.mu.Lock()
	rule.TradesExecuted++
	e.mu.Unlock()

	e.logger.Info("rule trade executed",
		zap.String("ruleId", rule.RuleID),
		zap.String("direction", string(rule.Direction)),
		zap.String("instrument", rule.Instrument),
		zap.String("qty", qty.String()),
	)
	return result, nil
}

// positionQty sizes the order from the rule's risk percentage against a
// fixed lot-size convention, the Go equivalent of _calculate_qty. A real
// account-balance-aware sizer lives in internal/agents' neutral-risk agent;
// the rule engine's own fallback stays as simple as the original's.
func positionQty(rule *types.Rule, tick types.Tick) decimal.Decimal {
	if rule.RiskPct <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(rule.RiskPct).Div(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(100)).Truncate(0)
}

func stopLossPrice(rule *types.Rule, tick types.Tick) decimal.Decimal {
	pct := decimal.NewFromFloat(rule.StopLossPct).Div(decimal.NewFromInt(100))
	if rule.Direction == types.OrderSideBuy {
		return tick.Price.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	return tick.Price.Mul(decimal.NewFromInt(1).Add(pct))
}

func takeProfitPrice(rule *types.Rule, tick types.Tick) decimal.Decimal {
	pct := decimal.NewFromFloat(rule.TargetPct).Div(decimal.NewFromInt(100))
	if rule.Direction == types.OrderSideBuy {
		return tick.Price.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return tick.Price.Mul(decimal.NewFromInt(1).Sub(pct))
}
