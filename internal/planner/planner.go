// Package planner implements the Strategy Planner (spec §4.5): it runs on
// the Strategic tick, after the Orchestration Graph, and publishes a
// RuleBundle of CURRENT and FUTURE-scenario rules into the shared key-value
// cache for the Rule Engine to consume. Grounded on
// original_source/engines/strategy_planner.py's generate_rules(): indicator
// computation, a predictive dual-mode prompt, structured-JSON generation,
// and per-rule validation, translated from a Redis-backed asyncio method
// into a small Go type built around internal/llm.Manager and
// internal/interfaces.KVCache.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/ruleengine"
	"github.com/atlas-ai/trading-engine/internal/workers"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// rsiLength matches the original's pandas_ta.rsi(length=5) call.
const rsiLength = 5

// supportResistanceWindow is the number of trailing bars the original scans
// for a 10-bar min/max support/resistance read.
const supportResistanceWindow = 10

// validityPadding is added to the Strategic cadence to get a rule bundle's
// validity deadline (spec §4.5: "typically cadence + 5 min").
const validityPadding = 5 * time.Minute

// cacheKeyPrefix namespaces the well-known RuleBundle cache key by
// instrument, since one process may plan for more than one instrument.
const cacheKeyPrefix = "rulebundle:"

// Planner is the Strategy Planner. One instance plans for one instrument.
type Planner struct {
	logger *zap.Logger
	llmMgr *llm.Manager
	prompt string

	instrument  *types.InstrumentProfile
	marketData  interfaces.MarketDataAdapter
	derivatives interfaces.DerivativesAdapter // optional, nil when the instrument has none
	cache       interfaces.KVCache

	cadence time.Duration
	clock   func() time.Time

	// fetchPool runs the tick/bars/options/futures market-context reads
	// concurrently; each is an independent round trip to the market data or
	// derivatives adapter, so nothing blocks on the others.
	fetchPool *workers.Pool
}

// New builds a Planner. derivatives may be nil for instruments with neither
// options nor futures. clock defaults to time.Now when nil.
func New(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, instrument *types.InstrumentProfile, marketData interfaces.MarketDataAdapter, derivatives interfaces.DerivativesAdapter, cache interfaces.KVCache, cadence time.Duration, clock func() time.Time) *Planner {
	prompt, err := store.Get("strategy_planner", "")
	if err != nil || prompt == "" {
		prompt = prompts.DefaultPrompts["strategy_planner"]
	}
	if clock == nil {
		clock = time.Now
	}
	if cadence <= 0 {
		cadence = 15 * time.Minute
	}
	pool := workers.NewPool(logger.Named("strategy_planner"), workers.DefaultPoolConfig("market_context_fetch"))
	pool.Start()
	return &Planner{
		logger:      logger.Named("strategy_planner"),
		llmMgr:      mgr,
		prompt:      prompt,
		instrument:  instrument,
		marketData:  marketData,
		derivatives: derivatives,
		cache:       cache,
		cadence:     cadence,
		clock:       clock,
		fetchPool:   pool,
	}
}

// Stop shuts down the planner's market-context fetch pool. Safe to call once
// during process shutdown.
func (p *Planner) Stop() error {
	return p.fetchPool.Stop()
}

// CacheKey returns the well-known key the Rule Engine reads the current
// RuleBundle from for this planner's instrument.
func (p *Planner) CacheKey() string {
	return cacheKeyPrefix + p.instrument.Symbol
}

// marketContext is the generic (options/futures/spot) snapshot the
// predictive prompt is built from, mirroring _get_market_context's combined
// price/OHLC/derivatives/indicator assembly.
type marketContext struct {
	Price       float64
	RSI5        float64
	Support     float64
	Resistance  float64
	OHLC        []types.OHLCV
	OptionChain []types.OptionsChainEntry
	Futures     *types.FuturesSnapshot
}

// GenerateRules computes the current indicator context, asks the Provider
// Manager for a predictive rule set, validates it, and persists the
// resulting bundle into the cache with a TTL equal to its remaining
// validity. Returns the published bundle, or nil with no error if the LLM
// produced zero valid rules (nothing worth publishing, the prior bundle — if
// any — is left in place).
func (p *Planner) GenerateRules(ctx context.Context) (*types.RuleBundle, error) {
	mctx, err := p.buildMarketContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy_planner: market context: %w", err)
	}

	userPrompt := p.buildUserPrompt(mctx)

	obj, _, err := p.llmMgr.CallStructured(ctx, llm.StructuredCallOptions{
		CallOptions: llm.CallOptions{
			AgentName:    "strategy_planner",
			SystemPrompt: p.prompt,
			UserPrompt:   userPrompt,
			Temperature:  0.5,
			MaxTokens:    1200,
		},
		ExpectedFields: []string{"strategy_id", "valid_until", "rules"},
	})
	if err != nil {
		return nil, fmt.Errorf("strategy_planner: llm call: %w", err)
	}

	now := p.clock()
	strategyID := stringOr(obj["strategy_id"], fmt.Sprintf("strategy_%d", now.UnixNano()))
	validUntil := parseValidUntil(obj["valid_until"], now.Add(p.cadence+validityPadding))

	rawRules, _ := obj["rules"].([]any)
	rules := make([]types.Rule, 0, len(rawRules))
	for i, raw := range rawRules {
		ruleObj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rule, valid := parseRule(ruleObj, i)
		if !valid {
			p.logger.Warn("dropping invalid rule", zap.Int("index", i))
			continue
		}
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		p.logger.Warn("no valid rules produced, leaving the prior bundle in place")
		return nil, nil
	}

	bundle := &types.RuleBundle{
		StrategyID:     strategyID,
		Rules:          rules,
		ValidUntil:     validUntil,
		GeneratedAt:    now,
		GeneratedPrice: mctx.Price,
	}

	if err := p.store(ctx, bundle, now); err != nil {
		return nil, fmt.Errorf("strategy_planner: store: %w", err)
	}

	p.logger.Info("published rule bundle",
		zap.String("strategy_id", bundle.StrategyID),
		zap.Int("rules", len(bundle.Rules)),
		zap.Time("valid_until", bundle.ValidUntil))

	return bundle, nil
}

// store persists bundle into the cache with a TTL equal to its remaining
// validity, skipping the write entirely if it's already expired (matches
// _store_rules's expired-bundle skip).
func (p *Planner) store(ctx context.Context, bundle *types.RuleBundle, now time.Time) error {
	ttl := bundle.ValidUntil.Sub(now)
	if ttl <= 0 {
		p.logger.Warn("generated bundle already expired, skipping cache write")
		return nil
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return p.cache.Set(ctx, p.CacheKey(), payload, ttl)
}

// buildMarketContext assembles the price/OHLC/derivatives/indicator snapshot
// the predictive prompt is built from (_get_market_context).
func (p *Planner) buildMarketContext(ctx context.Context) (marketContext, error) {
	var (
		tick             types.Tick
		bars             []types.OHLCV
		chain            []types.OptionsChainEntry
		futures          *types.FuturesSnapshot
		tickErr, barsErr error
	)

	// The tick, the OHLCV window, and (when applicable) the options/futures
	// reads are independent round trips to the market data/derivatives
	// adapters. Running them through fetchPool instead of sequentially
	// shortens the Strategic-tick critical path by the slowest single call
	// rather than their sum.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = p.fetchPool.SubmitWait(workers.TaskFunc(func() error {
			tick, tickErr = p.marketData.LatestTick(ctx, p.instrument.Symbol)
			return tickErr
		}))
	}()
	go func() {
		defer wg.Done()
		_ = p.fetchPool.SubmitWait(workers.TaskFunc(func() error {
			bars, barsErr = p.marketData.OHLCV(ctx, p.instrument.Symbol, types.Timeframe1m, supportResistanceWindow+rsiLength+1)
			return barsErr
		}))
	}()

	if p.derivatives != nil && p.instrument.HasOptions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.fetchPool.SubmitWait(workers.TaskFunc(func() error {
				c, err := p.derivatives.OptionsChain(ctx, p.instrument.Symbol)
				if err == nil {
					chain = c
				}
				return nil
			}))
		}()
	}
	if p.derivatives != nil && p.instrument.HasFutures {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.fetchPool.SubmitWait(workers.TaskFunc(func() error {
				f, err := p.derivatives.Futures(ctx, p.instrument.Symbol)
				if err == nil {
					futures = &f
				}
				return nil
			}))
		}()
	}
	wg.Wait()

	if tickErr != nil {
		return marketContext{}, tickErr
	}
	if barsErr != nil {
		return marketContext{}, barsErr
	}
	price, _ := tick.Price.Float64()

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		c, _ := bar.Close.Float64()
		closes[i] = c
	}
	rsi := ruleengine.RSI(closes, rsiLength)
	support, resistance := supportResistance(bars)

	mctx := marketContext{Price: price, RSI5: rsi, Support: support, Resistance: resistance, OHLC: bars}

	if chain != nil {
		mctx.OptionChain = chain
	}
	if futures != nil {
		futPrice, _ := futures.LastPrice.Float64()
		mctx.Futures = futures
		// futures LTP overrides spot price when available, matching the
		// original's price resolution order.
		if futPrice > 0 {
			mctx.Price = futPrice
		}
	}

	return mctx, nil
}

// supportResistance returns the min low / max high over the trailing
// supportResistanceWindow bars (fewer if not enough are buffered yet).
func supportResistance(bars []types.OHLCV) (support, resistance float64) {
	if len(bars) == 0 {
		return 0, 0
	}
	window := bars
	if len(window) > supportResistanceWindow {
		window = window[len(window)-supportResistanceWindow:]
	}
	low, _ := window[0].Low.Float64()
	high, _ := window[0].High.Float64()
	support, resistance = low, high
	for _, bar := range window[1:] {
		l, _ := bar.Low.Float64()
		h, _ := bar.High.Float64()
		if l < support {
			support = l
		}
		if h > resistance {
			resistance = h
		}
	}
	return support, resistance
}

// buildUserPrompt renders the generic (instrument-type-aware) market
// snapshot into the user turn, following _get_market_context's framing:
// options chain when supported, futures snapshot when supported, else a
// plain spot read, plus the RSI/support/resistance indicators every
// instrument type gets.
func (p *Planner) buildUserPrompt(mctx marketContext) string {
	prompt := fmt.Sprintf(`Instrument: %s (%s)
Current Price: %.4f
RSI(5): %.1f
Support: %.4f
Resistance: %.4f
`, p.instrument.Symbol, p.instrument.Type, mctx.Price, mctx.RSI5, mctx.Support, mctx.Resistance)

	if len(mctx.OptionChain) > 0 {
		prompt += fmt.Sprintf("\nOptions chain (%d strikes nearest the money):\n", len(mctx.OptionChain))
		for _, entry := range mctx.OptionChain {
			strike, _ := entry.Strike.Float64()
			callOI, _ := entry.CallOI.Float64()
			putOI, _ := entry.PutOI.Float64()
			prompt += fmt.Sprintf("- strike %.2f: call OI %.0f, put OI %.0f\n", strike, callOI, putOI)
		}
	}
	if mctx.Futures != nil {
		funding, _ := mctx.Futures.FundingRate.Float64()
		prompt += fmt.Sprintf("\nFutures funding rate: %.4f%%\n", funding*100)
	}

	prompt += fmt.Sprintf(`
Generate a RuleBundle with 3-5 rules. Mix CURRENT rules for the present
conditions above with FUTURE/preparatory rules for scenarios that haven't
happened yet (a funding-rate reversal, a resistance/support break, an open
interest spike). Every rule needs a name, a direction (BUY or SELL), the
instrument symbol (%s), and at least one condition.`, p.instrument.Symbol)

	return prompt
}

// parseRule validates and converts one raw rule object, matching
// _validate_rule's required-field and non-empty-conditions checks, index is
// used only to synthesize a rule id when the model omits one.
func parseRule(obj map[string]any, index int) (types.Rule, bool) {
	name, _ := obj["name"].(string)
	instrument, _ := obj["instrument"].(string)
	directionRaw, _ := obj["direction"].(string)
	rawConditions, _ := obj["conditions"].([]any)

	if name == "" || instrument == "" {
		return types.Rule{}, false
	}

	var direction types.OrderSide
	switch directionRaw {
	case "BUY":
		direction = types.OrderSideBuy
	case "SELL":
		direction = types.OrderSideSell
	default:
		return types.Rule{}, false
	}

	if len(rawConditions) == 0 {
		return types.Rule{}, false
	}
	conditions := make([]types.RuleCondition, 0, len(rawConditions))
	for _, rc := range rawConditions {
		condObj, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		condType, _ := condObj["type"].(string)
		if condType == "" {
			continue
		}
		conditions = append(conditions, types.RuleCondition{
			Type:   types.ConditionType(condType),
			Value:  floatFromAny(condObj["value"]),
			Strike: floatFromAny(condObj["strike"]),
			MinPct: floatFromAny(condObj["min_pct"]),
		})
	}
	if len(conditions) == 0 {
		return types.Rule{}, false
	}

	ruleID, _ := obj["rule_id"].(string)
	if ruleID == "" {
		ruleID = fmt.Sprintf("rule_%d", index)
	}

	scenario := types.ScenarioCurrent
	if s, _ := obj["scenario_type"].(string); s == string(types.ScenarioFuture) {
		scenario = types.ScenarioFuture
	}

	riskPct := 1.0
	if sizing, ok := obj["position_size"].(map[string]any); ok {
		riskPct = floatFromAny(sizing["risk_pct"])
		if riskPct == 0 {
			riskPct = 1.0
		}
	}
	stopLossPct := floatFromAny(nestedField(obj["stop_loss"], "price_pct"))
	targetPct := floatFromAny(nestedField(obj["target"], "price_pct"))

	maxTrades := int(floatFromAny(obj["max_trades"]))
	if maxTrades <= 0 {
		maxTrades = 1
	}

	return types.Rule{
		RuleID:      ruleID,
		Name:        name,
		Direction:   direction,
		Instrument:  instrument,
		Conditions:  conditions,
		RiskPct:     riskPct,
		StopLossPct: stopLossPct,
		TargetPct:   targetPct,
		MaxTrades:   maxTrades,
		Scenario:    scenario,
	}, true
}

func nestedField(v any, key string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

func floatFromAny(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// parseValidUntil parses an ISO-8601 timestamp from the model's response,
// falling back to def on any parse failure or missing field.
func parseValidUntil(v any, def time.Time) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return def
}
