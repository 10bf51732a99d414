package planner_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/planner"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func newPromptStore(t *testing.T) prompts.Store {
	t.Helper()
	store, err := prompts.NewFileStore(t.TempDir(), prompts.DefaultPrompts)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

// fakeAdapter returns a fixed chat-completion body, standing in for a real
// provider endpoint so the planner's prompt/validation logic can be tested
// without an HTTP call.
type fakeAdapter struct {
	body string
	err  error
}

func (f *fakeAdapter) ChatCompletion(context.Context, string, string, llm.ChatRequest) (llm.ChatResponse, error) {
	if f.err != nil {
		return llm.ChatResponse{}, f.err
	}
	return llm.ChatResponse{Text: f.body, TokensUsed: 42}, nil
}

type fakeMarketData struct {
	tick types.Tick
	bars []types.OHLCV
}

func (f *fakeMarketData) LatestTick(context.Context, string) (types.Tick, error) { return f.tick, nil }
func (f *fakeMarketData) OHLCV(context.Context, string, types.Timeframe, int) ([]types.OHLCV, error) {
	return f.bars, nil
}

func newManager(t *testing.T, body string) *llm.Manager {
	t.Helper()
	cfg := types.LLMConfig{
		Providers: []types.ProviderKeyConfig{
			{Name: "test-provider", APIKeys: []string{"key"}, Models: []string{"model"}},
		},
		MaxConcurrency: 2,
	}
	mgr, err := llm.NewManager(zap.NewNop(), cfg, &fakeAdapter{body: body}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func bars(n int, base float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	price := base
	for i := range out {
		price += 0.5
		out[i] = types.OHLCV{
			Timestamp: time.Unix(int64(i)*60, 0),
			Open:      decimalOf(price),
			High:      decimalOf(price + 1),
			Low:       decimalOf(price - 1),
			Close:     decimalOf(price),
			Volume:    decimalOf(1000),
		}
	}
	return out
}

func instrumentProfile() *types.InstrumentProfile {
	return &types.InstrumentProfile{
		Symbol: "BTCUSDT",
		Type:   types.InstrumentCryptoSpot,
		Hours:  types.MarketHours{Always24x7: true},
	}
}

func TestGenerateRulesPublishesValidBundle(t *testing.T) {
	respBody := `{
		"strategy_id": "strat-1",
		"valid_until": "2026-07-31T00:20:00Z",
		"rules": [
			{
				"rule_id": "r1", "name": "breakout long", "scenario_type": "CURRENT",
				"direction": "BUY", "instrument": "BTCUSDT",
				"conditions": [{"type": "price_above", "value": 100}],
				"position_size": {"risk_pct": 0.5}, "max_trades": 2
			},
			{
				"rule_id": "r2", "name": "funding reversal", "scenario_type": "FUTURE",
				"direction": "SELL", "instrument": "BTCUSDT",
				"conditions": [{"type": "funding_rate_above", "value": 0.02}],
				"max_trades": 1
			}
		]
	}`

	mgr := newManager(t, respBody)
	cache := interfaces.NewInMemoryKVCache()
	md := &fakeMarketData{
		tick: types.Tick{Instrument: "BTCUSDT", Price: decimalOf(105)},
		bars: bars(15, 100),
	}
	clock := func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	p := planner.New(newPromptStore(t), mgr, zap.NewNop(), instrumentProfile(), md, nil, cache, 15*time.Minute, clock)

	bundle, err := p.GenerateRules(context.Background())
	if err != nil {
		t.Fatalf("GenerateRules: %v", err)
	}
	if bundle == nil {
		t.Fatal("expected a non-nil bundle")
	}
	if len(bundle.Rules) != 2 {
		t.Fatalf("expected 2 valid rules, got %d", len(bundle.Rules))
	}
	if bundle.Rules[0].Scenario != types.ScenarioCurrent || bundle.Rules[1].Scenario != types.ScenarioFuture {
		t.Fatalf("unexpected scenario tags: %v / %v", bundle.Rules[0].Scenario, bundle.Rules[1].Scenario)
	}

	raw, ok, err := cache.Get(context.Background(), p.CacheKey())
	if err != nil || !ok {
		t.Fatalf("expected the bundle to be cached: ok=%v err=%v", ok, err)
	}
	var stored types.RuleBundle
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("unmarshal cached bundle: %v", err)
	}
	if stored.StrategyID != "strat-1" {
		t.Fatalf("unexpected cached strategy id: %s", stored.StrategyID)
	}
}

func TestGenerateRulesDropsInvalidRules(t *testing.T) {
	respBody := `{
		"strategy_id": "strat-2",
		"valid_until": "2026-07-31T00:20:00Z",
		"rules": [
			{"name": "missing direction", "instrument": "BTCUSDT", "conditions": [{"type": "price_above", "value": 1}]},
			{"name": "no conditions", "direction": "BUY", "instrument": "BTCUSDT", "conditions": []},
			{"name": "valid one", "direction": "BUY", "instrument": "BTCUSDT", "conditions": [{"type": "rsi_above", "value": 60}]}
		]
	}`

	mgr := newManager(t, respBody)
	cache := interfaces.NewInMemoryKVCache()
	md := &fakeMarketData{
		tick: types.Tick{Instrument: "BTCUSDT", Price: decimalOf(105)},
		bars: bars(15, 100),
	}
	clock := func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	p := planner.New(newPromptStore(t), mgr, zap.NewNop(), instrumentProfile(), md, nil, cache, 15*time.Minute, clock)

	bundle, err := p.GenerateRules(context.Background())
	if err != nil {
		t.Fatalf("GenerateRules: %v", err)
	}
	if len(bundle.Rules) != 1 {
		t.Fatalf("expected exactly 1 surviving rule, got %d", len(bundle.Rules))
	}
	if bundle.Rules[0].Name != "valid one" {
		t.Fatalf("unexpected surviving rule: %s", bundle.Rules[0].Name)
	}
}

func TestGenerateRulesNoValidRulesLeavesCacheUntouched(t *testing.T) {
	respBody := `{"strategy_id": "strat-3", "valid_until": "2026-07-31T00:20:00Z", "rules": []}`

	mgr := newManager(t, respBody)
	cache := interfaces.NewInMemoryKVCache()
	md := &fakeMarketData{
		tick: types.Tick{Instrument: "BTCUSDT", Price: decimalOf(105)},
		bars: bars(15, 100),
	}
	clock := func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	p := planner.New(newPromptStore(t), mgr, zap.NewNop(), instrumentProfile(), md, nil, cache, 15*time.Minute, clock)

	bundle, err := p.GenerateRules(context.Background())
	if err != nil {
		t.Fatalf("GenerateRules: %v", err)
	}
	if bundle != nil {
		t.Fatalf("expected a nil bundle when no rules validate, got %+v", bundle)
	}
	if _, ok, _ := cache.Get(context.Background(), p.CacheKey()); ok {
		t.Fatal("expected no cache entry to be written")
	}
}
