package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/internal/graph"
	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/planner"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/ruleengine"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

type fakeAgent struct {
	name    string
	process func(context.Context, *types.DecisionState) (state.PartialUpdate, error)
}

func (f *fakeAgent) Name() string         { return f.name }
func (f *fakeAgent) SystemPrompt() string { return "" }
func (f *fakeAgent) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	return f.process(ctx, st)
}

func noopUpdate(name string) func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
	return func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{AgentName: name, Output: types.AgentOutput{}}, nil
	}
}

type fakeMarketData struct {
	tick types.Tick
	bars []types.OHLCV
	err  error
}

func (f *fakeMarketData) LatestTick(context.Context, string) (types.Tick, error) {
	return f.tick, f.err
}
func (f *fakeMarketData) OHLCV(context.Context, string, types.Timeframe, int) ([]types.OHLCV, error) {
	return f.bars, f.err
}

type fakeBroker struct{}

func (f *fakeBroker) PlaceOrder(context.Context, types.Order) (types.OrderResult, error) {
	return types.OrderResult{OrderID: "ORD1", FilledPrice: decimalOf(100), FilledQty: decimalOf(1)}, nil
}

type fakeAdapter struct{ body string }

func (f *fakeAdapter) ChatCompletion(context.Context, string, string, llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Text: f.body}, nil
}

func testInstrument() *types.InstrumentProfile {
	return &types.InstrumentProfile{Symbol: "BTCUSDT", Type: types.InstrumentCryptoSpot, Hours: types.MarketHours{Always24x7: true}}
}

func testBars(n int, base float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	price := base
	for i := range out {
		price += 0.25
		out[i] = types.OHLCV{
			Timestamp: time.Unix(int64(i)*60, 0),
			Open:      decimalOf(price), High: decimalOf(price + 1), Low: decimalOf(price - 1),
			Close: decimalOf(price), Volume: decimalOf(100),
		}
	}
	return out
}

func newTestScheduler(t *testing.T, g *graph.Graph, md interfaces.MarketDataAdapter, planBody string) (*Scheduler, *interfaces.InMemoryKVCache, *interfaces.InMemoryDocumentStore) {
	t.Helper()

	cfg := types.LLMConfig{
		Providers:      []types.ProviderKeyConfig{{Name: "p1", APIKeys: []string{"k"}, Models: []string{"m"}}},
		MaxConcurrency: 2,
	}
	mgr, err := llm.NewManager(zap.NewNop(), cfg, &fakeAdapter{body: planBody}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, err := prompts.NewFileStore(t.TempDir(), prompts.DefaultPrompts)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cache := interfaces.NewInMemoryKVCache()
	docs := interfaces.NewInMemoryDocumentStore()
	clock := func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	p := planner.New(store, mgr, zap.NewNop(), testInstrument(), md, nil, cache, 15*time.Minute, clock)
	engine := ruleengine.NewEngine(zap.NewNop(), &fakeBroker{}, nil)

	s := New(zap.NewNop(), testInstrument(), g, p, engine, md, nil, cache, docs, nil,
		Config{StrategicInterval: time.Hour, StrategicDeadline: 50 * time.Millisecond, TacticalInterval: time.Hour, ExecutionInterval: time.Hour}, clock)
	return s, cache, docs
}

func simpleGraph(pmSignal types.SignalType, delay time.Duration) *graph.Graph {
	analysis := []state.Agent{&fakeAgent{name: "technical", process: noopUpdate("technical")}}
	pm := &fakeAgent{name: "portfolio_manager", process: func(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return state.PartialUpdate{}, ctx.Err()
			}
		}
		return state.PartialUpdate{AgentName: "portfolio_manager", FinalDecision: &state.FinalDecisionUpdate{Signal: pmSignal, EntryPrice: 100}}, nil
	}}
	exec := &fakeAgent{name: "execution", process: noopUpdate("execution")}
	return graph.NewGraph(zap.NewNop(), nil, analysis, nil, nil, pm, exec)
}

func TestRunStrategicCycleSucceeds(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(100)}, bars: testBars(10, 100)}
	respBody := `{"strategy_id":"s1","valid_until":"2026-07-31T01:00:00Z","rules":[{"name":"r","direction":"BUY","instrument":"BTCUSDT","conditions":[{"type":"price_above","value":1}]}]}`
	s, cache, docs := newTestScheduler(t, simpleGraph(types.SignalBuy, 0), md, respBody)

	ok := s.runStrategicCycle(context.Background())
	if !ok {
		t.Fatal("expected the strategic cycle to succeed")
	}
	if _, found, _ := cache.Get(context.Background(), s.planner.CacheKey()); !found {
		t.Fatal("expected a rule bundle to be published to the cache")
	}
	recs, _ := docs.ListSince(context.Background(), time.Time{})
	if len(recs) != 1 {
		t.Fatalf("expected exactly 1 decision record, got %d", len(recs))
	}
	if recs[0].FinalSignal != types.SignalBuy {
		t.Fatalf("unexpected recorded signal: %v", recs[0].FinalSignal)
	}
}

func TestRunStrategicCycleDeadlineExceeded(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(100)}, bars: testBars(10, 100)}
	s, _, docs := newTestScheduler(t, simpleGraph(types.SignalHold, 200*time.Millisecond), md, `{}`)

	ok := s.runStrategicCycle(context.Background())
	if ok {
		t.Fatal("expected the strategic cycle to report failure on deadline timeout")
	}
	if recs, _ := docs.ListSince(context.Background(), time.Time{}); len(recs) != 0 {
		t.Fatalf("expected no decision record to be persisted on a skipped cycle, got %d", len(recs))
	}
}

type capturingAlerts struct{ published []types.Alert }

func (c *capturingAlerts) Publish(_ context.Context, alert types.Alert) error {
	c.published = append(c.published, alert)
	return nil
}

// TestRunStrategicCycleAlertsOnIncompleteAnalysis exercises the "truncated
// agent response" path: a cohort member whose update is marked Incomplete
// still lets the graph finish with a HOLD-biased decision, and the cycle
// publishes an analysis_incomplete alert naming the affected agent count.
func TestRunStrategicCycleAlertsOnIncompleteAnalysis(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(100)}, bars: testBars(10, 100)}

	analysis := []state.Agent{
		&fakeAgent{name: "sentiment", process: func(context.Context, *types.DecisionState) (state.PartialUpdate, error) {
			return state.PartialUpdate{AgentName: "sentiment", Output: types.AgentOutput{"fear_greed_index": 50.0}, Incomplete: true}, nil
		}},
	}
	pm := &fakeAgent{name: "portfolio_manager", process: func(_ context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
		return state.PartialUpdate{AgentName: "portfolio_manager", FinalDecision: &state.FinalDecisionUpdate{Signal: types.SignalHold, EntryPrice: 100}}, nil
	}}
	exec := &fakeAgent{name: "execution", process: noopUpdate("execution")}
	g := graph.NewGraph(zap.NewNop(), nil, analysis, nil, nil, pm, exec)

	s, _, docs := newTestScheduler(t, g, md, `{}`)
	alerts := &capturingAlerts{}
	s.alerts = alerts

	ok := s.runStrategicCycle(context.Background())
	if !ok {
		t.Fatal("expected the cycle to complete despite an incomplete agent")
	}
	recs, _ := docs.ListSince(context.Background(), time.Time{})
	if len(recs) != 1 || recs[0].FinalSignal != types.SignalHold {
		t.Fatalf("expected a HOLD-biased decision record, got %+v", recs)
	}

	found := false
	for _, a := range alerts.published {
		if a.Type == "analysis_incomplete" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an analysis_incomplete alert, got %+v", alerts.published)
	}
}

// signalingAlerts is capturingAlerts plus a channel so a test can block
// until the asynchronous review goroutine has actually published, instead of
// racing a sleep against it.
type signalingAlerts struct {
	capturingAlerts
	published chan types.Alert
}

func (s *signalingAlerts) Publish(ctx context.Context, alert types.Alert) error {
	_ = s.capturingAlerts.Publish(ctx, alert)
	s.published <- alert
	return nil
}

// TestRunStrategicCycleReviewOffByDefaultPublishesNothing confirms the
// review agent never runs unless WithReview was called, matching spec
// §4.8's "optional and off by default".
func TestRunStrategicCycleReviewOffByDefaultPublishesNothing(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(100)}, bars: testBars(10, 100)}
	s, _, _ := newTestScheduler(t, simpleGraph(types.SignalHold, 0), md, `{}`)
	alerts := &capturingAlerts{}
	s.alerts = alerts

	if !s.runStrategicCycle(context.Background()) {
		t.Fatal("expected the cycle to succeed")
	}
	for _, a := range alerts.published {
		if a.Type == "decision_reviewed" {
			t.Fatalf("expected no review alert when review is not enabled, got %+v", a)
		}
	}
}

// TestRunStrategicCycleWithReviewPublishesCritique enables the Review Agent
// via WithReview and confirms runStrategicCycle's own deadline-bound return
// is not blocked by it: the cycle must report success immediately, and the
// critique alert arrives slightly later off the hot path.
func TestRunStrategicCycleWithReviewPublishesCritique(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(100)}, bars: testBars(10, 100)}
	s, _, _ := newTestScheduler(t, simpleGraph(types.SignalBuy, 0), md, `{}`)

	alerts := &signalingAlerts{published: make(chan types.Alert, 4)}
	s.alerts = alerts

	reviewBody := `{"critique": "entry matched the analysis", "lessons": "none", "confidence_in_hindsight": 0.7}`
	reviewMgr, err := llm.NewManager(zap.NewNop(), types.LLMConfig{
		Providers:      []types.ProviderKeyConfig{{Name: "p1", APIKeys: []string{"k"}, Models: []string{"m"}}},
		MaxConcurrency: 1,
	}, &fakeAdapter{body: reviewBody}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	store, err := prompts.NewFileStore(t.TempDir(), prompts.DefaultPrompts)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s.WithReview(agents.NewReviewAgent(store, reviewMgr, zap.NewNop()))

	if !s.runStrategicCycle(context.Background()) {
		t.Fatal("expected the cycle to succeed")
	}

	select {
	case alert := <-alerts.published:
		if alert.Type != "decision_reviewed" {
			t.Fatalf("expected a decision_reviewed alert, got %+v", alert)
		}
		if alert.Message != "entry matched the analysis" {
			t.Fatalf("expected the review critique as the alert message, got %q", alert.Message)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the review critique alert")
	}
}

func TestTacticalCheckNeverMutatesStrategicState(t *testing.T) {
	md := &fakeMarketData{tick: types.Tick{Price: decimalOf(110)}, bars: testBars(10, 100)}
	s, cache, _ := newTestScheduler(t, simpleGraph(types.SignalHold, 0), md, `{}`)

	bundle := types.RuleBundle{StrategyID: "s1", GeneratedPrice: 100, ValidUntil: time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)}
	payload, _ := json.Marshal(bundle)
	if err := cache.Set(context.Background(), s.planner.CacheKey(), payload, time.Hour); err != nil {
		t.Fatalf("cache.Set: %v", err)
	}

	before := s.lastStrategic
	s.runTacticalCheck(context.Background())
	after := s.lastStrategic
	if before != after {
		t.Fatal("tactical check must never mutate the last-strategic-run snapshot (it never triggers a new graph run)")
	}
}

func TestSupportResistanceFromBars(t *testing.T) {
	bars := testBars(5, 100)
	support, resistance := supportResistanceFromBars(bars)
	if support >= resistance {
		t.Fatalf("expected support < resistance, got support=%v resistance=%v", support, resistance)
	}
}

func TestVolatilityProxyConstantPriceIsZero(t *testing.T) {
	bars := make([]types.OHLCV, 5)
	for i := range bars {
		bars[i] = types.OHLCV{Close: decimalOf(100)}
	}
	if v := volatilityProxy(bars); v != 0 {
		t.Fatalf("expected zero volatility for a flat price series, got %v", v)
	}
}
