package agents_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

func decOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeAdapter returns a fixed chat-completion body, standing in for a real
// provider endpoint so each agent's structured-call handling can be tested
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

func newTestManager(t *testing.T, body string) *llm.Manager {
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

func newFailingTestManager(t *testing.T, failErr error) *llm.Manager {
	t.Helper()
	cfg := types.LLMConfig{
		Providers: []types.ProviderKeyConfig{
			{Name: "test-provider", APIKeys: []string{"key"}, Models: []string{"model"}},
		},
		MaxConcurrency: 2,
	}
	mgr, err := llm.NewManager(zap.NewNop(), cfg, &fakeAdapter{err: failErr}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func newTestPromptStore(t *testing.T) prompts.Store {
	t.Helper()
	store, err := prompts.NewFileStore(t.TempDir(), prompts.DefaultPrompts)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func instrumentProfileForTest() *types.InstrumentProfile {
	return &types.InstrumentProfile{
		Symbol: "BTCUSDT",
		Type:   types.InstrumentCryptoSpot,
		Hours:  types.MarketHours{Always24x7: true},
	}
}

func barsForTest(n int, base float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	price := base
	for i := range out {
		price += 0.5
		out[i] = types.OHLCV{
			Open:   decOf(price),
			High:   decOf(price + 1),
			Low:    decOf(price - 1),
			Close:  decOf(price),
			Volume: decOf(1000),
		}
	}
	return out
}
