package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/pkg/types"
)

type fakeMarketData struct {
	tick types.Tick
	bars []types.OHLCV
	err  error
}

func (f *fakeMarketData) LatestTick(ctx context.Context, instrument string) (types.Tick, error) {
	if f.err != nil {
		return types.Tick{}, f.err
	}
	return f.tick, nil
}

func (f *fakeMarketData) OHLCV(ctx context.Context, instrument string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return f.bars, nil
}

type fakeDerivatives struct {
	funding types.FuturesSnapshot
	chain   []types.OptionsChainEntry
	err     error
}

func (f *fakeDerivatives) OptionsChain(context.Context, string) ([]types.OptionsChainEntry, error) {
	return f.chain, f.err
}

func (f *fakeDerivatives) Futures(context.Context, string) (types.FuturesSnapshot, error) {
	return f.funding, f.err
}

func cryptoSpotProfile() *types.InstrumentProfile {
	return &types.InstrumentProfile{Symbol: "BTCUSDT", Type: types.InstrumentCryptoSpot, Hours: types.MarketHours{Always24x7: true}}
}

func TestPaperBrokerPlaceOrderReturnsSimulatedFill(t *testing.T) {
	md := &fakeMarketData{
		tick: types.Tick{
			Instrument: "BTCUSDT",
			Price:      decimal.NewFromInt(65000),
			BestBid:    decimal.NewFromInt(64995),
			BestAsk:    decimal.NewFromInt(65005),
		},
	}
	broker := NewPaperBroker(zap.NewNop(), cryptoSpotProfile(), md, nil, nil)

	result, err := broker.PlaceOrder(context.Background(), types.Order{
		Instrument: "BTCUSDT",
		Side:       types.OrderSideBuy,
		Quantity:   decimal.NewFromFloat(0.1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OrderID == "" {
		t.Fatal("expected a generated order id")
	}
	if result.Status != types.OrderStatusComplete {
		t.Fatalf("expected complete status, got %s", result.Status)
	}
	if result.FilledPrice.IsZero() {
		t.Fatal("expected a non-zero fill price")
	}
	if !result.FilledQty.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected filled quantity to match order quantity, got %s", result.FilledQty)
	}
}

func TestPaperBrokerPropagatesMarketDataError(t *testing.T) {
	md := &fakeMarketData{err: context.DeadlineExceeded}
	broker := NewPaperBroker(zap.NewNop(), cryptoSpotProfile(), md, nil, nil)

	_, err := broker.PlaceOrder(context.Background(), types.Order{Instrument: "BTCUSDT"})
	if err == nil {
		t.Fatal("expected an error when the market data adapter fails")
	}
}

// TestPaperBrokerDerivativesAwareFillReflectsFundingAndOIConcentration
// exercises the funding-rate/open-interest cost overlay end to end: a crypto
// futures+options instrument with a hot funding rate and a single
// concentrated strike should cost strictly more than the same order on an
// otherwise-identical instrument with a flat funding rate and no OI
// concentration.
func TestPaperBrokerDerivativesAwareFillReflectsFundingAndOIConcentration(t *testing.T) {
	profile := &types.InstrumentProfile{
		Symbol: "BTCUSDT", Type: types.InstrumentCryptoFutures,
		HasFutures: true, HasOptions: true, Hours: types.MarketHours{Always24x7: true},
	}
	md := &fakeMarketData{
		tick: types.Tick{
			Instrument: "BTCUSDT",
			Price:      decimal.NewFromInt(65000),
			BestBid:    decimal.NewFromInt(64995),
			BestAsk:    decimal.NewFromInt(65005),
		},
	}
	order := types.Order{Instrument: "BTCUSDT", Side: types.OrderSideBuy, Quantity: decimal.NewFromFloat(0.1)}

	calm := &fakeDerivatives{
		funding: types.FuturesSnapshot{FundingRate: decimal.Zero},
		chain: []types.OptionsChainEntry{
			{Strike: decimal.NewFromInt(64000), CallOI: decimal.NewFromInt(100), PutOI: decimal.NewFromInt(100)},
			{Strike: decimal.NewFromInt(66000), CallOI: decimal.NewFromInt(100), PutOI: decimal.NewFromInt(100)},
		},
	}
	calmBroker := NewPaperBroker(zap.NewNop(), profile, md, calm, nil)
	calmResult, err := calmBroker.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("calm: unexpected error: %v", err)
	}

	hot := &fakeDerivatives{
		funding: types.FuturesSnapshot{FundingRate: decimal.NewFromFloat(0.01)}, // 1% funding, hot
		chain: []types.OptionsChainEntry{
			{Strike: decimal.NewFromInt(65000), CallOI: decimal.NewFromInt(900), PutOI: decimal.NewFromInt(900)},
			{Strike: decimal.NewFromInt(66000), CallOI: decimal.NewFromInt(10), PutOI: decimal.NewFromInt(10)},
		},
	}
	hotBroker := NewPaperBroker(zap.NewNop(), profile, md, hot, nil)
	hotResult, err := hotBroker.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("hot: unexpected error: %v", err)
	}

	calmCost := calmResult.FilledPrice.Sub(decimal.NewFromInt(65000)).Abs()
	hotCost := hotResult.FilledPrice.Sub(decimal.NewFromInt(65000)).Abs()
	if !hotCost.GreaterThan(calmCost) {
		t.Fatalf("expected the hot-funding/concentrated-OI fill to cost more than the calm one: hot=%s calm=%s", hotCost, calmCost)
	}
}

func TestRealizedVolatilityOfFlatBarsIsZero(t *testing.T) {
	bars := []types.OHLCV{
		{Timestamp: time.Unix(1, 0), Close: decimal.NewFromInt(100)},
		{Timestamp: time.Unix(2, 0), Close: decimal.NewFromInt(100)},
		{Timestamp: time.Unix(3, 0), Close: decimal.NewFromInt(100)},
	}
	if !realizedVolatility(bars).IsZero() {
		t.Fatalf("expected zero volatility for flat closes, got %s", realizedVolatility(bars))
	}
}

func TestRealizedVolatilityOfSingleBarIsZero(t *testing.T) {
	if !realizedVolatility([]types.OHLCV{{Close: decimal.NewFromInt(100)}}).IsZero() {
		t.Fatal("expected zero volatility with fewer than two bars")
	}
}

func TestRealizedVolatilityOfVolatileBarsIsPositive(t *testing.T) {
	bars := []types.OHLCV{
		{Close: decimal.NewFromInt(100)},
		{Close: decimal.NewFromInt(110)},
		{Close: decimal.NewFromInt(95)},
		{Close: decimal.NewFromInt(120)},
	}
	if !realizedVolatility(bars).IsPositive() {
		t.Fatal("expected positive volatility for a swinging close series")
	}
}
