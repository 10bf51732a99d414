package execution

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// PaperBroker is the default interfaces.BrokerAdapter: it never sends an
// order to a real venue, but runs every order through ExecutionModel's cost
// model so a paper-traded fill price reflects realistic commission,
// slippage, spread, and market impact instead of the naive "fills at mid"
// assumption. Grounded on this package's own ExecutionModel plus the
// teacher's PaperTrading config flag (internal/execution's original
// ExecutorConfig.PaperTrading default of true).
type PaperBroker struct {
	logger      *zap.Logger
	model       *ExecutionModel
	marketData  interfaces.MarketDataAdapter
	derivatives interfaces.DerivativesAdapter // optional, nil for instruments with neither options nor futures
	profile     *types.InstrumentProfile
}

// NewPaperBroker builds a PaperBroker over marketData, using cfg (or
// ConfigForProfile(profile) if nil) to drive the cost model. derivatives may
// be nil for instruments with neither options nor futures (mirrors
// internal/planner.New's optional-derivatives pattern).
func NewPaperBroker(logger *zap.Logger, profile *types.InstrumentProfile, marketData interfaces.MarketDataAdapter, derivatives interfaces.DerivativesAdapter, cfg *ExecutionModelConfig) *PaperBroker {
	return &PaperBroker{
		logger:      logger.Named("paper_broker"),
		model:       NewExecutionModel(logger, profile, cfg),
		marketData:  marketData,
		derivatives: derivatives,
		profile:     profile,
	}
}

// PlaceOrder implements interfaces.BrokerAdapter: builds a MarketContext
// from the live market-data adapter's latest tick and recent bars, runs it
// through the execution cost model, and returns a simulated fill.
func (b *PaperBroker) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	tick, err := b.marketData.LatestTick(ctx, order.Instrument)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("paper broker: fetch latest tick: %w", err)
	}

	market := &MarketContext{
		Symbol:   order.Instrument,
		Price:    tick.Price,
		BidPrice: tick.BestBid,
		AskPrice: tick.BestAsk,
		Volume:   tick.TotalBuyQty.Add(tick.TotalSellQty),
	}
	if bars, err := b.marketData.OHLCV(ctx, order.Instrument, types.Timeframe1m, 20); err == nil {
		market.Volatility = realizedVolatility(bars)
	}
	if b.derivatives != nil && b.profile != nil {
		if b.profile.HasFutures {
			if f, err := b.derivatives.Futures(ctx, order.Instrument); err == nil {
				market.FundingRate = f.FundingRate
			}
		}
		if b.profile.HasOptions {
			if chain, err := b.derivatives.OptionsChain(ctx, order.Instrument); err == nil {
				market.OpenInterestConcentration = openInterestConcentration(chain)
			}
		}
	}

	result := b.model.SimulateExecution(&order, market)

	orderID := "paper-" + uuid.NewString()
	b.logger.Info("simulated fill",
		zap.String("orderId", orderID),
		zap.String("instrument", order.Instrument),
		zap.String("side", string(order.Side)),
		zap.String("fillPrice", result.FillPrice.String()),
		zap.String("totalCost", result.TotalCost.String()),
	)

	return types.OrderResult{
		OrderID:     orderID,
		FilledPrice: result.FillPrice,
		FilledQty:   order.Quantity,
		Status:      types.OrderStatusComplete,
		Timestamp:   result.ExecutedAt,
	}, nil
}

// openInterestConcentration returns the fraction of total open interest
// (calls + puts, summed across the chain) sitting at the single strike that
// holds the most — a single-snapshot proxy for how crowded the book is,
// since the chain only exposes a point-in-time OI read per strike rather
// than a rolling delta.
func openInterestConcentration(chain []types.OptionsChainEntry) decimal.Decimal {
	if len(chain) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	maxStrikeOI := decimal.Zero
	for _, entry := range chain {
		strikeOI := entry.CallOI.Add(entry.PutOI)
		total = total.Add(strikeOI)
		if strikeOI.GreaterThan(maxStrikeOI) {
			maxStrikeOI = strikeOI
		}
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return maxStrikeOI.Div(total)
}

// realizedVolatility is the stddev of bar-over-bar returns across bars. It
// uses the same formula as the scheduler's volatilityProxy, but returns the
// result as a fraction where volatilityProxy returns a percent.
func realizedVolatility(bars []types.OHLCV) decimal.Decimal {
	if len(bars) < 2 {
		return decimal.Zero
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		c, _ := b.Close.Float64()
		closes[i] = c
	}
	var sum, sumSq float64
	n := len(closes) - 1
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		ret := (closes[i] - closes[i-1]) / closes[i-1]
		sum += ret
		sumSq += ret * ret
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return decimal.NewFromFloat(math.Sqrt(variance))
}
