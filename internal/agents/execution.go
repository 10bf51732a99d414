package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/interfaces"
	"github.com/atlas-ai/trading-engine/internal/llm"
	"github.com/atlas-ai/trading-engine/internal/prompts"
	"github.com/atlas-ai/trading-engine/internal/state"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

// Execution is the final node in the Orchestration Graph (spec §4.6),
// grounded on original_source/agents/execution_agent.py: it places the
// Portfolio Manager's decision through interfaces.BrokerAdapter and records
// the fill onto DecisionState. A HOLD signal or zero position size is a
// no-op, matching the original's early return.
type Execution struct {
	base
	instrument string
	broker     interfaces.BrokerAdapter
	clock      func() time.Time
}

// NewExecution builds the execution agent. clock defaults to time.Now when nil.
func NewExecution(store prompts.Store, mgr *llm.Manager, logger *zap.Logger, instrument string, broker interfaces.BrokerAdapter, clock func() time.Time) *Execution {
	if clock == nil {
		clock = time.Now
	}
	return &Execution{base: newBase("execution", store, mgr, logger), instrument: instrument, broker: broker, clock: clock}
}

func (a *Execution) Process(ctx context.Context, st *types.DecisionState) (state.PartialUpdate, error) {
	signal := st.FinalSignal
	quantity := st.PositionSize

	side, tradable := orderSideFor(signal)
	if !tradable {
		return state.PartialUpdate{AgentName: a.name, Explanation: fmt.Sprintf("no execution needed for signal %s", signal)}, nil
	}
	if quantity <= 0 {
		return state.PartialUpdate{AgentName: a.name, Explanation: "position size is 0, skipping execution"}, nil
	}

	order := types.Order{
		ClientOrderID: fmt.Sprintf("CLI_%s_%d", a.instrument, a.clock().UnixNano()),
		Instrument:    a.instrument,
		Side:          side,
		Quantity:      decimal.NewFromFloat(quantity),
		EntryPrice:    decimal.NewFromFloat(st.EntryPrice),
		StopLoss:      decimal.NewFromFloat(st.StopLoss),
		TakeProfit:    decimal.NewFromFloat(st.TakeProfit),
	}

	result, err := a.broker.PlaceOrder(ctx, order)
	if err != nil {
		a.logger.Error("order placement failed", zap.Error(err), zap.String("instrument", a.instrument))
		return state.PartialUpdate{
			AgentName:   a.name,
			Explanation: fmt.Sprintf("order execution failed: %s", err),
		}, nil
	}

	filledPrice, _ := result.FilledPrice.Float64()
	filledQty, _ := result.FilledQty.Float64()
	executedAt := a.clock()

	return state.PartialUpdate{
		AgentName: a.name,
		Execution: &state.ExecutionUpdate{
			OrderID:            result.OrderID,
			FilledPrice:        filledPrice,
			FilledQuantity:     filledQty,
			ExecutionTimestamp: executedAt,
			TradeID:            fmt.Sprintf("TRD_%s_%d", a.instrument, executedAt.UnixNano()),
		},
		Explanation: fmt.Sprintf("order executed: %s %v @ %.2f, order_id=%s", signal, quantity, filledPrice, result.OrderID),
	}, nil
}

// orderSideFor maps the Portfolio Manager's tiered signal to a broker side;
// HOLD/ADJUST and any unrecognized value are not tradable.
func orderSideFor(signal types.SignalType) (types.OrderSide, bool) {
	switch signal {
	case types.SignalBuy, types.SignalStrongBuy, types.SignalWeakBuy:
		return types.OrderSideBuy, true
	case types.SignalSell, types.SignalStrongSell, types.SignalWeakSell:
		return types.OrderSideSell, true
	default:
		return "", false
	}
}
