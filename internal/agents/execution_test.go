package agents_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-ai/trading-engine/internal/agents"
	"github.com/atlas-ai/trading-engine/pkg/types"
)

type fakeBroker struct {
	result types.OrderResult
	err    error
	orders []types.Order
}

func (f *fakeBroker) PlaceOrder(_ context.Context, order types.Order) (types.OrderResult, error) {
	f.orders = append(f.orders, order)
	if f.err != nil {
		return types.OrderResult{}, f.err
	}
	return f.result, nil
}

func TestExecutionProcessSkipsOnHoldSignal(t *testing.T) {
	broker := &fakeBroker{}
	a := agents.NewExecution(newTestPromptStore(t), newTestManager(t, `{}`), zap.NewNop(), "BTCUSDT", broker, nil)
	st := &types.DecisionState{FinalSignal: types.SignalHold, PositionSize: 1}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Execution != nil {
		t.Fatal("expected no execution update for a HOLD signal")
	}
	if len(broker.orders) != 0 {
		t.Fatal("expected no order to be placed for a HOLD signal")
	}
}

func TestExecutionProcessSkipsOnZeroPositionSize(t *testing.T) {
	broker := &fakeBroker{}
	a := agents.NewExecution(newTestPromptStore(t), newTestManager(t, `{}`), zap.NewNop(), "BTCUSDT", broker, nil)
	st := &types.DecisionState{FinalSignal: types.SignalBuy, PositionSize: 0}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Execution != nil {
		t.Fatal("expected no execution update for a zero position size")
	}
}

func TestExecutionProcessPlacesOrderAndRecordsFill(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	broker := &fakeBroker{result: types.OrderResult{
		OrderID:     "order-1",
		FilledPrice: decimal.NewFromFloat(101.5),
		FilledQty:   decimal.NewFromFloat(2),
		Status:      types.OrderStatusComplete,
	}}
	a := agents.NewExecution(newTestPromptStore(t), newTestManager(t, `{}`), zap.NewNop(), "BTCUSDT", broker, func() time.Time { return now })
	st := &types.DecisionState{
		FinalSignal:  types.SignalBuy,
		PositionSize: 2,
		EntryPrice:   100,
		StopLoss:     98,
		TakeProfit:   104,
	}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Execution == nil {
		t.Fatal("expected an execution update")
	}
	if update.Execution.OrderID != "order-1" {
		t.Fatalf("expected the broker's order id to flow through, got %s", update.Execution.OrderID)
	}
	if len(broker.orders) != 1 || broker.orders[0].Side != types.OrderSideBuy {
		t.Fatalf("expected exactly one buy order, got %+v", broker.orders)
	}
}

func TestExecutionProcessHandlesBrokerError(t *testing.T) {
	broker := &fakeBroker{err: context.DeadlineExceeded}
	a := agents.NewExecution(newTestPromptStore(t), newTestManager(t, `{}`), zap.NewNop(), "BTCUSDT", broker, nil)
	st := &types.DecisionState{FinalSignal: types.SignalSell, PositionSize: 1, EntryPrice: 100}

	update, err := a.Process(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.Execution != nil {
		t.Fatal("expected no execution update when the broker fails")
	}
}
