package oms

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleExecutionEntryFillSynthesizesStopLoss(t *testing.T) {
	core, store := newTestCore(nil)
	registerConnectedBroker(t, core, "sim")

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 1, BrokerID: "sim", BrokerOrderID: "B1",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeMarket, IsBuy: true, Quantity: 10,
		Portfolio: "P1", Action: domain.ActionEntry, Strategy: "strat1",
	}))
	require.NoError(t, store.InsertPositionByEntry(context.Background(), domain.PositionByEntry{
		PortfolioID: "P1", Strategy: "strat1", Market: "CME", Symbol: "ES", Quantity: 10,
		SessionID: "sess1", OrderID: 1, State: domain.PositionByEntryPending,
	}))

	core.handleExecution(context.Background(), "sim", gateway.ExecutionUpdate{
		BrokerExecutionID: "E1", BrokerOrderID: "B1", Symbol: "ES", IsBuy: true,
		Quantity: 10, Price: decimal.NewFromInt(100), LeaveQuantity: 0, ExecutionTime: time.Now(),
	})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{OrderType: domain.OrderTypeStop, Action: domain.ActionStopLoss})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.False(t, orders[0].IsBuy, "stop for a long entry must be a sell")
	assert.Equal(t, int64(10), orders[0].Quantity)

	entries, err := store.QueryPositionByEntry(context.Background(), "P1", "strat1", "CME", "ES")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.PositionByEntryFullyFilled, entries[0].State)

	positions, err := store.QueryPosition(context.Background(), "P1", "strat1", "CME", "ES")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
}

func TestHandleExecutionDuplicateIsIgnored(t *testing.T) {
	core, store := newTestCore(nil)
	require.NoError(t, store.InsertExecution(context.Background(), domain.Execution{BrokerID: "sim", BrokerExecutionID: "E1"}))

	core.handleExecution(context.Background(), "sim", gateway.ExecutionUpdate{
		BrokerExecutionID: "E1", BrokerOrderID: "B1", Quantity: 10, Price: decimal.NewFromInt(100), ExecutionTime: time.Now(),
	})

	positions, err := store.QueryPosition(context.Background(), "", "", "", "")
	require.NoError(t, err)
	assert.Empty(t, positions, "duplicate execution must not touch the position table")
}

func TestHandleExecutionExitFullyWalksEntryStack(t *testing.T) {
	core, store := newTestCore(nil)
	registerConnectedBroker(t, core, "sim")

	require.NoError(t, store.UpdatePosition(context.Background(), "P1", "strat1", "CME", "ES", 10, ptrDecimal(decimal.NewFromInt(100))))
	require.NoError(t, store.InsertPositionByEntry(context.Background(), domain.PositionByEntry{
		PortfolioID: "P1", Strategy: "strat1", Market: "CME", Symbol: "ES", Quantity: 10,
		SessionID: "sess1", OrderID: 1, State: domain.PositionByEntryFullyFilled, OrderReference: "ref1",
	}))
	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 2, BrokerID: "sim", BrokerOrderID: "B2",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeMarket, IsBuy: false, Quantity: 10,
		Portfolio: "P1", Action: domain.ActionExit, Strategy: "strat1",
	}))

	core.handleExecution(context.Background(), "sim", gateway.ExecutionUpdate{
		BrokerExecutionID: "E2", BrokerOrderID: "B2", Symbol: "ES", IsBuy: false,
		Quantity: 10, Price: decimal.NewFromInt(105), LeaveQuantity: 0, ExecutionTime: time.Now(),
	})

	entries, err := store.QueryPositionByEntry(context.Background(), "P1", "strat1", "CME", "ES")
	require.NoError(t, err)
	assert.Empty(t, entries, "the exited entry must no longer be listed among the open position_by_entry rows")
}

func TestHandleExecutionRollOrderFillClosesRollDone(t *testing.T) {
	core, _ := newTestCore(nil)
	done := core.beginRollWait()
	core.mu.Lock()
	core.rollOrders["B9"] = true
	core.mu.Unlock()

	require.NoError(t, core.store.InsertOrder(context.Background(), domain.Order{
		BrokerID: "sim", BrokerOrderID: "B9", Symbol: "ES", Type: domain.OrderTypeMarket, Quantity: 5,
		Action: domain.ActionRoll, Strategy: strategyName,
	}))

	core.handleExecution(context.Background(), "sim", gateway.ExecutionUpdate{
		BrokerExecutionID: "E9", BrokerOrderID: "B9", Quantity: 5, LeaveQuantity: 0,
		Price: decimal.NewFromInt(100), ExecutionTime: time.Now(),
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rollDone was not closed after the roll order's fill")
	}
}

func ptrDecimal(d decimal.Decimal) *decimal.Decimal { return &d }
