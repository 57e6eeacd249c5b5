package oms

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOrderUpdateCancelledUnfilledEntryDropsPositionByEntry(t *testing.T) {
	core, store := newTestCore(nil)

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 1, BrokerID: "sim", BrokerOrderID: "B1",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeLimit, IsBuy: true, Quantity: 10,
		Portfolio: "P1", Action: domain.ActionEntry, Strategy: "strat1",
	}))
	require.NoError(t, store.InsertPositionByEntry(context.Background(), domain.PositionByEntry{
		PortfolioID: "P1", Strategy: "strat1", Market: "CME", Symbol: "ES", Quantity: 10,
		SessionID: "sess1", OrderID: 1, State: domain.PositionByEntryPending,
	}))

	core.handleOrderUpdate(context.Background(), "sim", gateway.OrderUpdate{
		BrokerOrderID: "B1", State: domain.OrderStateCancelled, FilledQuantity: 0, RemainingQuantity: 10,
	})

	entries, err := store.QueryPositionByEntry(context.Background(), "P1", "strat1", "CME", "ES")
	require.NoError(t, err)
	assert.Empty(t, entries, "an entry that never filled must have its position_by_entry row dropped on cancel")
}

func TestHandleOrderUpdateCancelledPartialFillIsFinalizedAsFull(t *testing.T) {
	core, store := newTestCore(nil)
	registerConnectedBroker(t, core, "sim")

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 1, BrokerID: "sim", BrokerOrderID: "B1",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeLimit, IsBuy: true, Quantity: 10,
		Price: decimal.NewFromInt(100), Portfolio: "P1", Action: domain.ActionEntry, Strategy: "strat1",
	}))
	require.NoError(t, store.InsertPositionByEntry(context.Background(), domain.PositionByEntry{
		PortfolioID: "P1", Strategy: "strat1", Market: "CME", Symbol: "ES", Quantity: 10,
		SessionID: "sess1", OrderID: 1, State: domain.PositionByEntryPending,
	}))

	core.handleOrderUpdate(context.Background(), "sim", gateway.OrderUpdate{
		BrokerOrderID: "B1", State: domain.OrderStateCancelled, FilledQuantity: 4, RemainingQuantity: 6,
	})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{BrokerID: "sim", BrokerOrderID: "B1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStateFullyFilled, orders[0].State)
	assert.Equal(t, int64(4), orders[0].Quantity)

	stops, err := store.QueryOrder(context.Background(), ledger.OrderFilter{OrderType: domain.OrderTypeStop, Action: domain.ActionStopLoss})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, int64(4), stops[0].Quantity)
}

func TestHandleOrderUpdateDetectsManualStopPriceEdit(t *testing.T) {
	core, store := newTestCore(nil)

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 2, BrokerID: "sim", BrokerOrderID: "B2",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeStop, IsBuy: false, Quantity: 10,
		Price: decimal.NewFromInt(95), Portfolio: "P1", Action: domain.ActionStopLoss, Strategy: "strat1",
		Comment: map[string]any{"order_reference": "ref1"},
	}))

	core.handleOrderUpdate(context.Background(), "sim", gateway.OrderUpdate{
		BrokerOrderID: "B2", State: domain.OrderStateActive, Price: decimal.NewFromInt(96), Quantity: 10,
	})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{BrokerID: "sim", BrokerOrderID: "B2"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.ActionManualStopLoss, orders[0].Action)

	ops, err := store.QueryOperation(context.Background(), "P1", "strat1", "ref1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.ActionAmend, ops[0].Action)
}
