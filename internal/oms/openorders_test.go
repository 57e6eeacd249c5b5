package oms

import (
	"context"
	"testing"

	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOpenOrderEndCancelsMissingUnfilledEntry(t *testing.T) {
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

	core.handleOpenOrderEnd(context.Background(), "sim", nil)

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{BrokerID: "sim", BrokerOrderID: "B1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStateCancelled, orders[0].State)

	entries, err := store.QueryPositionByEntry(context.Background(), "P1", "strat1", "CME", "ES")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleOpenOrderEndLeavesPresentOrdersAlone(t *testing.T) {
	core, store := newTestCore(nil)

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 1, BrokerID: "sim", BrokerOrderID: "B1",
		Market: "CME", Symbol: "ES", Type: domain.OrderTypeLimit, IsBuy: true, Quantity: 10,
		Portfolio: "P1", Action: domain.ActionEntry, Strategy: "strat1",
	}))

	core.handleOpenOrderEnd(context.Background(), "sim", []gateway.OpenOrderItem{{BrokerOrderID: "B1"}})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{BrokerID: "sim", BrokerOrderID: "B1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStateNew, orders[0].State, "an order present in the snapshot must not be touched")
}
