package oms

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

// loginSession drives a successful INIT through HandleInbound and drains
// the resulting next_request_id reply, leaving the session LOGGED_IN.
func loginSession(t *testing.T, core *OMS, sourceID, sessionID, accountID, strategy, portfolio string) {
	t.Helper()
	payload := encodeInit(t, &codec.Init{SessionID: sessionID, AccountID: accountID, Strategies: map[string]string{strategy: portfolio}})
	core.HandleInbound(context.Background(), sourceID, payload)
	select {
	case <-core.Outbound():
	default:
		t.Fatal("expected a next_request_id reply after login")
	}
}

// S3: an EXIT order that would flip a long-only position negative is
// rejected with ORDER_REJECTED and never reaches the broker.
func TestNewOrderRejectsLongOnlyConstraintViolation(t *testing.T) {
	core, store := newTestCore(nil)
	store.SeedAccount("acct1", decimal.NewFromInt(10000), "USD", "P1")

	loginSession(t, core, "src1", "sess1", "acct1", "strat1", "P1")

	require.NoError(t, store.UpdatePosition(context.Background(), "P1", "strat1", "CME", "ES", 2, ptrDecimal(decimal.NewFromInt(100))))

	payload, err := codec.Encode(codec.MsgNewOrder, &codec.NewOrder{
		RequestID: 1, Market: "CME", Symbol: "ES", OrderType: string(domain.OrderTypeMarket),
		IsBuy: false, Quantity: 5, Portfolio: "P1", Action: string(domain.ActionExit), Strategy: "strat1",
		Comment: map[string]any{"constraint": "long-only"},
	})
	require.NoError(t, err)
	core.HandleInbound(context.Background(), "src1", payload)

	select {
	case env := <-core.Outbound():
		assert.Equal(t, "src1", env.SourceID)
		msg, err := codec.Decode(env.Payload)
		require.NoError(t, err)
		require.Equal(t, codec.MsgError, msg.Type)
		assert.Equal(t, codec.ErrOrderRejected, msg.Error.ErrorCode)
		assert.Contains(t, msg.Error.Message, "long-only")
		assert.Contains(t, msg.Error.Message, "-3")
	default:
		t.Fatal("expected an ORDER_REJECTED reply on the outbound channel")
	}

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{Portfolio: "P1", Strategy: "strat1"})
	require.NoError(t, err)
	assert.Empty(t, orders, "a constraint-rejected order must never reach the broker or the ledger")
}

// S2: when the comment carries stop_loss_absolute, it overrides the
// stop_loss_offset computation entirely.
func TestHandleExecutionEntryFillAbsoluteStopOverridesOffset(t *testing.T) {
	core, store := newTestCore(nil)
	registerConnectedBroker(t, core, "sim")

	require.NoError(t, store.InsertOrder(context.Background(), domain.Order{
		SessionID: "sess1", OrderID: 1, BrokerID: "sim", BrokerOrderID: "B1",
		Market: "CME", Symbol: "NQ", Type: domain.OrderTypeMarket, IsBuy: true, Quantity: 1,
		Portfolio: "P1", Action: domain.ActionEntry, Strategy: "strat1",
		Comment: map[string]any{"stop_loss_offset": -10.0, "stop_loss_absolute": 7299.0},
	}))
	require.NoError(t, store.InsertPositionByEntry(context.Background(), domain.PositionByEntry{
		PortfolioID: "P1", Strategy: "strat1", Market: "CME", Symbol: "NQ", Quantity: 1,
		SessionID: "sess1", OrderID: 1, State: domain.PositionByEntryPending,
	}))

	core.handleExecution(context.Background(), "sim", gateway.ExecutionUpdate{
		BrokerExecutionID: "E1", BrokerOrderID: "B1", Symbol: "NQ", IsBuy: true,
		Quantity: 1, Price: decimal.NewFromInt(7300), LeaveQuantity: 0, ExecutionTime: time.Now(),
	})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{OrderType: domain.OrderTypeStop, Action: domain.ActionStopLoss})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Price.Equal(decimal.NewFromInt(7299)), "stop_loss_absolute must override the offset computation, got %s", orders[0].Price)
}
