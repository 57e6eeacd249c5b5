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

func TestReconcileInstrumentsRecordsFirstSightingAndDetectsRoll(t *testing.T) {
	repo := &fakeRepository{instruments: []domain.Instrument{{Market: "CME", Symbol: "ES", Code: "ESZ25"}}}
	core, store := newTestCore(repo)

	candidates, err := core.reconcileInstruments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, candidates, "first sighting of an instrument must not itself be a roll candidate")

	rows, err := store.QueryInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "ESZ25", rows[0].Code)

	repo.instruments[0].Code = "ESH26"
	candidates, err = core.reconcileInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "ESZ25", candidates[0].oldCode)
	assert.Equal(t, "ESH26", candidates[0].instrument.Code)
}

func TestRollSymbolSkipsWhenNetPositionMismatched(t *testing.T) {
	repo := &fakeRepository{
		instruments: []domain.Instrument{{Market: "CME", Symbol: "ES", Code: "ESH26", Timezone: time.UTC}},
		rolls: map[string]domain.RollInstruction{
			"ES": {RollOnNextStart: true, From: "ESZ25", To: "ESH26", Date: time.Now().UTC(), NetPosition: 5},
		},
	}
	core, store := newTestCore(repo)

	require.NoError(t, store.UpsertInstrument(context.Background(), "CME", "ES", "ESZ25", time.Time{}))

	core.rollSymbol(context.Background(), "PORT1", rollCandidate{oldCode: "ESZ25", instrument: repo.instruments[0]})

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{Action: domain.ActionRoll})
	require.NoError(t, err)
	assert.Empty(t, orders, "a mismatched net_position must abort the roll before any order is sent")
}

func TestRollSymbolFlattensAndReestablishesPosition(t *testing.T) {
	repo := &fakeRepository{
		instruments: []domain.Instrument{{Market: "CME", Symbol: "ES", Code: "ESH26", Timezone: time.UTC}},
		rolls: map[string]domain.RollInstruction{
			"ES": {RollOnNextStart: true, From: "ESZ25", To: "ESH26", Date: time.Now().UTC(), NetPosition: -5},
		},
	}
	core, store := newTestCore(repo)
	gw := registerConnectedBroker(t, core, "sim")

	require.NoError(t, store.UpdatePosition(context.Background(), "PORT1", "strat1", "CME", "ES", -5, nil))

	done := make(chan struct{})
	go func() {
		core.rollSymbol(context.Background(), "PORT1", rollCandidate{oldCode: "ESZ25", instrument: repo.instruments[0]})
		close(done)
	}()

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.placed) == 2
	}, time.Second, 5*time.Millisecond, "expected both the flatten and re-establish roll orders to be sent")

	orders, err := store.QueryOrder(context.Background(), ledger.OrderFilter{Action: domain.ActionRoll})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	fillRollOrders(t, core, orders)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rollSymbol did not return after both roll orders filled")
	}
}

func fillRollOrders(t *testing.T, core *OMS, orders []domain.Order) {
	t.Helper()
	for _, o := range orders {
		core.handleExecution(context.Background(), o.BrokerID, brokerFillFor(o))
	}
}

func brokerFillFor(o domain.Order) gateway.ExecutionUpdate {
	return gateway.ExecutionUpdate{
		BrokerExecutionID: o.BrokerOrderID + "-fill",
		BrokerOrderID:     o.BrokerOrderID,
		IsBuy:             o.IsBuy,
		Quantity:          o.Quantity,
		Price:             decimal.NewFromInt(100),
		ExecutionTime:     time.Now(),
	}
}
