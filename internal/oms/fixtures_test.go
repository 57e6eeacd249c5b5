package oms

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/timour/oms/internal/broker"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCore(repo domain.Repository) (*OMS, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	if repo == nil {
		repo = &fakeRepository{}
	}
	core := New(store, repo, nil, testLogger())
	return core, store
}

// fakeRepository is an in-memory domain.Repository for tests, standing in
// for the YAML-backed instruments.Repository without touching the
// filesystem.
type fakeRepository struct {
	instruments []domain.Instrument
	rolls       map[string]domain.RollInstruction
}

func (r *fakeRepository) All() []domain.Instrument { return r.instruments }

func (r *fakeRepository) Find(market, symbol string) (domain.Instrument, bool) {
	for _, inst := range r.instruments {
		if inst.Market == market && inst.Symbol == symbol {
			return inst, true
		}
	}
	return domain.Instrument{}, false
}

func (r *fakeRepository) RollInstructionFor(symbol string) (domain.RollInstruction, bool) {
	ri, ok := r.rolls[symbol]
	return ri, ok
}

var _ domain.Repository = (*fakeRepository)(nil)

// fakeGateway is a minimal gateway.Gateway whose Connect/Disconnect drive
// the connection-update edge synchronously, so tests don't need to wait on
// a goroutine.
type fakeGateway struct {
	mu sync.Mutex

	name       string
	events     gateway.Events
	healthy    bool
	connectErr error
	placeErr   error
	placed     []gateway.PlaceOrderRequest
	cancelled  []string
}

func (g *fakeGateway) Name() string     { return g.name }
func (g *fakeGateway) Identity() string { return g.name }
func (g *fakeGateway) IsHealthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthy
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	if g.connectErr != nil {
		return g.connectErr
	}
	g.mu.Lock()
	g.healthy = true
	g.mu.Unlock()
	g.events.OnConnectionUpdate(gateway.ConnectionUpdate{Connected: true})
	return nil
}

func (g *fakeGateway) Disconnect() error {
	g.mu.Lock()
	g.healthy = false
	g.mu.Unlock()
	g.events.OnConnectionUpdate(gateway.ConnectionUpdate{Connected: false})
	return nil
}

func (g *fakeGateway) Ping(ctx context.Context) error { return nil }

func (g *fakeGateway) PlaceOrder(ctx context.Context, req gateway.PlaceOrderRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return g.placeErr
	}
	g.placed = append(g.placed, req)
	return nil
}

func (g *fakeGateway) ModifyOrder(ctx context.Context, req gateway.ModifyOrderRequest) error { return nil }

func (g *fakeGateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, brokerOrderID)
	return nil
}

func (g *fakeGateway) RequestExecutions(ctx context.Context) error { return nil }
func (g *fakeGateway) RequestOpenOrders(ctx context.Context) error { return nil }
func (g *fakeGateway) SetEvents(events gateway.Events)             { g.events = events }

var _ gateway.Gateway = (*fakeGateway)(nil)

// registerConnectedBroker wires a fakeGateway into core under name and
// connects it, so IsReady/bestBroker see a healthy broker.
func registerConnectedBroker(t *testing.T, core *OMS, name string) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{name: name}
	events := NewBrokerEvents(core, name)
	adapter := broker.NewAdapter(gw, time.Minute, testLogger(), events)
	core.RegisterBroker(name, adapter)
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect broker: %v", err)
	}
	return gw
}
