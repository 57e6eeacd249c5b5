// Package broker wraps one gateway.Gateway with the connection bookkeeping
// the OMS core relies on: reconnect cadence gating, broken-pipe recovery,
// and connect-edge history replay. Grounded on
// oms/server/broker/__init__.py's Broker and BrokerFactory.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timour/oms/internal/gateway"
)

// ErrDisconnected is returned by order operations attempted on a broker
// that is not currently connected.
var ErrDisconnected = errors.New("broker: gateway not connected")

// Adapter serializes access to one gateway.Gateway and tracks the
// connection state transitions the OMS core needs: is_connected,
// is_connecting, and the due-for-reconnect cadence gate.
type Adapter struct {
	mu sync.Mutex

	gw                  gateway.Gateway
	logger              *slog.Logger
	reconnectInterval   time.Duration
	lastConnectAttempt  time.Time
	lastPing            time.Time
	isConnected         bool
	isConnecting        bool
}

// NewAdapter constructs an Adapter around gw. events receives the
// gateway's callbacks; the adapter itself is registered as the sink and
// forwards to events, so it can intercept the connection-update edge to
// trigger history replay (spec section 12: request_executions and
// request_open_orders fire only on the false->true transition).
func NewAdapter(gw gateway.Gateway, reconnectInterval time.Duration, logger *slog.Logger, events gateway.Events) *Adapter {
	a := &Adapter{
		gw:                gw,
		logger:            logger,
		reconnectInterval: reconnectInterval,
	}
	gw.SetEvents(&forwardingSink{adapter: a, events: events})
	return a
}

// forwardingSink intercepts OnConnectionUpdate to drive replay-on-reconnect,
// then forwards every event to the OMS core unchanged.
type forwardingSink struct {
	adapter *Adapter
	events  gateway.Events
}

func (s *forwardingSink) OnError(err gateway.OrderError) { s.events.OnError(err) }

func (s *forwardingSink) OnConnectionUpdate(update gateway.ConnectionUpdate) {
	s.adapter.setConnected(update.Connected)
	s.events.OnConnectionUpdate(update)
}

func (s *forwardingSink) OnOrderUpdate(u gateway.OrderUpdate)         { s.events.OnOrderUpdate(u) }
func (s *forwardingSink) OnExecution(u gateway.ExecutionUpdate)       { s.events.OnExecution(u) }
func (s *forwardingSink) OnAccountInfoUpdate(u gateway.AccountUpdate) { s.events.OnAccountInfoUpdate(u) }
func (s *forwardingSink) OnPositionUpdate(u gateway.PositionUpdate)   { s.events.OnPositionUpdate(u) }
func (s *forwardingSink) OnOpenOrder(item gateway.OpenOrderItem)      { s.events.OnOpenOrder(item) }
func (s *forwardingSink) OnOpenOrderEnd()                             { s.events.OnOpenOrderEnd() }

// setConnected applies the is_connected transition and, on the false->true
// edge, requests the broker replay its execution and open-order history so
// the ledger can reconcile against whatever happened while disconnected.
func (a *Adapter) setConnected(val bool) {
	a.mu.Lock()
	changed := a.isConnected != val
	a.isConnected = val
	a.mu.Unlock()

	a.logger.Info("broker connection state changed", "broker", a.gw.Name(), "connected", val)

	if val && changed {
		ctx := context.Background()
		if err := a.gw.RequestExecutions(ctx); err != nil {
			a.logger.Error("request_executions failed on reconnect", "broker", a.gw.Name(), "error", err)
		}
		if err := a.gw.RequestOpenOrders(ctx); err != nil {
			a.logger.Error("request_open_orders failed on reconnect", "broker", a.gw.Name(), "error", err)
		}
	}
}

// Name returns the broker's identity, used as the BrokerID key throughout
// the ledger.
func (a *Adapter) Name() string { return a.gw.Name() }

// IsConnected reports the last observed connection state.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnected
}

// IsConnecting reports whether a Connect call is currently in flight.
func (a *Adapter) IsConnecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isConnecting
}

// IsHealthy reports the gateway's own health signal.
func (a *Adapter) IsHealthy() bool { return a.gw.IsHealthy() }

// DueForReconnect reports whether enough time has elapsed since the last
// connection attempt to try again, and if so stamps the attempt time. A
// non-positive reconnectInterval disables reconnection entirely, mirroring
// is_time_to_reconnect's early return.
func (a *Adapter) DueForReconnect() bool {
	if a.reconnectInterval <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if now.Sub(a.lastConnectAttempt) < a.reconnectInterval {
		return false
	}
	a.lastConnectAttempt = now
	return true
}

// DuePing reports whether at least interval has elapsed since the last
// ping attempt and, if so, stamps the attempt time, gating the periodic
// duties loop down to PING_INTERVAL (spec sections 4.7(ii) and 5) instead
// of pinging on every tick.
func (a *Adapter) DuePing(interval time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if now.Sub(a.lastPing) < interval {
		return false
	}
	a.lastPing = now
	return true
}

// Connect attempts to establish the gateway connection. is_connecting is
// held for the duration of the call so periodic duties can skip a broker
// that is mid-connect.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.isConnecting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.isConnecting = false
		a.mu.Unlock()
	}()

	if err := a.gw.Connect(ctx); err != nil {
		return fmt.Errorf("broker %s: connect: %w", a.gw.Name(), err)
	}
	return nil
}

// Disconnect tears down the gateway connection.
func (a *Adapter) Disconnect() error {
	if err := a.gw.Disconnect(); err != nil {
		return fmt.Errorf("broker %s: disconnect: %w", a.gw.Name(), err)
	}
	return nil
}

// Ping keeps the gateway's own liveness timer fed.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.gw.Ping(ctx); err != nil {
		a.handleBrokenConnection(err)
		return fmt.Errorf("broker %s: ping: %w", a.gw.Name(), err)
	}
	return nil
}

// PlaceOrder submits a new order. Returns ErrDisconnected without touching
// the gateway if the broker is known to be down, matching the original's
// guard against writing to a broken pipe.
func (a *Adapter) PlaceOrder(ctx context.Context, req gateway.PlaceOrderRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isConnected {
		return ErrDisconnected
	}
	if err := a.gw.PlaceOrder(ctx, req); err != nil {
		a.handleBrokenConnection(err)
		return fmt.Errorf("broker %s: place_order: %w", a.gw.Name(), err)
	}
	return nil
}

// ModifyOrder amends an in-flight order.
func (a *Adapter) ModifyOrder(ctx context.Context, req gateway.ModifyOrderRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isConnected {
		return ErrDisconnected
	}
	if err := a.gw.ModifyOrder(ctx, req); err != nil {
		a.handleBrokenConnection(err)
		return fmt.Errorf("broker %s: modify_order: %w", a.gw.Name(), err)
	}
	return nil
}

// CancelOrder cancels an in-flight order.
func (a *Adapter) CancelOrder(ctx context.Context, brokerOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isConnected {
		return ErrDisconnected
	}
	if err := a.gw.CancelOrder(ctx, brokerOrderID); err != nil {
		a.handleBrokenConnection(err)
		return fmt.Errorf("broker %s: cancel_order: %w", a.gw.Name(), err)
	}
	return nil
}

// handleBrokenConnection marks the broker disconnected in response to a
// transport-level failure, mirroring _handle_broken_pipe. Caller must hold
// a.mu.
func (a *Adapter) handleBrokenConnection(err error) {
	a.isConnected = false
	a.logger.Error("broker transport error, marking disconnected", "broker", a.gw.Name(), "error", err)
	if dErr := a.gw.Disconnect(); dErr != nil {
		a.logger.Error("disconnect after transport error failed", "broker", a.gw.Name(), "error", dErr)
	}
}
