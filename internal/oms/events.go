package oms

import (
	"context"
	"sync"

	"github.com/timour/oms/internal/gateway"
)

// BrokerEvents adapts one broker's gateway callbacks onto the OMS core,
// tagging every event with the broker's name the way oms.py's
// handle_* methods read `src.name` off the gateway that raised them.
type BrokerEvents struct {
	oms        *OMS
	brokerName string

	mu        sync.Mutex
	openOrders []gateway.OpenOrderItem
}

// NewBrokerEvents returns the gateway.Events sink to register (via
// broker.NewAdapter) for the broker identified by name.
func NewBrokerEvents(o *OMS, brokerName string) *BrokerEvents {
	return &BrokerEvents{oms: o, brokerName: brokerName}
}

func (e *BrokerEvents) OnError(err gateway.OrderError) {
	e.oms.handleBrokerError(context.Background(), e.brokerName, err)
}

func (e *BrokerEvents) OnConnectionUpdate(update gateway.ConnectionUpdate) {
	e.oms.logger.Info("broker connection update", "broker", e.brokerName, "connected", update.Connected)
	if e.oms.metrics != nil {
		v := 0.0
		if update.Connected {
			v = 1.0
		}
		e.oms.metrics.BrokerConnected.WithLabelValues(e.brokerName).Set(v)
	}
}

func (e *BrokerEvents) OnOrderUpdate(update gateway.OrderUpdate) {
	e.oms.handleOrderUpdate(context.Background(), e.brokerName, update)
}

func (e *BrokerEvents) OnExecution(update gateway.ExecutionUpdate) {
	e.oms.handleExecution(context.Background(), e.brokerName, update)
}

func (e *BrokerEvents) OnAccountInfoUpdate(update gateway.AccountUpdate) {
	e.oms.logger.Debug("account info update", "broker", e.brokerName, "account", update.AccountID)
}

func (e *BrokerEvents) OnPositionUpdate(update gateway.PositionUpdate) {
	e.oms.logger.Debug("position update", "broker", e.brokerName, "symbol", update.Symbol)
}

func (e *BrokerEvents) OnOpenOrder(item gateway.OpenOrderItem) {
	e.mu.Lock()
	e.openOrders = append(e.openOrders, item)
	e.mu.Unlock()
}

func (e *BrokerEvents) OnOpenOrderEnd() {
	e.mu.Lock()
	items := e.openOrders
	e.openOrders = nil
	e.mu.Unlock()
	e.oms.handleOpenOrderEnd(context.Background(), e.brokerName, items)
}
