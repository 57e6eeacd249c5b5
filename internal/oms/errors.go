package oms

import (
	"context"

	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

// entryRejectCodes reject the owning session's ENTRY order and roll back
// its position_by_entry row, mirroring the literal code list in
// handle_broker_error.
var entryRejectCodes = map[int]bool{
	103: true, 107: true, 109: true, 110: true, 116: true, 200: true, 201: true, 10149: true,
}

// disconnectCodes signal the broker connection to Trader Workstation was
// lost at the session level (not a per-order error).
var disconnectCodes = map[int]bool{502: true, 504: true, 1100: true}

// reconnectCodes signal that connectivity has been restored.
var reconnectCodes = map[int]bool{1101: true, 1102: true}

// orderInactiveCode mirrors IB error 10147 ("order not found"): the order
// is marked INACTIVE without a session-level reject.
const orderInactiveCode = 10147

// handleBrokerError routes one broker error per the table documented in
// handle_broker_error: order-scoped errors first, falling back to
// session-level connectivity signals for errors with no BrokerOrderID.
func (o *OMS) handleBrokerError(ctx context.Context, brokerName string, err gateway.OrderError) {
	o.logger.Info("broker error", "broker", brokerName, "code", err.Code, "message", err.Message, "order_id", err.BrokerOrderID)

	if err.BrokerOrderID != "" {
		if err.Code == orderInactiveCode {
			if uerr := o.store.UpdateOrder(ctx, ledger.OrderUpdate{BrokerID: brokerName, BrokerOrderID: err.BrokerOrderID, State: statePtr(domain.OrderStateInactive)}); uerr != nil {
				o.logger.Error("update order to INACTIVE failed", "error", uerr)
			}
			return
		}

		s := o.lookupSessionByOrderID(err.BrokerOrderID)
		if s == nil {
			return
		}
		o.logger.Info("order belongs to session", "session", s.ID())

		if entryRejectCodes[err.Code] {
			orders, qerr := o.store.QueryOrder(ctx, ledger.OrderFilter{BrokerID: brokerName, BrokerOrderID: err.BrokerOrderID, Action: domain.ActionEntry})
			if qerr != nil {
				o.logger.Error("query order for reject rollback failed", "error", qerr)
				return
			}
			sessionOrderID, found := s.FindSessionOrderID(err.BrokerOrderID)
			if found {
				if len(orders) == 1 {
					if derr := o.store.DeletePositionByEntry(ctx, s.ID(), sessionOrderID); derr != nil {
						o.logger.Error("delete position_by_entry on reject failed", "error", derr)
					}
				}
				o.send(s.SourceID(), s.PublishOrderRejected(sessionOrderID, err.Message))
			}
			return
		}

		if msg, ok := s.PublishOrderError(err.BrokerOrderID, err.Message); ok {
			o.send(s.SourceID(), msg)
		}
		return
	}

	if disconnectCodes[err.Code] {
		o.setBrokerConnected(brokerName, false)
	} else if reconnectCodes[err.Code] {
		o.setBrokerConnected(brokerName, true)
	}
}

func (o *OMS) setBrokerConnected(brokerName string, connected bool) {
	o.mu.Lock()
	b, ok := o.brokers[brokerName]
	o.mu.Unlock()
	if !ok {
		return
	}
	if connected {
		go func() {
			if err := b.Connect(context.Background()); err != nil {
				o.logger.Error("reconnect after restored connectivity failed", "broker", brokerName, "error", err)
			}
		}()
	} else {
		if err := b.Disconnect(); err != nil {
			o.logger.Error("disconnect after connectivity loss failed", "broker", brokerName, "error", err)
		}
	}
}

func statePtr(s domain.OrderState) *domain.OrderState { return &s }
