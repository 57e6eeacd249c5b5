package oms

import (
	"context"

	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

// handleOpenOrderEnd reconciles the ledger's open ENTRY LMT orders against
// a broker's open-order snapshot: any ledger-open order missing from the
// snapshot either never filled (reject, drop its position_by_entry) or
// partially filled (finalise as a terminal full fill), mirroring
// oms.py's handle_open_order_end.
func (o *OMS) handleOpenOrderEnd(ctx context.Context, brokerName string, snapshot []gateway.OpenOrderItem) {
	available := make(map[string]bool, len(snapshot))
	for _, item := range snapshot {
		if item.BrokerOrderID != "" {
			available[item.BrokerOrderID] = true
		}
	}
	o.logger.Info("open order snapshot received", "broker", brokerName, "count", len(snapshot))

	orders, err := o.store.QueryOrder(ctx, ledger.OrderFilter{
		BrokerID: brokerName, OrderType: domain.OrderTypeLimit, Action: domain.ActionEntry, ActiveOrdersOnly: true,
	})
	if err != nil {
		o.logger.Error("query open entry orders for reconciliation failed", "error", err)
		return
	}

	for _, order := range orders {
		if available[order.BrokerOrderID] {
			continue
		}
		switch {
		case order.FilledQuantity == 0:
			if err := o.store.UpdateOrder(ctx, ledger.OrderUpdate{
				BrokerID: brokerName, BrokerOrderID: order.BrokerOrderID, State: statePtr(domain.OrderStateCancelled),
			}); err != nil {
				o.logger.Error("mark missing order cancelled failed", "error", err)
				continue
			}
			if err := o.store.DeletePositionByEntry(ctx, order.SessionID, order.OrderID); err != nil {
				o.logger.Error("delete position_by_entry for missing order failed", "error", err)
			}
			o.housekeepExpiredOrder(order.BrokerOrderID, order.SessionID, order.OrderID)
		case order.RemainingQuantity > 0:
			o.finalizePartialFillAsFull(ctx, brokerName, order, order.FilledQuantity)
		}
	}
}
