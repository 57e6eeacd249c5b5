package oms

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

// handleOrderUpdate applies one broker-side order state transition:
// finalising a cancelled LMT entry (unfilled reject, partial-as-full),
// detecting a manually-edited STP (AMEND/REDUCE/INCREASE), and upserting
// the order row. Grounded on oms.py's handle_order_update.
func (o *OMS) handleOrderUpdate(ctx context.Context, brokerName string, ev gateway.OrderUpdate) {
	o.logger.Info("order update received", "broker", brokerName, "order", ev.BrokerOrderID, "state", ev.State)

	if ev.State == domain.OrderStateCancelled && !ev.IsHistorical {
		orders, err := o.store.QueryOrder(ctx, ledger.OrderFilter{
			BrokerID: brokerName, BrokerOrderID: ev.BrokerOrderID, OrderType: domain.OrderTypeLimit, Action: domain.ActionEntry,
		})
		if err != nil {
			o.logger.Error("query cancelled entry order failed", "error", err)
		} else if len(orders) == 1 {
			order := orders[0]
			switch {
			case ev.FilledQuantity == 0:
				if err := o.store.DeletePositionByEntry(ctx, order.SessionID, order.OrderID); err != nil {
					o.logger.Error("delete position_by_entry on cancel failed", "error", err)
				}
				o.housekeepExpiredOrder(ev.BrokerOrderID, order.SessionID, order.OrderID)
			case ev.RemainingQuantity > 0:
				o.finalizePartialFillAsFull(ctx, brokerName, order, ev.FilledQuantity)
				return
			}
		}
	}

	var orderAction *domain.Action
	stpOrders, err := o.store.QueryOrder(ctx, ledger.OrderFilter{BrokerID: brokerName, BrokerOrderID: ev.BrokerOrderID, OrderType: domain.OrderTypeStop})
	if err != nil {
		o.logger.Error("query STP order for manual-edit detection failed", "error", err)
	} else if len(stpOrders) == 1 {
		order := stpOrders[0]
		orderRef, _ := order.Comment["order_reference"].(string)

		if !closeEnough(order.Price, ev.Price) {
			o.logger.Info("STP order price changed, marking manual stop edit", "broker_order_id", ev.BrokerOrderID, "old", order.Price, "new", ev.Price)
			action := domain.ActionManualStopLoss
			orderAction = &action
			if orderRef != "" {
				if err := o.store.InsertOperation(ctx, ledger.Operation{
					PortfolioID: order.Portfolio, Strategy: order.Strategy, Action: domain.ActionAmend,
					OrderReference: orderRef, Price: &ev.Price, Identity: brokerName,
				}); err != nil {
					o.logger.Error("insert AMEND operation failed", "error", err)
				}
			}
		}

		if ev.Quantity != 0 && ev.Quantity != order.Quantity {
			o.logger.Info("STP order quantity changed, marking manual stop edit", "broker_order_id", ev.BrokerOrderID, "old", order.Quantity, "new", ev.Quantity)
			action := domain.ActionManualStopLoss
			orderAction = &action

			if s := o.lookupSessionByOrderID(ev.BrokerOrderID); s != nil {
				direction := int64(1)
				if order.IsBuy {
					direction = -1
				}
				adjustment := (ev.Quantity - order.Quantity) * direction
				if err := o.store.UpdatePosition(ctx, order.Portfolio, order.Strategy, order.Market, order.Symbol, adjustment, nil); err != nil {
					o.logger.Error("update position for manual stop edit failed", "error", err)
				}
				if orderRef != "" {
					opAction := domain.ActionIncrease
					if ev.Quantity < order.Quantity {
						opAction = domain.ActionReduce
					}
					if err := o.store.InsertOperation(ctx, ledger.Operation{
						PortfolioID: order.Portfolio, Strategy: order.Strategy, Action: opAction,
						Position: ev.Quantity - order.Quantity, OrderReference: orderRef, Identity: brokerName,
					}); err != nil {
						o.logger.Error("insert REDUCE/INCREASE operation failed", "error", err)
					}
				}
				if reply, err := s.BuildPositionMessage(ctx, nil, true); err == nil {
					o.send(s.SourceID(), reply)
				}
			} else {
				o.logger.Error("cannot find any session owning STP order", "broker_order_id", ev.BrokerOrderID)
			}
		}
	}

	if err := o.store.UpdateOrder(ctx, ledger.OrderUpdate{
		BrokerID: brokerName, BrokerOrderID: ev.BrokerOrderID,
		Quantity: int64Ptr(ev.Quantity), Price: &ev.Price,
		RemainingQuantity: int64Ptr(ev.RemainingQuantity), FilledQuantity: int64Ptr(ev.FilledQuantity),
		State: statePtr(ev.State), Action: orderAction,
	}); err != nil {
		o.logger.Error("upsert order from order update failed", "error", err)
	}
}

// closeEnough mirrors math.isclose's tolerance on the price comparison that
// detects a manual stop edit.
func closeEnough(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs().InexactFloat64()
	return diff <= math.Max(math.Abs(a.InexactFloat64()), math.Abs(b.InexactFloat64()))*1e-9
}

// housekeepExpiredOrder resets the owning session's projected position by
// publishing ORDER_REJECTED("Order Cancelled") for an entry that never
// filled, mirroring _housekeep_expired_order.
func (o *OMS) housekeepExpiredOrder(brokerOrderID, sessionID string, sessionOrderID int64) {
	s := o.lookupSessionByOrderID(brokerOrderID)
	if s == nil {
		o.logger.Warn("failed to find session for expired order", "broker_order_id", brokerOrderID)
		return
	}
	o.send(s.SourceID(), s.PublishOrderRejected(sessionOrderID, "Order Cancelled"))
}

// finalizePartialFillAsFull treats a partially-filled LMT entry that can no
// longer receive further fills (cancelled, or missing from an open-order
// snapshot) as a terminal full fill at the order's original limit price,
// synthesising its stop-loss and publishing a renewed position. Grounded
// on oms.py's _handle_partial_filled_order.
func (o *OMS) finalizePartialFillAsFull(ctx context.Context, brokerName string, order domain.Order, filled int64) {
	if err := o.store.UpdateOrder(ctx, ledger.OrderUpdate{
		BrokerID: brokerName, BrokerOrderID: order.BrokerOrderID,
		Quantity: int64Ptr(filled), RemainingQuantity: int64Ptr(0), FilledQuantity: int64Ptr(filled),
		State: statePtr(domain.OrderStateFullyFilled),
	}); err != nil {
		o.logger.Error("update order to traded size failed", "error", err)
	}

	state := domain.PositionByEntryFullyFilled
	if err := o.store.UpdatePositionByEntry(ctx, ledger.PositionByEntryUpdate{
		SessionID: order.SessionID, OrderID: order.OrderID, Quantity: int64Ptr(filled), AvgPrice: &order.Price, State: &state,
	}); err != nil {
		o.logger.Error("update position_by_entry to traded size failed", "error", err)
	}

	o.PlaceStopForSession(ctx, order.SessionID, order.Market, order.Symbol, !order.IsBuy, filled, order.Price,
		order.Portfolio, order.Strategy, order.OrderID, cloneComment(order.Comment))

	s := o.lookupSessionByOrderID(order.BrokerOrderID)
	if s == nil {
		o.logger.Warn("failed to find session for partially filled order", "broker_order_id", order.BrokerOrderID)
		return
	}

	if reply, err := s.BuildPositionMessage(ctx, nil, true); err == nil {
		o.send(s.SourceID(), reply)
	}
}
