package oms

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
)

// handleExecution applies one fill: dedup against already-recorded
// executions, update the net position under the average-price law, and
// synthesize a stop-loss (on ENTRY full-fill) or walk the exit down the
// position_by_entry stack (on EXIT full-fill). Grounded on
// oms.py's handle_execution.
func (o *OMS) handleExecution(ctx context.Context, brokerName string, ev gateway.ExecutionUpdate) {
	o.logger.Info("execution received", "broker", brokerName, "execution_id", ev.BrokerExecutionID, "order", ev.BrokerOrderID)

	existing, err := o.store.QueryExecutions(ctx, brokerName, ev.BrokerExecutionID, 0)
	if err != nil {
		o.logger.Error("query executions for dedup failed", "error", err)
		return
	}
	if len(existing) > 0 {
		o.logger.Info("duplicate execution, already recorded", "execution_id", ev.BrokerExecutionID)
		return
	}

	if ev.BrokerOrderID == "" {
		o.logger.Info("skipping execution with no recognizable order reference")
		return
	}

	if err := o.store.InsertExecution(ctx, domain.Execution{
		BrokerID: brokerName, BrokerExecutionID: ev.BrokerExecutionID, BrokerOrderID: ev.BrokerOrderID,
		IsBuy: ev.IsBuy, Symbol: ev.Symbol, Quantity: ev.Quantity, Price: ev.Price, LeaveQuantity: ev.LeaveQuantity,
		Commission: ev.Commission, Currency: ev.Currency, ExecutionTime: ev.ExecutionTime.Format(timeFormat),
	}); err != nil {
		o.logger.Error("insert execution failed", "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.ExecutionsProcessed.Inc()
	}

	orders, err := o.store.QueryOrder(ctx, ledger.OrderFilter{BrokerID: brokerName, BrokerOrderID: ev.BrokerOrderID})
	if err != nil || len(orders) != 1 {
		o.logger.Error("cannot find the order, unable to update position", "broker_order_id", ev.BrokerOrderID)
		return
	}
	order := orders[0]

	direction := int64(1)
	if !ev.IsBuy {
		direction = -1
	}
	position := direction * ev.Quantity
	avgPrice := ev.Price
	cumQty := ev.Quantity - ev.LeaveQuantity
	fullyFilled := cumQty == order.Quantity

	if order.Strategy == strategyName {
		o.logger.Info("execution belongs to an OMS roll/internal order, skipping position update")
		if fullyFilled {
			o.markRollOrderFilled(ev.BrokerOrderID)
		}
		return
	}

	positions, err := o.store.QueryPosition(ctx, order.Portfolio, order.Strategy, order.Market, order.Symbol)
	if err == nil && len(positions) > 0 && positions[0].Quantity != 0 {
		existingAvg := positions[0].AvgPrice
		existingQty := positions[0].Quantity
		avgPrice = avgPrice.Mul(decimal.NewFromInt(absInt64(position))).
			Add(existingAvg.Mul(decimal.NewFromInt(absInt64(existingQty)))).
			Div(decimal.NewFromInt(absInt64(position) + absInt64(existingQty)))
		o.logger.Info("computed new average price against existing position", "existing", existingQty, "new_avg", avgPrice)
	}

	if err := o.store.UpdatePosition(ctx, order.Portfolio, order.Strategy, order.Market, order.Symbol, position, &avgPrice); err != nil {
		o.logger.Error("update position failed", "error", err)
	}
	if fullyFilled {
		if err := o.store.UpdateOrder(ctx, ledger.OrderUpdate{
			BrokerID: brokerName, BrokerOrderID: ev.BrokerOrderID,
			RemainingQuantity: int64Ptr(0), FilledQuantity: int64Ptr(order.Quantity), State: statePtr(domain.OrderStateFullyFilled),
		}); err != nil {
			o.logger.Error("update order to FULLY_FILLED failed", "error", err)
		}
	}

	if s := o.lookupSessionByOrderID(ev.BrokerOrderID); s != nil {
		o.logger.Info("order belongs to session", "session", s.ID())
		item := codec.ExecutionItem{
			OrderID: strconv.FormatInt(order.OrderID, 10), ExecutionID: ev.BrokerExecutionID,
			ExecutionTime: ev.ExecutionTime.Format(timeFormat), Market: order.Market, Symbol: order.Symbol,
			IsBuy: ev.IsBuy, Quantity: ev.Quantity, Price: ev.Price.InexactFloat64(),
			RemainingQuantity: order.Quantity - cumQty, Portfolio: order.Portfolio, Strategy: order.Strategy,
			Action: string(order.Action), Reference: order.Reference, Comment: order.Comment,
		}
		o.send(s.SourceID(), &codec.Message{Type: codec.MsgExecution, Execution: &codec.Execution{Items: []codec.ExecutionItem{item}}})
		if reply, err := o.buildPositionMessageFor(ctx, s); err == nil {
			o.send(s.SourceID(), reply)
		}
	}

	if cumQty != order.Quantity {
		return
	}

	switch order.Action {
	case domain.ActionEntry:
		o.synthesizeStopLoss(ctx, order, ev, avgPrice)
	case domain.ActionExit:
		o.walkExit(ctx, order)
	}
}

// synthesizeStopLoss places the protective stop for a fully-filled ENTRY,
// grounded on oms.py's inline stop-loss block inside handle_execution.
func (o *OMS) synthesizeStopLoss(ctx context.Context, order domain.Order, ev gateway.ExecutionUpdate, avgPrice decimal.Decimal) {
	o.logger.Info("entry order fully filled, sending stop-loss order", "order_id", order.OrderID)

	inst, _ := o.instruments.Find(order.Market, order.Symbol)
	tick := inst.TickSize
	if tick.IsZero() {
		tick = domain.DefaultTickSize
	}

	isBuy := !order.IsBuy
	offset := decimalFromComment(order.Comment, "stop_loss_offset")
	isLong := order.IsBuy
	var absolute *decimal.Decimal
	if v, ok := order.Comment["stop_loss_absolute"]; ok {
		d := decimalFromAny(v)
		absolute = &d
	}
	price := domain.StopPrice(avgPrice, offset, absolute, isLong, tick)

	comment := cloneComment(order.Comment)
	comment["cost"] = ev.Price.InexactFloat64()

	o.PlaceStopForSession(ctx, order.SessionID, order.Market, order.Symbol, isBuy, order.Quantity, price,
		order.Portfolio, order.Strategy, order.OrderID, comment)

	state := domain.PositionByEntryFullyFilled
	if err := o.store.UpdatePositionByEntry(ctx, ledger.PositionByEntryUpdate{
		SessionID: order.SessionID, OrderID: order.OrderID, AvgPrice: &avgPrice, State: &state,
	}); err != nil {
		o.logger.Error("update position_by_entry after stop synthesis failed", "error", err)
	}
}

// walkExit consumes the position_by_entry stack for an EXIT fill, either
// matching a single explicit order_reference or walking entries most-recent
// first until the exit quantity is exhausted (oms.py's EXIT branch).
func (o *OMS) walkExit(ctx context.Context, order domain.Order) {
	orderRef, _ := order.Comment["order_reference"].(string)
	if orderRef != "" {
		exited := domain.PositionByEntryExited
		if err := o.store.UpdatePositionByEntry(ctx, ledger.PositionByEntryUpdate{
			PortfolioID: order.Portfolio, Strategy: order.Strategy, OrderReference: orderRef, State: &exited,
		}); err != nil {
			o.logger.Error("update position_by_entry on exit failed", "error", err)
		}
		return
	}

	entries, err := o.store.QueryPositionByEntry(ctx, order.Portfolio, order.Strategy, order.Market, order.Symbol)
	if err != nil {
		o.logger.Error("query position_by_entry for exit walk failed", "error", err)
		return
	}

	remaining := order.Quantity
	for i := 0; i < len(entries) && remaining > 0; i++ {
		e := entries[i]
		if remaining >= e.Quantity {
			exited := domain.PositionByEntryExited
			if err := o.store.UpdatePositionByEntry(ctx, ledger.PositionByEntryUpdate{
				PortfolioID: order.Portfolio, Strategy: order.Strategy, OrderReference: e.OrderReference, State: &exited,
			}); err != nil {
				o.logger.Error("update position_by_entry on full exit-leg failed", "error", err)
			}
			remaining -= e.Quantity
		} else {
			newPos := e.Quantity - remaining
			if err := o.store.UpdatePositionByEntry(ctx, ledger.PositionByEntryUpdate{
				PortfolioID: order.Portfolio, Strategy: order.Strategy, OrderReference: e.OrderReference, Quantity: &newPos,
			}); err != nil {
				o.logger.Error("update position_by_entry on partial exit-leg failed", "error", err)
			}
			o.logger.Info("partial exit against position_by_entry", "order_reference", e.OrderReference, "new_position", newPos)
			o.replaceStopAfterPartialExit(ctx, order, e.OrderReference, e.Quantity, newPos)
			remaining = 0
		}
	}
}

// replaceStopAfterPartialExit cancels the resting STP order covering a
// partially-exited entry and places a replacement of the reduced quantity
// at the same price, parented to the original stop, mirroring oms.py's
// inline STP-replacement block inside the EXIT branch of handle_execution.
func (o *OMS) replaceStopAfterPartialExit(ctx context.Context, exit domain.Order, orderRef string, previousQty, newQty int64) {
	stops, err := o.store.QueryOrder(ctx, ledger.OrderFilter{
		Portfolio: exit.Portfolio, Strategy: exit.Strategy, OrderType: domain.OrderTypeStop, OrderByCreated: true,
	})
	if err != nil {
		o.logger.Error("query STP orders for partial-exit replacement failed", "error", err)
		return
	}
	for _, stp := range stops {
		stpRef, _ := stp.Comment["order_reference"].(string)
		if stpRef != orderRef || stp.Quantity != previousQty {
			continue
		}
		o.CancelOnBestBroker(ctx, stp.BrokerOrderID)
		o.PlaceStopForSession(ctx, stp.SessionID, stp.Market, stp.Symbol, stp.IsBuy, newQty, stp.Price,
			stp.Portfolio, stp.Strategy, stp.ParentOrderID, cloneComment(stp.Comment))
		o.logger.Info("replaced stop-loss after partial exit", "order_reference", orderRef, "parent_order_id", stp.ParentOrderID, "new_quantity", newQty)
		return
	}
}

const timeFormat = "2006-01-02T15:04:05.000000"

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func int64Ptr(n int64) *int64 { return &n }

func decimalFromComment(comment map[string]any, key string) decimal.Decimal {
	if v, ok := comment[key]; ok {
		return decimalFromAny(v)
	}
	return decimal.Zero
}

func decimalFromAny(v any) decimal.Decimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		d, err := decimal.NewFromString(t)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func cloneComment(comment map[string]any) map[string]any {
	out := make(map[string]any, len(comment)+1)
	for k, v := range comment {
		out[k] = v
	}
	return out
}
