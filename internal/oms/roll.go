package oms

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/ledger"
)

// instrumentKey identifies one (market, symbol) pair in the instrument
// reconciliation pass.
type instrumentKey struct {
	market string
	symbol string
}

// rollCandidate is a (market, symbol) whose stored front-month code just
// changed, paired with the new instrument record.
type rollCandidate struct {
	oldCode    string
	instrument domain.Instrument
}

// rollBrokerWait and rollFillWait bound how long the roll routine waits for
// all brokers to reconnect and for roll orders to fill, respectively. A
// broker-wait timeout skips the roll; a fill-wait timeout stops waiting and
// goes on to roll the stop-loss orders. Grounded on oms.py's _wait_for_brokers /
// _wait_for_roll_orders, which spin-sleep without a hard cap; a channel-based
// wait with a bounded deadline replaces that spin loop here.
const (
	rollBrokerWait = 30 * time.Second
	rollFillWait   = 2 * time.Minute
)

// RunContractRoll reconciles the instrument repository against the ledger's
// instrument table and, for any symbol whose front-month contract just
// rolled and whose roll instruction matches today, flattens the old
// contract, re-establishes the position in the new one, and rolls the
// resting stop-loss order. Grounded on oms.py's _reconcile_instruments /
// _roll_contracts, run once at startup.
func (o *OMS) RunContractRoll(ctx context.Context) {
	o.logger.Info("checking if any contract requires rolling")

	candidates, err := o.reconcileInstruments(ctx)
	if err != nil {
		o.logger.Error("reconcile instruments failed", "error", err)
		return
	}
	if len(candidates) == 0 {
		o.logger.Info("no contract requires rolling")
		return
	}

	o.logger.Info("contract roll candidates found, waiting for all brokers to connect", "count", len(candidates))
	if !o.waitForBrokers(ctx, rollBrokerWait) {
		o.logger.Warn("not all brokers connected, skipping contract roll this cycle")
		return
	}

	portfolios, err := o.store.QueryPortfolio(ctx, "", "")
	if err != nil || len(portfolios) == 0 {
		o.logger.Error("cannot determine portfolio for contract roll", "error", err)
		return
	}
	portfolio := portfolios[0].ID

	for _, c := range candidates {
		o.rollSymbol(ctx, portfolio, c)
	}
}

// reconcileInstruments compares the instrument repository's current
// front-month codes against the ledger's instrument table, upserting any
// drift and returning the set of symbols whose code just advanced.
// Grounded on oms.py's _reconcile_instruments.
func (o *OMS) reconcileInstruments(ctx context.Context) ([]rollCandidate, error) {
	rows, err := o.store.QueryInstruments(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[instrumentKey]ledger.InstrumentRow, len(rows))
	for _, r := range rows {
		stored[instrumentKey{r.Market, r.Symbol}] = r
	}

	var candidates []rollCandidate
	for _, inst := range o.instruments.All() {
		key := instrumentKey{inst.Market, inst.Symbol}
		existing, found := stored[key]
		if !found {
			o.logger.Info("new instrument, recording front-month code", "market", inst.Market, "symbol", inst.Symbol, "code", inst.Code)
			if err := o.store.UpsertInstrument(ctx, inst.Market, inst.Symbol, inst.Code, inst.Expiry); err != nil {
				o.logger.Error("upsert new instrument failed", "error", err)
			}
			continue
		}
		if existing.Code == inst.Code {
			continue
		}
		o.logger.Info("front-month contract changed, a roll may be required", "market", inst.Market, "symbol", inst.Symbol,
			"old_code", existing.Code, "new_code", inst.Code)
		candidates = append(candidates, rollCandidate{oldCode: existing.Code, instrument: inst})
		if err := o.store.UpsertInstrument(ctx, inst.Market, inst.Symbol, inst.Code, inst.Expiry); err != nil {
			o.logger.Error("upsert rolled instrument failed", "error", err)
		}
	}
	return candidates, nil
}

// waitForBrokers blocks until every registered broker reports connected or
// timeout elapses, replacing the original's time.sleep(0.5) spin loop with a
// short poll against the broker adapters' own connection state.
func (o *OMS) waitForBrokers(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if o.allBrokersConnected() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (o *OMS) allBrokersConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.brokers {
		if !b.IsConnected() {
			return false
		}
	}
	return true
}

// rollSymbol checks the roll instruction attached to one candidate against
// today's date in the instrument's exchange timezone and, on a match, rolls
// the position and its stop-loss order. Grounded on oms.py's
// _roll_one_symbol.
func (o *OMS) rollSymbol(ctx context.Context, portfolio string, c rollCandidate) {
	inst := c.instrument
	instruction, ok := o.instruments.RollInstructionFor(inst.Symbol)
	if !ok {
		o.logger.Info("instrument has no roll instruction attached, no rolling occurred", "symbol", inst.Symbol)
		return
	}

	tz := inst.Timezone
	if tz == nil {
		tz = time.UTC
	}
	today := time.Now().In(tz)
	matches := instruction.RollOnNextStart &&
		instruction.From == c.oldCode &&
		instruction.To == inst.Code &&
		sameDate(instruction.Date, today)
	if !matches {
		o.logger.Info("roll instruction does not match today's contract pair, no rolling occurred",
			"symbol", inst.Symbol, "from", instruction.From, "to", instruction.To)
		return
	}

	total, err := o.store.QueryTotalPosition(ctx, inst.Symbol)
	if err != nil {
		o.logger.Error("query total position for roll failed", "error", err)
		return
	}
	if total != instruction.NetPosition {
		o.logger.Error("roll instruction net_position does not match the aggregated ledger position, aborting roll",
			"symbol", inst.Symbol, "expected", instruction.NetPosition, "actual", total)
		return
	}

	o.rollPosition(ctx, portfolio, inst, instruction, total)
	o.rollStopLossOrders(ctx, inst, instruction)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// rollPosition flattens total units of the old contract and re-establishes
// them in the new one, both booked under the OMS's own roll strategy, then
// waits for both legs to fill before returning. Grounded on oms.py's
// _roll_one_symbol and _send_roll_order.
func (o *OMS) rollPosition(ctx context.Context, portfolio string, inst domain.Instrument, instruction domain.RollInstruction, total int64) {
	if total == 0 {
		o.logger.Info("aggregated position is 0, no position rolling required", "symbol", inst.Symbol)
		return
	}
	o.logger.Info("aggregated position is non-zero, rolling position", "symbol", inst.Symbol, "position", total)

	done := o.beginRollWait()
	isBuy := total < 0
	o.sendRollOrder(ctx, portfolio, inst.Market, inst.Symbol, instruction.From, isBuy, absInt64(total))
	o.sendRollOrder(ctx, portfolio, inst.Market, inst.Symbol, instruction.To, !isBuy, absInt64(total))

	o.logger.Info("waiting for roll orders to fill")
	if !o.waitForRollOrders(ctx, done, rollFillWait) {
		o.logger.Warn("roll orders did not fill before the wait deadline, continuing anyway", "symbol", inst.Symbol)
		return
	}
	o.logger.Info("all roll orders filled", "symbol", inst.Symbol)
}

// beginRollWait resets the in-flight roll-order set and hands back a channel
// that closes once that set drains, replacing the original's
// time.sleep(0.5) polling loop in _wait_for_roll_orders.
func (o *OMS) beginRollWait() chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollOrders = map[string]bool{}
	done := make(chan struct{})
	o.rollDone = done
	o.rollDoneClosed = false
	return done
}

// markRollOrderFilled removes brokerOrderID from the in-flight roll-order
// set and, if that drains it, signals any waiter via rollDone. Called from
// handleExecution when a fill completes an OMS-booked roll order.
func (o *OMS) markRollOrderFilled(brokerOrderID string) {
	o.mu.Lock()
	delete(o.rollOrders, brokerOrderID)
	empty := len(o.rollOrders) == 0
	done := o.rollDone
	shouldClose := empty && done != nil && !o.rollDoneClosed
	if shouldClose {
		o.rollDoneClosed = true
	}
	o.mu.Unlock()
	if shouldClose {
		close(done)
	}
}

func (o *OMS) waitForRollOrders(ctx context.Context, done chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}

// sendRollOrder places one MKT leg of a contract roll under the OMS's own
// strategy name, books it in the ledger, and registers it as in-flight.
// Grounded on oms.py's _send_roll_order.
func (o *OMS) sendRollOrder(ctx context.Context, portfolio, market, symbol, contract string, isBuy bool, quantity int64) {
	brokerID, brokerOrderID, ok := o.PlaceOrder(ctx, market, contract, domain.OrderTypeMarket, isBuy, quantity, decimal.Zero, "", domain.ActionRoll)
	if !ok {
		o.logger.Error("failed to send roll order", "symbol", symbol, "contract", contract)
		return
	}
	if err := o.store.InsertOrder(ctx, domain.Order{
		SessionID: strategyName, BrokerID: brokerID, BrokerOrderID: brokerOrderID,
		Market: market, Symbol: symbol, Type: domain.OrderTypeMarket, IsBuy: isBuy, Quantity: quantity,
		Portfolio: portfolio, Action: domain.ActionRoll, Strategy: strategyName,
	}); err != nil {
		o.logger.Error("insert roll order failed", "error", err)
	}
	o.mu.Lock()
	o.rollOrders[brokerOrderID] = true
	o.mu.Unlock()
}

// rollStopLossOrders replaces the resting stop for every strategy holding a
// position in symbol: the most-recently-modified active STOP_LOSS order is
// cancelled and replaced at its price shifted by the roll instruction's
// offset. The original (_roll_stop_loss_orders) loops over every matching
// STP order per strategy; this follows the single most-recently-modified
// order instead.
func (o *OMS) rollStopLossOrders(ctx context.Context, inst domain.Instrument, instruction domain.RollInstruction) {
	positions, err := o.store.QueryPosition(ctx, "", "", "", inst.Symbol)
	if err != nil {
		o.logger.Error("query positions for stop roll failed", "error", err)
		return
	}

	for _, pos := range positions {
		if pos.Quantity == 0 {
			continue
		}
		orders, err := o.store.QueryOrder(ctx, ledger.OrderFilter{
			Strategy: pos.Strategy, Symbol: inst.Symbol, OrderType: domain.OrderTypeStop, Action: domain.ActionStopLoss,
			ActiveOrdersOnly: true, OrderByLastModified: true,
		})
		if err != nil {
			o.logger.Error("query active stop orders for roll failed", "error", err)
			continue
		}
		if len(orders) == 0 {
			o.logger.Warn("strategy holds a position but has no active stop order, skipping roll",
				"strategy", pos.Strategy, "symbol", inst.Symbol, "position", pos.Quantity)
			continue
		}

		stop := orders[0]
		o.logger.Info("cancelling stop-loss order ahead of roll replacement", "broker_order_id", stop.BrokerOrderID)
		o.CancelOnBestBroker(ctx, stop.BrokerOrderID)

		newPrice := stop.Price.Add(instruction.Offset)
		brokerID, brokerOrderID, ok := o.PlaceOrder(ctx, inst.Market, inst.Symbol, domain.OrderTypeStop, stop.IsBuy, stop.Quantity, newPrice, "", domain.ActionStopLoss)
		if !ok {
			o.logger.Error("failed to place replacement stop order for roll", "symbol", inst.Symbol, "strategy", pos.Strategy)
			continue
		}
		if err := o.store.InsertOrder(ctx, domain.Order{
			SessionID: stop.SessionID, ParentOrderID: stop.ParentOrderID, BrokerID: brokerID, BrokerOrderID: brokerOrderID,
			Market: inst.Market, Symbol: inst.Symbol, Type: domain.OrderTypeStop, IsBuy: stop.IsBuy, Quantity: stop.Quantity,
			Price: newPrice, Portfolio: stop.Portfolio, Action: domain.ActionStopLoss, Strategy: stop.Strategy, Comment: cloneComment(stop.Comment),
		}); err != nil {
			o.logger.Error("insert replacement stop order for roll failed", "error", err)
		}
		o.logger.Info("rolled stop-loss order", "symbol", inst.Symbol, "strategy", pos.Strategy, "old_price", stop.Price, "new_price", newPrice)
	}
}
