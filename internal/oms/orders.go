package oms

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/broker"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/session"
)

var _ session.Core = (*OMS)(nil)

// IsReady reports whether every registered broker is connected, mirroring
// is_ready: the OMS refuses new orders unless the whole fleet is up.
func (o *OMS) IsReady() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.brokers {
		if !b.IsConnected() {
			return false
		}
	}
	return true
}

// bestBroker returns the first healthy broker, mirroring get_broker's
// single-broker-for-now assumption (documented there as IB-only).
func (o *OMS) bestBroker() *broker.Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.brokers {
		if b.IsHealthy() {
			return b
		}
	}
	return nil
}

// CancelOnBestBroker cancels brokerOrderID on whichever broker is currently
// healthy, used by session.Session when pulling stop orders ahead of an
// EXIT.
func (o *OMS) CancelOnBestBroker(ctx context.Context, brokerOrderID string) {
	b := o.bestBroker()
	if b == nil {
		o.logger.Warn("cannot cancel order, no healthy broker", "broker_order_id", brokerOrderID)
		return
	}
	if err := b.CancelOrder(ctx, brokerOrderID); err != nil {
		o.logger.Error("cancel order failed", "broker_order_id", brokerOrderID, "error", err)
	}
}

// PlaceOrder routes an order to the best available broker, substituting
// the front-month contract code when the instrument repository knows one,
// mirroring place_order.
func (o *OMS) PlaceOrder(ctx context.Context, market, symbol string, orderType domain.OrderType, isBuy bool,
	quantity int64, price decimal.Decimal, goodTill string, action domain.Action) (brokerID string, brokerOrderID string, ok bool) {

	orderSymbol := symbol
	if inst, found := o.instruments.Find(market, symbol); found && inst.Symbol == symbol {
		orderSymbol = inst.Code
		o.logger.Info("substituting front-month contract", "symbol", symbol, "front_month", orderSymbol)
	}

	b := o.bestBroker()
	if b == nil {
		o.logger.Warn("cannot find any available broker")
		return "", "", false
	}

	tif := "GTC"
	if goodTill != "" {
		tif = "GTD"
	}

	reqID := o.nextRequestID()
	req := gateway.PlaceOrderRequest{
		BrokerOrderID: itoa(reqID),
		Market:        market,
		Symbol:        orderSymbol,
		Type:          orderType,
		IsBuy:         isBuy,
		Quantity:      quantity,
		Price:         price,
		TimeInForce:   tif,
		GoodTillDate:  goodTill,
	}

	o.logger.Info("sending order to broker", "request_id", reqID, "market", market, "symbol", orderSymbol,
		"type", orderType, "is_buy", isBuy, "quantity", quantity, "price", price, "tif", tif, "good_till", goodTill)
	if err := b.PlaceOrder(ctx, req); err != nil {
		o.logger.Error("place_order failed", "error", err)
		return "", "", false
	}
	if o.metrics != nil {
		o.metrics.OrdersPlaced.WithLabelValues(string(action), string(orderType)).Inc()
	}
	return b.Name(), req.BrokerOrderID, true
}

// PlaceStop submits a protective stop order on behalf of a fill and, if
// session is non-nil, records the broker order id against it as
// unsolicited, mirroring _place_stop.
func (o *OMS) PlaceStop(ctx context.Context, sessionID string, market, symbol string, isBuy bool, quantity int64,
	price decimal.Decimal, portfolio, strategy string, parentOrderID int64, comment map[string]any, notify *session.Session) {
	if !o.IsReady() {
		o.logger.Warn("OMS not ready, stop order was not sent", "session_id", sessionID)
		return
	}

	brokerID, brokerOrderID, ok := o.PlaceOrder(ctx, market, symbol, domain.OrderTypeStop, isBuy, quantity, price, "", domain.ActionStopLoss)
	if ok {
		err := o.store.InsertOrder(ctx, domain.Order{
			SessionID: sessionID, ParentOrderID: parentOrderID, BrokerID: brokerID, BrokerOrderID: brokerOrderID,
			Market: market, Symbol: symbol, Type: domain.OrderTypeStop, IsBuy: isBuy, Quantity: quantity, Price: price,
			Portfolio: portfolio, Action: domain.ActionStopLoss, Strategy: strategy, Comment: comment,
		})
		if err != nil {
			o.logger.Error("insert stop order failed", "error", err)
		}
		if o.metrics != nil {
			o.metrics.StopLossesPlaced.Inc()
		}
	}
	if notify != nil && brokerOrderID != "" {
		notify.NotifyUnsolicitedOrder(brokerOrderID)
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// lookupSessionByOrderID scans registered sessions for one owning
// brokerOrderID, mirroring _lookup_session_by_order_id.
func (o *OMS) lookupSessionByOrderID(brokerOrderID string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.IsOwnOrder(brokerOrderID) {
			return s
		}
	}
	return nil
}

// sessionByID looks up a registered session by its client-chosen session
// id (as opposed to its ZeroMQ routing identity).
func (o *OMS) sessionByID(sessionID string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.ID() == sessionID {
			return s
		}
	}
	return nil
}

// PlaceStopForSession places a stop via PlaceStop, attaching the
// unsolicited-order notification to sessionID's registered session when
// still connected.
func (o *OMS) PlaceStopForSession(ctx context.Context, sessionID string, market, symbol string, isBuy bool, quantity int64,
	price decimal.Decimal, portfolio, strategy string, parentOrderID int64, comment map[string]any) {
	o.PlaceStop(ctx, sessionID, market, symbol, isBuy, quantity, price, portfolio, strategy, parentOrderID, comment, o.sessionByID(sessionID))
}

func (o *OMS) buildPositionMessageFor(ctx context.Context, s *session.Session) (*codec.Message, error) {
	return s.BuildPositionMessage(ctx, nil, false)
}
