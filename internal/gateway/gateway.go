// Package gateway declares the broker-adapter boundary the OMS core talks
// to: one Gateway per connected broker, driving and driven by the
// callbacks enumerated in spec section 6.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
)

// PlaceOrderRequest is the set of fields a Gateway needs to submit a new
// order to its broker.
type PlaceOrderRequest struct {
	BrokerOrderID string
	Market        string
	Symbol        string
	Type          domain.OrderType
	IsBuy         bool
	Quantity      int64
	Price         decimal.Decimal
	// TimeInForce is "GTC" unless GoodTillDate is set, in which case it is
	// "GTD" (spec section 6: good_till presence promotes TIF from GTC to
	// GTD).
	TimeInForce  string
	GoodTillDate string
}

// ModifyOrderRequest carries the optional fields a broker supports amending
// in place; a nil pointer leaves that field unchanged.
type ModifyOrderRequest struct {
	BrokerOrderID string
	Quantity      *int64
	Price         *decimal.Decimal
}

// ConnectionUpdate reports a change in the gateway's connection state.
type ConnectionUpdate struct {
	Connected bool
}

// OrderUpdate reports a broker-side order state transition. IsHistorical
// distinguishes a replay fired by RequestOpenOrders/RequestExecutions from
// a live event; the OMS core only treats a CANCELLED status as terminal
// when it arrives live (spec section 4.5).
type OrderUpdate struct {
	BrokerOrderID     string
	State             domain.OrderState
	Quantity          int64
	Price             decimal.Decimal
	FilledQuantity    int64
	RemainingQuantity int64
	IsHistorical      bool
}

// OpenOrderItem is one entry in a broker's open-orders snapshot, delivered
// via Events.OnOpenOrder between connect and the terminal OnOpenOrderEnd.
type OpenOrderItem struct {
	BrokerOrderID string
}

// ExecutionUpdate reports one fill.
type ExecutionUpdate struct {
	BrokerExecutionID string
	BrokerOrderID     string
	Symbol            string
	IsBuy             bool
	Quantity          int64
	Price             decimal.Decimal
	LeaveQuantity     int64
	Commission        decimal.Decimal
	Currency          string
	ExecutionTime     time.Time
}

// AccountUpdate reports a broker-pushed cash/currency snapshot.
type AccountUpdate struct {
	AccountID string
	Cash      decimal.Decimal
	Currency  string
}

// PositionUpdate reports a broker-pushed net position snapshot, used to
// cross-check the ledger's own bookkeeping.
type PositionUpdate struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

// OrderError reports a broker-originated error tagged to a broker order id,
// where known; BrokerOrderID is empty for session-level errors.
type OrderError struct {
	Code          int
	Message       string
	BrokerOrderID string
}

// Events is the set of callbacks a Gateway drives into the broker adapter
// (spec section 6: "on_error, on_connection_update, on_order_update,
// on_execution, on_account_info_update, on_position_update,
// on_open_order_end"). A Gateway implementation invokes these from its own
// goroutine(s); callers must not assume serialized delivery across events.
type Events interface {
	OnError(err OrderError)
	OnConnectionUpdate(update ConnectionUpdate)
	OnOrderUpdate(update OrderUpdate)
	OnExecution(update ExecutionUpdate)
	OnAccountInfoUpdate(update AccountUpdate)
	OnPositionUpdate(update PositionUpdate)
	OnOpenOrder(item OpenOrderItem)
	OnOpenOrderEnd()
}

// Gateway is the broker-adapter interface consumed by internal/broker,
// grounded on gateway_lib.AbstractGateway as wrapped by
// oms/server/broker/__init__.py's Broker class.
type Gateway interface {
	Name() string
	Identity() string
	IsHealthy() bool

	Connect(ctx context.Context) error
	Disconnect() error
	Ping(ctx context.Context) error

	PlaceOrder(ctx context.Context, req PlaceOrderRequest) error
	ModifyOrder(ctx context.Context, req ModifyOrderRequest) error
	CancelOrder(ctx context.Context, brokerOrderID string) error

	RequestExecutions(ctx context.Context) error
	RequestOpenOrders(ctx context.Context) error

	// SetEvents registers the sink the gateway pushes callbacks to. Called
	// once during broker construction before Connect.
	SetEvents(events Events)
}
