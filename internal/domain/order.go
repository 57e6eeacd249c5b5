// Package domain holds the value types shared by the ledger, session, and
// OMS core packages: order/position enums, the decimal price type, and the
// instrument/roll-instruction shapes consumed from the instrument
// repository.
package domain

import "github.com/shopspring/decimal"

// OrderType is the order style recognised on the wire and in the ledger.
type OrderType string

const (
	OrderTypeMarket        OrderType = "MKT"
	OrderTypeLimit         OrderType = "LMT"
	OrderTypeStop          OrderType = "STP"
	OrderTypeStopLimit     OrderType = "STP_LMT"
)

// OrderState is the order lifecycle state persisted in the order_ table.
type OrderState string

const (
	OrderStateNew             OrderState = "NEW"
	OrderStatePending         OrderState = "PENDING"
	OrderStateActive          OrderState = "ACTIVE"
	OrderStatePartiallyFilled OrderState = "PARTICALLY_FILLED" // historical spelling, preserved bit-exact
	OrderStateFullyFilled     OrderState = "FULLY_FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateInactive        OrderState = "INACTIVE"
)

// ActiveStates is the set of states considered "open" for stop-coverage and
// order-selection queries. Order and spelling are preserved bit-exact
// because the ledger schema persists this list as literal SQL values.
var ActiveStates = []OrderState{OrderStateNew, OrderStatePending, OrderStateActive, OrderStatePartiallyFilled}

// Action classifies why an order exists.
type Action string

const (
	ActionEntry          Action = "ENTRY"
	ActionExit           Action = "EXIT"
	ActionStopLoss       Action = "STOP_LOSS"
	ActionManualStopLoss Action = "MANUAL_STOP_LOSS"
	ActionRoll           Action = "ROLL"
	ActionReduce         Action = "REDUCE"
	ActionIncrease       Action = "INCREASE"
	ActionAmend          Action = "AMEND"
)

// Constraint is a comment-carried position-direction guard.
type Constraint string

const (
	ConstraintLongOnly  Constraint = "long-only"
	ConstraintShortOnly Constraint = "short-only"
)

// RollStrategy is the strategy name the roll routine books flattening and
// re-establishing orders under. It is not a real trading strategy.
const RollStrategy = "OMS"

// Order is the in-memory projection of one order_ row.
type Order struct {
	SessionID        string
	SessionOrderID   int64
	OrderID          int64
	ParentOrderID    int64
	BrokerID         string
	BrokerOrderID    string
	Market           string
	Symbol           string
	Type             OrderType
	IsBuy            bool
	Quantity         int64
	Price            decimal.Decimal
	State            OrderState
	FilledQuantity   int64
	RemainingQuantity int64
	Portfolio        string
	Action           Action
	Strategy         string
	Reference        string
	Comment          map[string]any
}

// Direction returns +1 for a buy order and -1 for a sell order, matching
// the sign convention used throughout position arithmetic.
func (o Order) Direction() int64 {
	if o.IsBuy {
		return 1
	}
	return -1
}

// IsFullyFilled reports whether the order's recorded quantities satisfy the
// full-fill invariant from spec section 3.
func (o Order) IsFullyFilled() bool {
	return o.RemainingQuantity == 0 && o.FilledQuantity == o.Quantity
}

// Execution is an immutable fill record keyed by (BrokerID, BrokerExecutionID).
type Execution struct {
	BrokerID          string
	BrokerExecutionID string
	BrokerOrderID     string
	GatewayOrderID    string
	IsBuy             bool
	Symbol            string
	Quantity          int64
	Price             decimal.Decimal
	LeaveQuantity     int64
	Commission        decimal.Decimal
	Currency          string
	ExecutionTime     string
}

// Position is the net signed position for one (portfolio, strategy, market, symbol).
type Position struct {
	PortfolioID string
	Strategy    string
	Market      string
	Symbol      string
	Quantity    int64
	AvgPrice    decimal.Decimal
}

// PositionByEntryState is the lifecycle state of one entry ticket.
type PositionByEntryState string

const (
	PositionByEntryPending     PositionByEntryState = "PENDING"
	PositionByEntryFullyFilled PositionByEntryState = "FULLY_FILLED"
	PositionByEntryExited      PositionByEntryState = "EXITED"
)

// PositionByEntry is one atomic long/short entry ticket.
type PositionByEntry struct {
	PortfolioID    string
	Strategy       string
	Market         string
	Symbol         string
	Quantity       int64
	AvgPrice       decimal.Decimal
	SessionID      string
	OrderID        int64
	State          PositionByEntryState
	OrderReference string
	Created        string
}

// Direction returns +1 for a long entry, -1 for a short entry.
func (p PositionByEntry) Direction() int64 {
	if p.Quantity >= 0 {
		return 1
	}
	return -1
}
