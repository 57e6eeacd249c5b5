// Package ledger is the durable store of sessions, orders, executions,
// positions, per-entry positions, operations, and instruments (spec
// section 3). Table and column names are preserved bit-exact from the
// original MySQL schema because they are persisted state shared with
// operator tooling (spec section 6).
package ledger

import "github.com/timour/oms/internal/domain"

// Table and column names, preserved bit-exact including the historical
// order_ trailing underscore (reserved-word avoidance) and the
// PARTICALLY_FILLED misspelling baked into ActiveStates.
const (
	TableAccount         = "account"
	TableBroker          = "broker"
	TableExecution       = "execution"
	TableInstrument      = "instrument"
	TableMarket          = "market"
	TableOrder           = "order_"
	TablePortfolio       = "portfolio"
	TablePosition        = "position"
	TablePositionByEntry = "position_by_entry"
	TableOperation       = "operation"
	TableSession         = "session"
	TableStrategy        = "strategy"
)

const (
	ColCreated      = "created"
	ColLastModified = "last_modified"
)

const (
	AccountID       = "id"
	AccountCash     = "cash"
	AccountCurrency = "currency"
)

const (
	ExecutionBrokerID          = "broker_id"
	ExecutionBrokerExecutionID = "broker_execution_id"
	ExecutionBrokerOrderID     = "broker_order_id"
	ExecutionGatewayOrderID    = "gateway_order_id"
	ExecutionIsBuy             = "is_buy"
	ExecutionSymbol            = "contract"
	ExecutionQuantity          = "quantity"
	ExecutionPrice             = "price"
	ExecutionLeaveQuantity     = "leave_quantity"
	ExecutionCommission        = "commission"
	ExecutionCurrency          = "currency"
	ExecutionDatetime          = "execution_datetime"
)

const (
	InstrumentMarket = "market"
	InstrumentSymbol = "symbol"
	InstrumentCode   = "code"
	InstrumentExpiry = "expiry"
)

const (
	OrderOrderID           = "order_id"
	OrderParentOrderID     = "parent_order_id"
	OrderBrokerID          = "broker_id"
	OrderBrokerOrderID     = "broker_order_id"
	OrderSessionID         = "session_id"
	OrderMarket            = "market"
	OrderSymbol            = "symbol"
	OrderType              = "type"
	OrderIsBuy             = "is_buy"
	OrderQuantity          = "quantity"
	OrderPrice             = "price"
	OrderState             = "state"
	OrderFilledQuantity    = "filled_quantity"
	OrderRemainingQuantity = "remaining_quantity"
	OrderQualifier         = "qualifier"
	OrderPortfolio         = "portfolio"
	OrderAction            = "action"
	OrderStrategy          = "strategy"
	OrderReference         = "reference"
	OrderComment           = "comment"
)

const (
	CommentAttachment         = "attachment"
	CommentConstraint         = "constraint"
	CommentCost               = "cost"
	CommentCustomizedQuantity = "customized_quantity"
	CommentGoodTill           = "good_till"
	CommentOrderReference     = "order_reference"
	CommentPatternName        = "pattern_name"
	CommentTimestamp          = "exchange_timestamp"
	CommentStopLossAbsolute   = "stop_loss_absolute"
	CommentStopLossOffset     = "stop_loss_offset"
	CommentRiskFactor         = "risk_factor"
)

// ActiveStates is the literal set of order_ states considered open,
// preserved bit-exact (including the PARTICALLY_FILLED spelling) because
// it is embedded as literal SQL values in build_stmt_order_select.
var ActiveStates = []domain.OrderState{
	domain.OrderStateNew,
	domain.OrderStatePending,
	domain.OrderStateActive,
	domain.OrderStatePartiallyFilled,
}

const (
	PortfolioID        = "id"
	PortfolioAccountID = "account_id"
)

const (
	PositionPortfolioID = "portfolio_id"
	PositionStrategy    = "strategy"
	PositionMarket      = "market"
	PositionSymbol      = "symbol"
	PositionQuantity    = "position"
	PositionAvgPrice    = "avg_price"
)

const (
	PositionByEntryPortfolioID = "portfolio_id"
	PositionByEntryStrategy    = "strategy"
	PositionByEntryMarket      = "market"
	PositionByEntrySymbol     = "symbol"
	PositionByEntryQuantity    = "position"
	PositionByEntryAvgPrice    = "avg_price"
	PositionByEntrySessionID   = "session_id"
	PositionByEntryOrderID     = "order_id"
	PositionByEntryState       = "state"
	PositionByEntryReference   = "order_reference"
	PositionByEntryCreated     = "created"

	StatePending     = "PENDING"
	StateFullyFilled = "FULLY_FILLED"
	StateExited      = "EXITED"
)

const (
	OperationPortfolioID = "portfolio_id"
	OperationStrategy    = "strategy"
	OperationAction      = "action"
	OperationPosition    = "position"
	OperationPrice       = "price"
	OperationReference   = "order_reference"
	OperationIdentity    = "identity"
	OperationCreated     = "created"
)

const (
	SessionID            = "id"
	SessionNextRequestID = "next_request_id"
	SessionIP            = "ip"
)

const (
	StrategyID          = "id"
	StrategyDescription = "description"
)
