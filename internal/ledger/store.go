package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
)

// Store is the ledger interface the OMS core and session packages consume
// (spec section 6: "CRUD over the tables enumerated in section 3 plus
// query_total_position and verify_account_portfolio_strategy").
type Store interface {
	Close() error

	IncrementNextRequestID(ctx context.Context, sessionID string) error
	InsertSession(ctx context.Context, sessionID, ip string) error
	QuerySession(ctx context.Context, sessionID string) (id string, nextRequestID int64, ip string, found bool, err error)

	QueryAccount(ctx context.Context, accountID string) (id string, cash decimal.Decimal, currency string, found bool, err error)
	VerifyAccountPortfolioStrategy(ctx context.Context, accountID, portfolioID, strategy string) (bool, error)
	InsertStrategy(ctx context.Context, strategy string) error
	QueryPortfolio(ctx context.Context, portfolioID, accountID string) ([]PortfolioRow, error)

	InsertOrder(ctx context.Context, o domain.Order) error
	UpdateOrder(ctx context.Context, u OrderUpdate) error
	QueryOrder(ctx context.Context, f OrderFilter) ([]domain.Order, error)

	InsertExecution(ctx context.Context, e domain.Execution) error
	QueryExecutions(ctx context.Context, brokerID string, brokerExecutionID string, lookback time.Duration) ([]domain.Execution, error)

	InsertPositionByEntry(ctx context.Context, p domain.PositionByEntry) error
	UpdatePositionByEntry(ctx context.Context, u PositionByEntryUpdate) error
	DeletePositionByEntry(ctx context.Context, sessionID string, orderID int64) error
	QueryPositionByEntry(ctx context.Context, portfolioID, strategy, market, symbol string) ([]PositionByEntryRow, error)

	UpdatePosition(ctx context.Context, portfolioID, strategy, market, symbol string, deltaPosition int64, avgPrice *decimal.Decimal) error
	QueryPosition(ctx context.Context, portfolioID, strategy, market, symbol string) ([]domain.Position, error)
	QueryTotalPosition(ctx context.Context, symbol string) (int64, error)

	InsertOperation(ctx context.Context, op Operation) error
	QueryOperation(ctx context.Context, portfolioID, strategy, orderReference string) ([]Operation, error)

	QueryInstruments(ctx context.Context) ([]InstrumentRow, error)
	UpsertInstrument(ctx context.Context, market, symbol, code string, expiry time.Time) error
}

// OrderFilter is the set of optional equality filters accepted by
// QueryOrder, mirroring Statement.build_stmt_order_select's parameters.
type OrderFilter struct {
	BrokerID           string
	SessionID          string
	OrderID            *int64
	BrokerOrderID      string
	Symbol             string
	Action             domain.Action
	Portfolio          string
	Strategy           string
	OrderType          domain.OrderType
	ActiveOrdersOnly   bool
	OrderByLastModified bool
	OrderByCreated     bool
}

// OrderUpdate carries the optional fields build_stmt_order_update supports;
// a nil pointer means "leave unchanged".
type OrderUpdate struct {
	BrokerID          string
	BrokerOrderID     string
	Quantity          *int64
	Price             *decimal.Decimal
	RemainingQuantity *int64
	FilledQuantity    *int64
	State             *domain.OrderState
	Action            *domain.Action
}

// PositionByEntryUpdate mirrors build_stmt_position_by_entry_update: the
// row is addressed either by (SessionID, OrderID) or by
// (PortfolioID, Strategy, OrderReference).
type PositionByEntryUpdate struct {
	SessionID      string
	OrderID        int64
	PortfolioID    string
	Strategy       string
	OrderReference string
	AvgPrice       *decimal.Decimal
	State          *domain.PositionByEntryState
	Quantity       *int64
}

// PositionByEntryRow is a position_by_entry row joined to its originating
// order, as returned by build_stmt_position_by_entry_select_by_position.
type PositionByEntryRow struct {
	domain.PositionByEntry
	Order domain.Order
}

// Operation is one operation table row (audit log of AMEND/REDUCE/INCREASE).
type Operation struct {
	PortfolioID    string
	Strategy       string
	Action         domain.Action
	Position       int64
	OrderReference string
	Price          *decimal.Decimal
	Identity       string
	Created        time.Time
}

// PortfolioRow is one portfolio table row.
type PortfolioRow struct {
	ID        string
	AccountID string
}

// InstrumentRow is one instrument table row.
type InstrumentRow struct {
	Market string
	Symbol string
	Code   string
	Expiry time.Time
}
