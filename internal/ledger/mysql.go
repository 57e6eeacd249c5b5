package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
)

// MySQLStore implements Store over database/sql, following the same
// QueryRowContext/QueryContext/ExecContext idiom as
// stock/store_postgres.go's PostgresStore, with the table layout pinned to
// the bit-exact schema in schema.go.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and verifies it with a
// ping, mirroring NewPostgresStore.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) IncrementNextRequestID(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`update %s set %s = %s + 1 where %s = ?`, TableSession, SessionNextRequestID, SessionNextRequestID, SessionID)
	_, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("increment next_request_id: %w", err)
	}
	return nil
}

func (s *MySQLStore) InsertSession(ctx context.Context, sessionID, ip string) error {
	query := fmt.Sprintf(`insert into %s (%s, %s, %s) values (?, 1, ?)`, TableSession, SessionID, SessionNextRequestID, SessionIP)
	_, err := s.db.ExecContext(ctx, query, sessionID, ip)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *MySQLStore) QuerySession(ctx context.Context, sessionID string) (string, int64, string, bool, error) {
	query := fmt.Sprintf(`select %s, %s, %s from %s where %s = ?`, SessionID, SessionNextRequestID, SessionIP, TableSession, SessionID)
	var id, ip string
	var next int64
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&id, &next, &ip)
	if err == sql.ErrNoRows {
		return "", 0, "", false, nil
	}
	if err != nil {
		return "", 0, "", false, fmt.Errorf("query session: %w", err)
	}
	return id, next, ip, true, nil
}

func (s *MySQLStore) QueryAccount(ctx context.Context, accountID string) (string, decimal.Decimal, string, bool, error) {
	query := fmt.Sprintf(`select %s, %s, %s from %s where %s = ?`, AccountID, AccountCash, AccountCurrency, TableAccount, AccountID)
	var id, currency string
	var cash decimal.Decimal
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&id, &cash, &currency)
	if err == sql.ErrNoRows {
		return "", decimal.Zero, "", false, nil
	}
	if err != nil {
		return "", decimal.Zero, "", false, fmt.Errorf("query account: %w", err)
	}
	return id, cash, currency, true, nil
}

func (s *MySQLStore) VerifyAccountPortfolioStrategy(ctx context.Context, accountID, portfolioID, strategy string) (bool, error) {
	query := `select a.id from account as a inner join portfolio as p inner join strategy as s on a.id = p.account_id where a.id = ? and p.id = ? and s.id = ?`
	rows, err := s.db.QueryContext(ctx, query, accountID, portfolioID, strategy)
	if err != nil {
		return false, fmt.Errorf("verify account/portfolio/strategy: %w", err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *MySQLStore) InsertStrategy(ctx context.Context, strategy string) error {
	query := fmt.Sprintf(`insert ignore into %s (%s, %s) values (?, '')`, TableStrategy, StrategyID, StrategyDescription)
	_, err := s.db.ExecContext(ctx, query, strategy)
	if err != nil {
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryPortfolio(ctx context.Context, portfolioID, accountID string) ([]PortfolioRow, error) {
	query := fmt.Sprintf(`select %s, %s from %s`, PortfolioID, PortfolioAccountID, TablePortfolio)
	var conds []string
	var args []any
	if portfolioID != "" {
		conds = append(conds, PortfolioID+" = ?")
		args = append(args, portfolioID)
	}
	if accountID != "" {
		conds = append(conds, PortfolioAccountID+" = ?")
		args = append(args, accountID)
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	defer rows.Close()

	var out []PortfolioRow
	for rows.Next() {
		var p PortfolioRow
		if err := rows.Scan(&p.ID, &p.AccountID); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MySQLStore) InsertOrder(ctx context.Context, o domain.Order) error {
	var commentJSON sql.NullString
	if o.Comment != nil {
		b, err := json.Marshal(o.Comment)
		if err != nil {
			return fmt.Errorf("marshal order comment: %w", err)
		}
		commentJSON = sql.NullString{String: string(b), Valid: true}
	}

	cols := []string{OrderSessionID, OrderOrderID, OrderParentOrderID, OrderBrokerID, OrderBrokerOrderID,
		OrderMarket, OrderSymbol, OrderType, OrderIsBuy, OrderQuantity, OrderPrice, OrderState,
		OrderQualifier, OrderPortfolio, OrderAction, OrderStrategy, OrderReference, OrderComment}
	query := fmt.Sprintf(`insert into %s (%s) values (%s)`, TableOrder, strings.Join(cols, ","), placeholders(len(cols)))

	_, err := s.db.ExecContext(ctx, query,
		o.SessionID, o.OrderID, o.ParentOrderID, o.BrokerID, o.BrokerOrderID,
		o.Market, o.Symbol, o.Type, o.IsBuy, o.Quantity, o.Price, domain.OrderStateNew,
		"none", o.Portfolio, o.Action, o.Strategy, o.Reference, commentJSON)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdateOrder(ctx context.Context, u OrderUpdate) error {
	var sets []string
	var args []any
	if u.Quantity != nil {
		sets = append(sets, OrderQuantity+" = ?")
		args = append(args, *u.Quantity)
	}
	if u.Price != nil {
		sets = append(sets, OrderPrice+" = ?")
		args = append(args, *u.Price)
	}
	if u.RemainingQuantity != nil {
		sets = append(sets, OrderRemainingQuantity+" = ?")
		args = append(args, *u.RemainingQuantity)
	}
	if u.FilledQuantity != nil {
		sets = append(sets, OrderFilledQuantity+" = ?")
		args = append(args, *u.FilledQuantity)
	}
	if u.State != nil {
		sets = append(sets, OrderState+" = ?")
		args = append(args, *u.State)
	}
	if u.Action != nil {
		sets = append(sets, OrderAction+" = ?")
		args = append(args, *u.Action)
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf(`update %s set %s where %s = ? and %s = ?`, TableOrder, strings.Join(sets, ","), OrderBrokerID, OrderBrokerOrderID)
	args = append(args, u.BrokerID, u.BrokerOrderID)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryOrder(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	cols := []string{OrderSessionID, OrderOrderID, OrderParentOrderID, OrderBrokerID, OrderBrokerOrderID,
		OrderMarket, OrderSymbol, OrderType, OrderIsBuy, OrderQuantity, OrderPrice, OrderState, OrderQualifier,
		OrderPortfolio, OrderAction, OrderStrategy, OrderReference, OrderComment, OrderFilledQuantity, OrderRemainingQuantity}
	query := fmt.Sprintf(`select %s from %s`, strings.Join(cols, ","), TableOrder)

	var conds []string
	var args []any
	add := func(col string, v any) {
		conds = append(conds, col+" = ?")
		args = append(args, v)
	}
	if f.BrokerID != "" {
		add(OrderBrokerID, f.BrokerID)
	}
	if f.SessionID != "" {
		add(OrderSessionID, f.SessionID)
	}
	if f.OrderID != nil {
		add(OrderOrderID, *f.OrderID)
	}
	if f.BrokerOrderID != "" {
		add(OrderBrokerOrderID, f.BrokerOrderID)
	}
	if f.Symbol != "" {
		add(OrderSymbol, f.Symbol)
	}
	if f.Action != "" {
		add(OrderAction, f.Action)
	}
	if f.Portfolio != "" {
		add(OrderPortfolio, f.Portfolio)
	}
	if f.Strategy != "" {
		add(OrderStrategy, f.Strategy)
	}
	if f.OrderType != "" {
		add(OrderType, f.OrderType)
	}
	if f.ActiveOrdersOnly {
		placeholdersList := make([]string, len(ActiveStates))
		for i, st := range ActiveStates {
			placeholdersList[i] = "?"
			args = append(args, st)
		}
		conds = append(conds, fmt.Sprintf("%s in (%s)", OrderState, strings.Join(placeholdersList, ",")))
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	if f.OrderByLastModified {
		query += fmt.Sprintf(" order by %s desc", ColLastModified)
	} else if f.OrderByCreated {
		query += fmt.Sprintf(" order by %s", ColCreated)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var comment sql.NullString
		if err := rows.Scan(&o.SessionID, &o.OrderID, &o.ParentOrderID, &o.BrokerID, &o.BrokerOrderID,
			&o.Market, &o.Symbol, &o.Type, &o.IsBuy, &o.Quantity, &o.Price, &o.State, new(string),
			&o.Portfolio, &o.Action, &o.Strategy, &o.Reference, &comment, &o.FilledQuantity, &o.RemainingQuantity); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if comment.Valid {
			if err := json.Unmarshal([]byte(comment.String), &o.Comment); err != nil {
				return nil, fmt.Errorf("unmarshal order comment: %w", err)
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *MySQLStore) InsertExecution(ctx context.Context, e domain.Execution) error {
	cols := []string{ExecutionBrokerID, ExecutionBrokerOrderID, ExecutionBrokerExecutionID, ExecutionGatewayOrderID,
		ExecutionIsBuy, ExecutionSymbol, ExecutionQuantity, ExecutionPrice, ExecutionLeaveQuantity,
		ExecutionCommission, ExecutionCurrency, ExecutionDatetime}
	query := fmt.Sprintf(`insert into %s (%s) values (%s)`, TableExecution, strings.Join(cols, ","), placeholders(len(cols)))
	_, err := s.db.ExecContext(ctx, query, e.BrokerID, e.BrokerOrderID, e.BrokerExecutionID, e.GatewayOrderID,
		e.IsBuy, e.Symbol, e.Quantity, e.Price, e.LeaveQuantity, e.Commission, e.Currency, e.ExecutionTime)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryExecutions(ctx context.Context, brokerID string, brokerExecutionID string, lookback time.Duration) ([]domain.Execution, error) {
	cols := []string{ExecutionBrokerID, ExecutionBrokerOrderID, ExecutionBrokerExecutionID, ExecutionGatewayOrderID,
		ExecutionIsBuy, ExecutionQuantity, ExecutionPrice, ExecutionLeaveQuantity, ExecutionDatetime}
	query := fmt.Sprintf(`select %s from %s where %s = ?`, strings.Join(cols, ","), TableExecution, ExecutionBrokerID)
	args := []any{brokerID}
	if brokerExecutionID != "" {
		query += fmt.Sprintf(" and %s = ?", ExecutionBrokerExecutionID)
		args = append(args, brokerExecutionID)
	}
	if lookback > 0 {
		query += fmt.Sprintf(" and %s >= ?", ExecutionDatetime)
		args = append(args, time.Now().Add(-lookback))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		if err := rows.Scan(&e.BrokerID, &e.BrokerOrderID, &e.BrokerExecutionID, &e.GatewayOrderID,
			&e.IsBuy, &e.Quantity, &e.Price, &e.LeaveQuantity, &e.ExecutionTime); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MySQLStore) InsertPositionByEntry(ctx context.Context, p domain.PositionByEntry) error {
	cols := []string{PositionByEntryPortfolioID, PositionByEntryStrategy, PositionByEntryMarket, PositionByEntrySymbol,
		PositionByEntryQuantity, PositionByEntryAvgPrice, PositionByEntrySessionID, PositionByEntryOrderID,
		PositionByEntryState, PositionByEntryReference}
	query := fmt.Sprintf(`insert into %s (%s) values (%s)`, TablePositionByEntry, strings.Join(cols, ","), placeholders(len(cols)))
	_, err := s.db.ExecContext(ctx, query, p.PortfolioID, p.Strategy, p.Market, p.Symbol, p.Quantity, p.AvgPrice,
		p.SessionID, p.OrderID, p.State, p.OrderReference)
	if err != nil {
		return fmt.Errorf("insert position_by_entry: %w", err)
	}
	return nil
}

func (s *MySQLStore) UpdatePositionByEntry(ctx context.Context, u PositionByEntryUpdate) error {
	var sets []string
	var args []any
	if u.AvgPrice != nil {
		sets = append(sets, PositionByEntryAvgPrice+" = ?")
		args = append(args, *u.AvgPrice)
	}
	if u.State != nil {
		sets = append(sets, PositionByEntryState+" = ?")
		args = append(args, *u.State)
	}
	if u.Quantity != nil {
		sets = append(sets, PositionByEntryQuantity+" = ?")
		args = append(args, *u.Quantity)
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf(`update %s set %s where `, TablePositionByEntry, strings.Join(sets, ","))
	if u.SessionID != "" {
		query += fmt.Sprintf("%s = ? and %s = ?", PositionByEntrySessionID, PositionByEntryOrderID)
		args = append(args, u.SessionID, u.OrderID)
	} else {
		query += fmt.Sprintf("%s = ? and %s = ? and %s = ?", PositionByEntryPortfolioID, PositionByEntryStrategy, PositionByEntryReference)
		args = append(args, u.PortfolioID, u.Strategy, u.OrderReference)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update position_by_entry: %w", err)
	}
	return nil
}

func (s *MySQLStore) DeletePositionByEntry(ctx context.Context, sessionID string, orderID int64) error {
	query := fmt.Sprintf(`delete from %s where %s = ? and %s = ?`, TablePositionByEntry, PositionByEntrySessionID, PositionByEntryOrderID)
	_, err := s.db.ExecContext(ctx, query, sessionID, orderID)
	if err != nil {
		return fmt.Errorf("delete position_by_entry: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryPositionByEntry(ctx context.Context, portfolioID, strategy, market, symbol string) ([]PositionByEntryRow, error) {
	query := fmt.Sprintf(`select p.%s,p.%s,p.%s,p.%s,p.%s,o.%s,o.%s,o.%s,o.%s,o.%s,o.%s,o.%s,o.%s from %s as p inner join %s as o on p.%s=o.%s and p.%s=o.%s where p.%s=? and p.%s=? and p.%s=? and p.%s=? and p.%s in (?,?) order by p.%s desc`,
		PositionByEntryQuantity, PositionByEntryAvgPrice, PositionByEntryReference, PositionByEntryState, PositionByEntryCreated,
		OrderOrderID, OrderType, OrderIsBuy, OrderQuantity, OrderPrice, OrderAction, OrderReference, OrderComment,
		TablePositionByEntry, TableOrder, PositionByEntrySessionID, OrderSessionID, PositionByEntryOrderID, OrderOrderID,
		PositionByEntryPortfolioID, PositionByEntryStrategy, PositionByEntryMarket, PositionByEntrySymbol, PositionByEntryState,
		PositionByEntryCreated)

	rows, err := s.db.QueryContext(ctx, query, portfolioID, strategy, market, symbol, StatePending, StateFullyFilled)
	if err != nil {
		return nil, fmt.Errorf("query position_by_entry: %w", err)
	}
	defer rows.Close()

	var out []PositionByEntryRow
	for rows.Next() {
		var r PositionByEntryRow
		var comment sql.NullString
		if err := rows.Scan(&r.Quantity, &r.AvgPrice, &r.OrderReference, &r.State, &r.Created,
			&r.Order.OrderID, &r.Order.Type, &r.Order.IsBuy, &r.Order.Quantity, &r.Order.Price,
			&r.Order.Action, &r.Order.Reference, &comment); err != nil {
			return nil, fmt.Errorf("scan position_by_entry: %w", err)
		}
		if comment.Valid {
			_ = json.Unmarshal([]byte(comment.String), &r.Order.Comment)
		}
		r.PortfolioID, r.Strategy, r.Market, r.Symbol = portfolioID, strategy, market, symbol
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQLStore) UpdatePosition(ctx context.Context, portfolioID, strategy, market, symbol string, deltaPosition int64, avgPrice *decimal.Decimal) error {
	if avgPrice != nil {
		cols := []string{PositionPortfolioID, PositionStrategy, PositionMarket, PositionSymbol, PositionQuantity, PositionAvgPrice}
		query := fmt.Sprintf(`insert into %s (%s) values (%s) on duplicate key update %s = %s + ?, %s = ?`,
			TablePosition, strings.Join(cols, ","), placeholders(len(cols)), PositionQuantity, PositionQuantity, PositionAvgPrice)
		_, err := s.db.ExecContext(ctx, query, portfolioID, strategy, market, symbol, deltaPosition, *avgPrice, deltaPosition, *avgPrice)
		if err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		return nil
	}
	cols := []string{PositionPortfolioID, PositionStrategy, PositionMarket, PositionSymbol, PositionQuantity}
	query := fmt.Sprintf(`insert into %s (%s) values (%s,0) on duplicate key update %s = %s + ?`,
		TablePosition, strings.Join(cols, ","), placeholders(len(cols)-1), PositionQuantity, PositionQuantity)
	_, err := s.db.ExecContext(ctx, query, portfolioID, strategy, market, symbol, deltaPosition)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryPosition(ctx context.Context, portfolioID, strategy, market, symbol string) ([]domain.Position, error) {
	cols := []string{PositionPortfolioID, PositionStrategy, PositionMarket, PositionSymbol, PositionQuantity, PositionAvgPrice}
	query := fmt.Sprintf(`select %s from %s`, strings.Join(cols, ","), TablePosition)
	var conds []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add(PositionPortfolioID, portfolioID)
	add(PositionStrategy, strategy)
	add(PositionMarket, market)
	add(PositionSymbol, symbol)
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.PortfolioID, &p.Strategy, &p.Market, &p.Symbol, &p.Quantity, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *MySQLStore) QueryTotalPosition(ctx context.Context, symbol string) (int64, error) {
	query := fmt.Sprintf(`select sum(%s) from %s where %s = ?`, PositionQuantity, TablePosition, PositionSymbol)
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query total position: %w", err)
	}
	return total.Int64, nil
}

func (s *MySQLStore) InsertOperation(ctx context.Context, op Operation) error {
	cols := []string{OperationPortfolioID, OperationStrategy, OperationAction, OperationPosition, OperationReference, OperationPrice, OperationIdentity}
	query := fmt.Sprintf(`insert into %s (%s) values (%s)`, TableOperation, strings.Join(cols, ","), placeholders(len(cols)))
	_, err := s.db.ExecContext(ctx, query, op.PortfolioID, op.Strategy, op.Action, op.Position, op.OrderReference, op.Price, op.Identity)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (s *MySQLStore) QueryOperation(ctx context.Context, portfolioID, strategy, orderReference string) ([]Operation, error) {
	cols := []string{OperationCreated, OperationAction, OperationPosition, OperationPrice, OperationIdentity}
	query := fmt.Sprintf(`select %s from %s`, strings.Join(cols, ","), TableOperation)
	var conds []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add(OperationPortfolioID, portfolioID)
	add(OperationStrategy, strategy)
	add(OperationReference, orderReference)
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operation: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		var price sql.NullFloat64
		if err := rows.Scan(&op.Created, &op.Action, &op.Position, &price, &op.Identity); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if price.Valid {
			d := decimal.NewFromFloat(price.Float64)
			op.Price = &d
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *MySQLStore) QueryInstruments(ctx context.Context) ([]InstrumentRow, error) {
	query := fmt.Sprintf(`select %s, %s, %s, %s from %s`, InstrumentMarket, InstrumentSymbol, InstrumentCode, InstrumentExpiry, TableInstrument)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query instruments: %w", err)
	}
	defer rows.Close()

	var out []InstrumentRow
	for rows.Next() {
		var r InstrumentRow
		if err := rows.Scan(&r.Market, &r.Symbol, &r.Code, &r.Expiry); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *MySQLStore) UpsertInstrument(ctx context.Context, market, symbol, code string, expiry time.Time) error {
	cols := []string{InstrumentMarket, InstrumentSymbol, InstrumentCode, InstrumentExpiry}
	query := fmt.Sprintf(`insert into %s (%s) values (%s) on duplicate key update %s = ?, %s = ?`,
		TableInstrument, strings.Join(cols, ","), placeholders(len(cols)), InstrumentCode, InstrumentExpiry)
	_, err := s.db.ExecContext(ctx, query, market, symbol, code, expiry, code, expiry)
	if err != nil {
		return fmt.Errorf("upsert instrument: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ",")
}
