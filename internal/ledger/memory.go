package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/domain"
)

// MemoryStore is an in-process Store used by tests and by the scenario
// fixtures in internal/oms. It enforces the same uniqueness and lookup
// semantics as MySQLStore without a database dependency.
type MemoryStore struct {
	mu sync.Mutex

	accounts   map[string]accountRow
	portfolios []PortfolioRow
	strategies map[string]bool
	sessions   map[string]*sessionRow
	orders     map[orderKey]*domain.Order
	executions map[execKey]domain.Execution
	positions  map[posKey]*domain.Position
	entries    []*domain.PositionByEntry
	operations []Operation
	instruments map[instKey]InstrumentRow

	seq          int64
	lastModified map[orderKey]int64
}

type accountRow struct {
	cash     decimal.Decimal
	currency string
}

type orderKey struct {
	brokerID, brokerOrderID string
}

type execKey struct {
	brokerID, execID string
}

type posKey struct {
	portfolioID, strategy, market, symbol string
}

type instKey struct {
	market, symbol string
}

type sessionRow struct {
	id            string
	nextRequestID int64
	ip            string
}

// NewMemoryStore returns an empty MemoryStore; tests add accounts and
// portfolios with SeedAccount.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    map[string]accountRow{},
		strategies:  map[string]bool{},
		sessions:    map[string]*sessionRow{},
		orders:      map[orderKey]*domain.Order{},
		executions:  map[execKey]domain.Execution{},
		positions:   map[posKey]*domain.Position{},
		instruments: map[instKey]InstrumentRow{},
		lastModified: map[orderKey]int64{},
	}
}

// SeedAccount registers an account/portfolio/strategy triple for tests,
// mirroring the rows a deployment's operator tooling would insert.
func (s *MemoryStore) SeedAccount(accountID string, cash decimal.Decimal, currency string, portfolioID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = accountRow{cash: cash, currency: currency}
	s.portfolios = append(s.portfolios, PortfolioRow{ID: portfolioID, AccountID: accountID})
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) IncrementNextRequestID(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("increment next_request_id: session %q not found", sessionID)
	}
	row.nextRequestID++
	return nil
}

func (s *MemoryStore) InsertSession(ctx context.Context, sessionID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &sessionRow{id: sessionID, nextRequestID: 1, ip: ip}
	return nil
}

func (s *MemoryStore) QuerySession(ctx context.Context, sessionID string) (string, int64, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[sessionID]
	if !ok {
		return "", 0, "", false, nil
	}
	return row.id, row.nextRequestID, row.ip, true, nil
}

func (s *MemoryStore) QueryAccount(ctx context.Context, accountID string) (string, decimal.Decimal, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[accountID]
	if !ok {
		return "", decimal.Zero, "", false, nil
	}
	return accountID, row.cash, row.currency, true, nil
}

func (s *MemoryStore) VerifyAccountPortfolioStrategy(ctx context.Context, accountID, portfolioID, strategy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return false, nil
	}
	if !s.strategies[strategy] {
		return false, nil
	}
	for _, p := range s.portfolios {
		if p.ID == portfolioID && p.AccountID == accountID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) InsertStrategy(ctx context.Context, strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[strategy] = true
	return nil
}

func (s *MemoryStore) QueryPortfolio(ctx context.Context, portfolioID, accountID string) ([]PortfolioRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PortfolioRow
	for _, p := range s.portfolios {
		if portfolioID != "" && p.ID != portfolioID {
			continue
		}
		if accountID != "" && p.AccountID != accountID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) InsertOrder(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	cp.State = domain.OrderStateNew
	key := orderKey{o.BrokerID, o.BrokerOrderID}
	s.orders[key] = &cp
	s.seq++
	s.lastModified[key] = s.seq
	return nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, u OrderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orderKey{u.BrokerID, u.BrokerOrderID}
	o, ok := s.orders[key]
	if !ok {
		return fmt.Errorf("update order: (%s, %s) not found", u.BrokerID, u.BrokerOrderID)
	}
	s.seq++
	s.lastModified[key] = s.seq
	if u.Quantity != nil {
		o.Quantity = *u.Quantity
	}
	if u.Price != nil {
		o.Price = *u.Price
	}
	if u.RemainingQuantity != nil {
		o.RemainingQuantity = *u.RemainingQuantity
	}
	if u.FilledQuantity != nil {
		o.FilledQuantity = *u.FilledQuantity
	}
	if u.State != nil {
		o.State = *u.State
	}
	if u.Action != nil {
		o.Action = *u.Action
	}
	return nil
}

func (s *MemoryStore) QueryOrder(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := map[domain.OrderState]bool{}
	if f.ActiveOrdersOnly {
		for _, st := range ActiveStates {
			active[st] = true
		}
	}
	var out []domain.Order
	for _, o := range s.orders {
		if f.BrokerID != "" && o.BrokerID != f.BrokerID {
			continue
		}
		if f.SessionID != "" && o.SessionID != f.SessionID {
			continue
		}
		if f.OrderID != nil && o.OrderID != *f.OrderID {
			continue
		}
		if f.BrokerOrderID != "" && o.BrokerOrderID != f.BrokerOrderID {
			continue
		}
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if f.Action != "" && o.Action != f.Action {
			continue
		}
		if f.Portfolio != "" && o.Portfolio != f.Portfolio {
			continue
		}
		if f.Strategy != "" && o.Strategy != f.Strategy {
			continue
		}
		if f.OrderType != "" && o.Type != f.OrderType {
			continue
		}
		if f.ActiveOrdersOnly && !active[o.State] {
			continue
		}
		out = append(out, *o)
	}
	if f.OrderByLastModified {
		sort.Slice(out, func(i, j int) bool {
			return s.lastModified[orderKey{out[i].BrokerID, out[i].BrokerOrderID}] >
				s.lastModified[orderKey{out[j].BrokerID, out[j].BrokerOrderID}]
		})
	} else if f.OrderByCreated {
		sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	}
	return out, nil
}

func (s *MemoryStore) InsertExecution(ctx context.Context, e domain.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execKey{e.BrokerID, e.BrokerExecutionID}] = e
	return nil
}

func (s *MemoryStore) QueryExecutions(ctx context.Context, brokerID string, brokerExecutionID string, lookback time.Duration) ([]domain.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Execution
	for k, e := range s.executions {
		if k.brokerID != brokerID {
			continue
		}
		if brokerExecutionID != "" && k.execID != brokerExecutionID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// HasExecution reports whether (brokerID, execID) has already been
// recorded. The OMS core's deduplication step queries QueryExecutions
// instead; this helper is not part of Store.
func (s *MemoryStore) HasExecution(brokerID, execID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.executions[execKey{brokerID, execID}]
	return ok
}

func (s *MemoryStore) InsertPositionByEntry(ctx context.Context, p domain.PositionByEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) UpdatePositionByEntry(ctx context.Context, u PositionByEntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		match := false
		if u.SessionID != "" {
			match = e.SessionID == u.SessionID && e.OrderID == u.OrderID
		} else {
			match = e.PortfolioID == u.PortfolioID && e.Strategy == u.Strategy && e.OrderReference == u.OrderReference
		}
		if !match {
			continue
		}
		if u.AvgPrice != nil {
			e.AvgPrice = *u.AvgPrice
		}
		if u.State != nil {
			e.State = *u.State
		}
		if u.Quantity != nil {
			e.Quantity = *u.Quantity
		}
	}
	return nil
}

func (s *MemoryStore) DeletePositionByEntry(ctx context.Context, sessionID string, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries[:0]
	for _, e := range s.entries {
		if e.SessionID == sessionID && e.OrderID == orderID {
			continue
		}
		out = append(out, e)
	}
	s.entries = out
	return nil
}

func (s *MemoryStore) QueryPositionByEntry(ctx context.Context, portfolioID, strategy, market, symbol string) ([]PositionByEntryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PositionByEntryRow
	for _, e := range s.entries {
		if e.PortfolioID != portfolioID || e.Strategy != strategy || e.Market != market || e.Symbol != symbol {
			continue
		}
		if e.State != domain.PositionByEntryPending && e.State != domain.PositionByEntryFullyFilled {
			continue
		}
		var order domain.Order
		if o, ok := s.orders[orderKeyBySession(s.orders, e.SessionID, e.OrderID)]; ok {
			order = *o
		}
		out = append(out, PositionByEntryRow{PositionByEntry: *e, Order: order})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created > out[j].Created })
	return out, nil
}

func orderKeyBySession(orders map[orderKey]*domain.Order, sessionID string, orderID int64) orderKey {
	for k, o := range orders {
		if o.SessionID == sessionID && o.OrderID == orderID {
			return k
		}
	}
	return orderKey{}
}

func (s *MemoryStore) UpdatePosition(ctx context.Context, portfolioID, strategy, market, symbol string, deltaPosition int64, avgPrice *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := posKey{portfolioID, strategy, market, symbol}
	p, ok := s.positions[key]
	if !ok {
		p = &domain.Position{PortfolioID: portfolioID, Strategy: strategy, Market: market, Symbol: symbol}
		s.positions[key] = p
	}
	p.Quantity += deltaPosition
	if avgPrice != nil {
		p.AvgPrice = *avgPrice
	}
	return nil
}

func (s *MemoryStore) QueryPosition(ctx context.Context, portfolioID, strategy, market, symbol string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for k, p := range s.positions {
		if portfolioID != "" && k.portfolioID != portfolioID {
			continue
		}
		if strategy != "" && k.strategy != strategy {
			continue
		}
		if market != "" && k.market != market {
			continue
		}
		if symbol != "" && k.symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (s *MemoryStore) QueryTotalPosition(ctx context.Context, symbol string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for k, p := range s.positions {
		if k.symbol == symbol {
			total += p.Quantity
		}
	}
	return total, nil
}

func (s *MemoryStore) InsertOperation(ctx context.Context, op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations = append(s.operations, op)
	return nil
}

func (s *MemoryStore) QueryOperation(ctx context.Context, portfolioID, strategy, orderReference string) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Operation
	for _, op := range s.operations {
		if op.PortfolioID == portfolioID && op.Strategy == strategy && op.OrderReference == orderReference {
			out = append(out, op)
		}
	}
	return out, nil
}

func (s *MemoryStore) QueryInstruments(ctx context.Context) ([]InstrumentRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []InstrumentRow
	for _, i := range s.instruments {
		out = append(out, i)
	}
	return out, nil
}

func (s *MemoryStore) UpsertInstrument(ctx context.Context, market, symbol, code string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[instKey{market, symbol}] = InstrumentRow{Market: market, Symbol: symbol, Code: code, Expiry: expiry}
	return nil
}

var _ Store = (*MemoryStore)(nil)
