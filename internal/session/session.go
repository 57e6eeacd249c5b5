// Package session implements one client's logged-in OMS connection: login
// handshake, request-id discipline, owned-order bookkeeping, and reply
// construction. Grounded on oms/server/session.py's ClientSession.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/ledger"
)

// State is the session lifecycle state.
type State string

const (
	StateNew        State = "NEW"
	StateLoggedIn   State = "LOGGED_IN"
	StateDisconnected State = "DISCONNECTED"
)

// HeartbeatInterval is the server->client heartbeat cadence (spec section 4).
const HeartbeatInterval = 15 * time.Second

// HeartbeatLiveness is the number of missed intervals tolerated before a
// session is considered expired.
const HeartbeatLiveness = 5

// Core is the subset of the OMS core a Session needs: placing orders with a
// connected broker and reading the ledger/readiness it shares with every
// other session.
type Core interface {
	IsReady() bool
	PlaceOrder(ctx context.Context, market, symbol string, orderType domain.OrderType, isBuy bool, quantity int64, price decimal.Decimal, goodTill string, action domain.Action) (brokerID string, brokerOrderID string, ok bool)
	Ledger() ledger.Store
	CancelOnBestBroker(ctx context.Context, brokerOrderID string)
	PlaceStop(ctx context.Context, sessionID string, market, symbol string, isBuy bool, quantity int64, price decimal.Decimal, portfolio, strategy string, parentOrderID int64, comment map[string]any, notify *Session)
	// Send pushes msg onto the outbound queue addressed to sourceID,
	// mirroring oms.py's publish_msg — the OMS core owns the socket a
	// session's replies go out on.
	Send(sourceID string, msg *codec.Message)
}

// Session is one logged-in client connection, identified on the wire by its
// ZeroMQ routing identity (SourceID) and by the client-chosen SessionID.
type Session struct {
	mu sync.Mutex

	logger    *slog.Logger
	core      Core
	sessionID string
	sourceID  string

	state               State
	accountID           string
	nextRequestID       int64
	orders              map[int64]string // session order id -> broker order id
	unsolicitedOrders   map[string]bool  // broker order ids placed by the OMS itself (stops, rolls)
	lastHeartbeatFromClient time.Time
	nextHeartbeat       time.Time
	lastStopCheck       time.Time
}

// New constructs a Session and recovers any outstanding orders already
// booked under sessionID, mirroring ClientSession.__init__'s ledger replay.
func New(ctx context.Context, sessionID, sourceID string, core Core, logger *slog.Logger) (*Session, error) {
	s := &Session{
		logger:            logger.With("session", sessionID),
		core:              core,
		sessionID:         sessionID,
		sourceID:          sourceID,
		state:             StateNew,
		orders:            map[int64]string{},
		unsolicitedOrders: map[string]bool{},
		nextHeartbeat:     time.Now(),
		lastStopCheck:     time.Now(),
	}

	orders, err := core.Ledger().QueryOrder(ctx, ledger.OrderFilter{SessionID: sessionID, ActiveOrdersOnly: true})
	if err != nil {
		return nil, fmt.Errorf("recover session %s: %w", sessionID, err)
	}
	if len(orders) > 0 {
		s.logger.Info("found outstanding order(s), reattaching to session", "count", len(orders))
		for _, o := range orders {
			if o.OrderID == 0 {
				s.unsolicitedOrders[o.BrokerOrderID] = true
			} else {
				s.orders[o.OrderID] = o.BrokerOrderID
			}
		}
	}
	return s, nil
}

// ID returns the client-chosen session identifier.
func (s *Session) ID() string { return s.sessionID }

// SourceID returns the ZeroMQ routing identity this session replies to.
func (s *Session) SourceID() string { return s.sourceID }

// IsLoggedIn reports whether the session completed its INIT handshake.
func (s *Session) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateLoggedIn
}

// IsExpired reports whether the client heartbeat has lapsed beyond
// HeartbeatInterval * HeartbeatLiveness.
func (s *Session) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastHeartbeatFromClient.IsZero() {
		return false
	}
	return time.Since(s.lastHeartbeatFromClient) > HeartbeatInterval*HeartbeatLiveness
}

// IsHeartbeatDue reports whether it's time to push a server heartbeat.
func (s *Session) IsHeartbeatDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().After(s.nextHeartbeat)
}

// RequireStopCheck reports whether 5 minutes have elapsed since the last
// stop-coverage validation (spec section 4.7).
func (s *Session) RequireStopCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastStopCheck) > 5*time.Minute
}

// IsOwnOrder reports whether brokerOrderID belongs to this session, either
// as a client-requested order or one the OMS placed unsolicited on the
// session's behalf (a stop-loss or partial-fill replacement).
func (s *Session) IsOwnOrder(brokerOrderID string) bool {
	_, ok := s.findSessionOrderID(brokerOrderID)
	return ok
}

// FindSessionOrderID reverse-looks-up the client-assigned order id for a
// broker order id, returning ok=false if this session doesn't own it.
func (s *Session) FindSessionOrderID(brokerOrderID string) (int64, bool) {
	return s.findSessionOrderID(brokerOrderID)
}

func (s *Session) findSessionOrderID(brokerOrderID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, bid := range s.orders {
		if bid == brokerOrderID {
			return sid, true
		}
	}
	if s.unsolicitedOrders[brokerOrderID] {
		return 0, true
	}
	return 0, false
}

// NotifyUnsolicitedOrder records a broker order id the OMS placed on this
// session's behalf without a client request (spec section 4.5/4.6).
func (s *Session) NotifyUnsolicitedOrder(brokerOrderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsolicitedOrders[brokerOrderID] = true
}

// Process dispatches one decoded message and returns the reply to send
// back, or nil if no reply is owed (spec section 4.4).
func (s *Session) Process(ctx context.Context, msg *codec.Message) (*codec.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestCarryingID(msg) {
		if err := s.core.Ledger().IncrementNextRequestID(ctx, s.sessionID); err != nil {
			s.logger.Error("increment next_request_id failed", "error", err)
		}
	}

	switch msg.Type {
	case codec.MsgInit:
		return s.processInit(ctx, msg.Init)
	case codec.MsgHeartbeat:
		s.lastHeartbeatFromClient = time.Now()
		return nil, nil
	default:
		if s.state != StateLoggedIn {
			return s.errorReply(codec.ErrNotLoggedIn, "session is not logged in yet", nil), nil
		}
		if reply := s.checkNextRequestID(requestID(msg)); reply != nil {
			return reply, nil
		}
		switch msg.Type {
		case codec.MsgNewOrder:
			s.processNewOrder(ctx, msg.NewOrder)
			return nil, nil
		case codec.MsgPosition:
			return s.buildPositionMessage(ctx, &msg.Position.RequestID, false)
		default:
			return s.errorReply(codec.ErrSystemError, fmt.Sprintf("unknown message type %q", msg.Type), nil), nil
		}
	}
}

func requestCarryingID(msg *codec.Message) bool {
	switch msg.Type {
	case codec.MsgNewOrder, codec.MsgPosition:
		return true
	default:
		return false
	}
}

func requestID(msg *codec.Message) int64 {
	switch msg.Type {
	case codec.MsgNewOrder:
		return msg.NewOrder.RequestID
	case codec.MsgPosition:
		return msg.Position.RequestID
	default:
		return 0
	}
}

func (s *Session) checkNextRequestID(requestID int64) *codec.Message {
	if requestID < s.nextRequestID {
		return s.errorReply(codec.ErrBadRequestID,
			fmt.Sprintf("request id received %d < %d", requestID, s.nextRequestID), &requestID)
	}
	return nil
}

func (s *Session) processInit(ctx context.Context, init *codec.Init) (*codec.Message, error) {
	if s.state != StateNew {
		return &codec.Message{Type: codec.MsgError, Error: &codec.ErrorMsg{
			ErrorCode: codec.ErrAlreadyLoggedIn,
			Message:   fmt.Sprintf("session %s is logged in already", s.sessionID),
		}}, nil
	}

	store := s.core.Ledger()
	accountID, _, _, found, err := store.QueryAccount(ctx, init.AccountID)
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	if !found {
		s.lastHeartbeatFromClient = time.Unix(0, 0)
		return s.errorReply(codec.ErrInitError, fmt.Sprintf("account %s not found in OMS", init.AccountID), nil), nil
	}
	s.accountID = accountID

	for strategy, portfolio := range init.Strategies {
		ok, err := store.VerifyAccountPortfolioStrategy(ctx, s.accountID, portfolio, strategy)
		if err != nil {
			return nil, fmt.Errorf("verify account/portfolio/strategy: %w", err)
		}
		if !ok {
			s.logger.Warn("strategy not found in OMS database, adding it", "strategy", strategy)
			if err := store.InsertStrategy(ctx, strategy); err != nil {
				return nil, fmt.Errorf("insert strategy: %w", err)
			}
			ok, err = store.VerifyAccountPortfolioStrategy(ctx, s.accountID, portfolio, strategy)
			if err != nil {
				return nil, fmt.Errorf("verify account/portfolio/strategy: %w", err)
			}
		}
		if !ok {
			msg := fmt.Sprintf("either account: %s/portfolio: %s/strategy: %s doesn't exist in OMS database",
				init.AccountID, portfolio, strategy)
			s.lastHeartbeatFromClient = time.Unix(0, 0)
			return s.errorReply(codec.ErrInitError, msg, nil), nil
		}
	}

	_, nextRequestID, _, found, err := store.QuerySession(ctx, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	s.lastHeartbeatFromClient = time.Now()

	if found && nextRequestID > 0 {
		s.logger.Info("found existing session, returning next request id", "next_request_id", nextRequestID)
		s.nextRequestID = nextRequestID
	} else {
		s.logger.Info("new session, inserting record")
		if err := store.InsertSession(ctx, s.sessionID, ""); err != nil {
			return nil, fmt.Errorf("insert session: %w", err)
		}
		s.nextRequestID = 1
	}

	s.state = StateLoggedIn
	return &codec.Message{Type: codec.MsgNextRequestID, NextRequestID: &codec.NextRequestID{NextRequestID: s.nextRequestID}}, nil
}

func (s *Session) processNewOrder(ctx context.Context, req *codec.NewOrder) {
	s.placeOrder(ctx, req.RequestID, req.Market, req.Symbol, req.IsBuy, domain.OrderType(req.OrderType),
		req.Quantity, decimal.NewFromFloat(req.Price), req.Portfolio, domain.Action(req.Action), req.Strategy,
		req.Reference, req.Comment, req.RequestID)
}

// placeOrder is PlaceOrder's Go counterpart, covering constraint checks,
// stop-order pulling ahead of an EXIT, and position_by_entry bookkeeping
// for an ENTRY (session.py's place_order).
func (s *Session) placeOrder(ctx context.Context, sessionOrderID int64, market, symbol string, isBuy bool,
	orderType domain.OrderType, quantity int64, price decimal.Decimal, portfolio string, action domain.Action,
	strategy, reference string, comment map[string]any, sessionParentOrderID int64) {

	if !s.core.IsReady() {
		s.publishOrderRejectedLocked(ctx, sessionOrderID, "gateway is down")
		return
	}

	store := s.core.Ledger()
	ok, err := store.VerifyAccountPortfolioStrategy(ctx, s.accountID, portfolio, strategy)
	if err != nil {
		s.logger.Error("verify account/portfolio/strategy failed", "error", err)
		return
	}
	if !ok {
		s.publishOrderRejectedLocked(ctx, sessionOrderID,
			fmt.Sprintf("either account: %s/portfolio: %s/strategy: %s doesn't exist in OMS database", s.accountID, portfolio, strategy))
		return
	}

	if constraint, ok := comment["constraint"].(string); ok && constraint != "" {
		positions, err := store.QueryPosition(ctx, portfolio, strategy, market, symbol)
		if err == nil && len(positions) > 0 {
			current := positions[0].Quantity
			direction := int64(-1)
			if isBuy {
				direction = 1
			}
			projected := current + quantity*direction
			if (domain.Constraint(constraint) == domain.ConstraintLongOnly && projected < 0) ||
				(domain.Constraint(constraint) == domain.ConstraintShortOnly && projected > 0) {
				s.publishOrderRejectedLocked(ctx, sessionOrderID,
					fmt.Sprintf("violated %q constraint with projected position %d", constraint, projected))
				return
			}
		}
	}

	if action == domain.ActionExit {
		s.pullStopOrders(ctx, portfolio, strategy, market, symbol, comment)
	}

	goodTill, _ := comment["good_till"].(string)
	brokerID, brokerOrderID, ok := s.core.PlaceOrder(ctx, market, symbol, orderType, isBuy, quantity, price, goodTill, action)
	if !ok {
		s.logger.Warn("order was not sent", "session_order_id", sessionOrderID)
		return
	}

	s.orders[sessionOrderID] = brokerOrderID
	o := domain.Order{
		SessionID: s.sessionID, SessionOrderID: sessionOrderID, ParentOrderID: sessionParentOrderID,
		BrokerID: brokerID, BrokerOrderID: brokerOrderID, Market: market, Symbol: symbol, Type: orderType,
		IsBuy: isBuy, Quantity: quantity, Price: price, Portfolio: portfolio, Action: action, Strategy: strategy,
		Reference: reference, Comment: comment,
	}
	o.OrderID = sessionOrderID
	if err := store.InsertOrder(ctx, o); err != nil {
		s.logger.Error("insert order failed", "error", err)
		return
	}

	if action == domain.ActionEntry {
		if orderRef, _ := comment["order_reference"].(string); orderRef != "" {
			s.logger.Info("adding position_by_entry row for ENTRY order", "order_reference", orderRef)
			err := store.InsertPositionByEntry(ctx, domain.PositionByEntry{
				PortfolioID: portfolio, Strategy: strategy, Market: market, Symbol: symbol, Quantity: quantity,
				SessionID: s.sessionID, OrderID: sessionOrderID, State: domain.PositionByEntryPending,
				OrderReference: orderRef,
			})
			if err != nil {
				s.logger.Error("insert position_by_entry failed", "error", err)
			}
		}
	}
}

// PlaceStop submits a protective stop order on behalf of a fill, mirroring
// place_stop (order id 0: unsolicited).
func (s *Session) PlaceStop(ctx context.Context, market, symbol string, isBuy bool, quantity int64, price decimal.Decimal,
	portfolio, strategy string, parentOrderID int64, comment map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeOrder(ctx, 0, market, symbol, isBuy, domain.OrderTypeStop, quantity, price, portfolio,
		domain.ActionStopLoss, strategy, "", comment, parentOrderID)
}

// pullStopOrders cancels the stop order(s) covering an ENTRY before an EXIT
// order is sent, per _pull_stop_orders.
func (s *Session) pullStopOrders(ctx context.Context, portfolio, strategy, market, symbol string, comment map[string]any) {
	s.logger.Info("removing stop-loss order(s) before sending exit order")

	var refs []string
	if ref, _ := comment["order_reference"].(string); ref != "" {
		refs = append(refs, ref)
	} else {
		entries, err := s.core.Ledger().QueryPositionByEntry(ctx, portfolio, strategy, market, symbol)
		if err == nil {
			for _, e := range entries {
				refs = append(refs, e.OrderReference)
			}
		}
	}

	orders, err := s.core.Ledger().QueryOrder(ctx, ledger.OrderFilter{
		Portfolio: portfolio, Strategy: strategy, OrderType: domain.OrderTypeStop,
		ActiveOrdersOnly: true, OrderByCreated: true,
	})
	if err != nil {
		s.logger.Error("query stop orders failed", "error", err)
		return
	}

	if len(refs) == 0 {
		if len(orders) == 0 {
			s.logger.Error("failed to remove stop-loss order, none on record", "portfolio", portfolio, "symbol", symbol)
			return
		}
		last := orders[len(orders)-1]
		s.logger.Info("removing stop-loss order", "broker_order_id", last.BrokerOrderID)
		s.core.CancelOnBestBroker(ctx, last.BrokerOrderID)
		return
	}

	removed := map[string]bool{}
	for _, o := range orders {
		stpRef, _ := o.Comment["order_reference"].(string)
		for _, ref := range refs {
			if ref == stpRef {
				s.logger.Info("removing stop-loss order", "broker_order_id", o.BrokerOrderID, "order_reference", ref)
				s.core.CancelOnBestBroker(ctx, o.BrokerOrderID)
				removed[ref] = true
			}
		}
	}
	for _, ref := range refs {
		if !removed[ref] {
			s.logger.Info("found no stop-loss order with order reference when handling exit", "order_reference", ref)
		}
	}
}

// PublishExecution sends a fill to the client.
func (s *Session) PublishExecution(sourceSend func(codec.Execution), item codec.ExecutionItem) {
	sourceSend(codec.Execution{Items: []codec.ExecutionItem{item}})
}

// publishOrderRejectedLocked delivers ORDER_REJECTED for a business-rule
// rejection raised inside placeOrder (called with s.mu already held),
// mirroring publish_order_rejected's call into _send_msg / oms.publish_msg.
func (s *Session) publishOrderRejectedLocked(ctx context.Context, sessionOrderID int64, msg string) {
	s.core.Send(s.sourceID, s.PublishOrderRejected(sessionOrderID, msg))
}

// PublishOrderError is invoked by the OMS core for a broker error that
// couldn't be resolved to an entry-order rollback.
func (s *Session) PublishOrderError(brokerOrderID string, msg string) (*codec.Message, bool) {
	sid, ok := s.findSessionOrderID(brokerOrderID)
	if !ok {
		return nil, false
	}
	rid := sid
	return s.errorReply(codec.ErrOrderError, msg, &rid), true
}

// PublishOrderRejected is invoked on the order's owning session when a
// broker rejects an order outright.
func (s *Session) PublishOrderRejected(sessionOrderID int64, msg string) *codec.Message {
	rid := sessionOrderID
	return s.errorReply(codec.ErrOrderRejected, msg, &rid)
}

func (s *Session) errorReply(code int, msg string, requestID *int64) *codec.Message {
	s.logger.Error("returning error to client", "request_id", requestID, "code", code, "message", msg)
	e := &codec.ErrorMsg{ErrorCode: code, Message: msg, SessionID: s.sessionID}
	if requestID != nil {
		e.RequestID = requestID
	}
	return &codec.Message{Type: codec.MsgError, Error: e}
}

// SendHeartbeat builds the next server heartbeat and reschedules the
// session's heartbeat deadline.
func (s *Session) SendHeartbeat(isReady bool) *codec.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.nextHeartbeat = now.Add(HeartbeatInterval)
	ready := isReady
	return &codec.Message{Type: codec.MsgHeartbeat, Heartbeat: &codec.Heartbeat{
		Timestamp: now.Format(time.RFC3339),
		Next:      s.nextHeartbeat.Format(time.RFC3339),
		IsReady:   &ready,
	}}
}

// BuildPositionMessage constructs the full account/portfolio/position
// snapshot reply, exported for the OMS core to push unsolicited position
// updates after a fill (publish_position / publish_position_renew).
func (s *Session) BuildPositionMessage(ctx context.Context, requestID *int64, forceRenew bool) (*codec.Message, error) {
	return s.buildPositionMessage(ctx, requestID, forceRenew)
}

func (s *Session) buildPositionMessage(ctx context.Context, requestID *int64, forceRenew bool) (*codec.Message, error) {
	store := s.core.Ledger()
	_, cash, currency, _, err := store.QueryAccount(ctx, s.accountID)
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	account := &codec.AccountSnapshot{ID: s.accountID, Cash: cash.InexactFloat64(), Currency: currency}

	portfolios, err := store.QueryPortfolio(ctx, "", s.accountID)
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	for _, p := range portfolios {
		mp := codec.PortfolioSnapshot{ID: p.ID}
		positions, err := store.QueryPosition(ctx, p.ID, "", "", "")
		if err != nil {
			return nil, fmt.Errorf("query position: %w", err)
		}
		for _, pos := range positions {
			if pos.Strategy != s.sessionID {
				continue
			}
			mpos := codec.PositionSnapshot{
				Strategy: pos.Strategy, Market: pos.Market, Symbol: pos.Symbol,
				Position: pos.Quantity, AvgPrice: pos.AvgPrice.InexactFloat64(), ForceRenew: forceRenew,
			}
			entries, err := store.QueryPositionByEntry(ctx, p.ID, pos.Strategy, pos.Market, pos.Symbol)
			if err != nil {
				return nil, fmt.Errorf("query position_by_entry: %w", err)
			}
			for _, e := range entries {
				item := codec.PositionByEntrySnapshot{
					Position: e.Quantity, AvgPrice: e.AvgPrice.InexactFloat64(), State: string(e.State), Created: e.Created,
				}
				o := e.Order
				item.Order = &codec.OrderSnapshot{
					OrderID: o.OrderID, Market: pos.Market, Symbol: pos.Symbol, OrderType: string(o.Type),
					IsBuy: o.IsBuy, Quantity: o.Quantity, Price: o.Price.InexactFloat64(), Portfolio: p.ID,
					Action: string(o.Action), Strategy: pos.Strategy, Reference: o.Reference, Comment: o.Comment,
				}
				mpos.PositionsByEntry = append(mpos.PositionsByEntry, item)
			}
			mp.Positions = append(mp.Positions, mpos)
		}
		account.Portfolios = append(account.Portfolios, mp)
	}

	reply := &codec.Position{Account: account}
	if requestID != nil {
		reply.RequestID = *requestID
	}
	return &codec.Message{Type: codec.MsgPosition, Position: reply}, nil
}

// ValidateStopOrders is the 5-minute stop-coverage check: every non-zero
// strategy position must be matched by STP order quantity, per
// validate_stop_orders.
func (s *Session) ValidateStopOrders(ctx context.Context) string {
	s.mu.Lock()
	s.lastStopCheck = time.Now()
	s.mu.Unlock()

	store := s.core.Ledger()
	positions, err := store.QueryPosition(ctx, "", s.sessionID, "", "")
	if err != nil {
		s.logger.Error("query position for stop check failed", "error", err)
		return ""
	}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		orders, err := store.QueryOrder(ctx, ledger.OrderFilter{
			Portfolio: p.PortfolioID, SessionID: s.sessionID, OrderType: domain.OrderTypeStop, ActiveOrdersOnly: true,
		})
		if err != nil {
			s.logger.Error("query stop orders for stop check failed", "error", err)
			continue
		}
		var stopQty int64
		for _, o := range orders {
			direction := int64(1)
			if o.IsBuy {
				direction = -1
			}
			stopQty += o.Quantity * direction
		}
		if p.Quantity != stopQty {
			return fmt.Sprintf("stop order check failed for strategy %q: position is %d but total STP quantity is %d",
				s.sessionID, p.Quantity, -stopQty)
		}
	}
	return ""
}

// decodeComment turns a raw JSON comment column back into a map for reply
// construction, mirroring the original's best-effort ujson.loads.
func decodeComment(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
