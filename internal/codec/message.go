// Package codec implements the OMS wire protocol: a tagged JSON envelope
// exchanged over the ZeroMQ DEALER/ROUTER transport (spec section 6).
//
// The decoder models the envelope as a sum type keyed by msg_type, per the
// redesign note in spec section 9 ("model this as a sum type with
// exhaustive handling in the router") rather than the original's
// populate-after-construct message classes.
package codec

import (
	"encoding/json"
	"fmt"
)

// Group is the only recognised top-level message group.
const Group = "oms"

// MsgType enumerates the recognised msg_type values.
type MsgType string

const (
	MsgInit          MsgType = "init"
	MsgNextRequestID MsgType = "next_request_id"
	MsgHeartbeat     MsgType = "heartbeat"
	MsgNewOrder      MsgType = "new_order"
	MsgPosition      MsgType = "position"
	MsgExecution     MsgType = "execution"
	MsgError         MsgType = "error"
)

// Error codes, bit-exact with the original protocol.
const (
	ErrSystemError         = 100
	ErrDuplicatedSessionID = 101
	ErrBadRequestID        = 102
	ErrAlreadyLoggedIn     = 103
	ErrNotLoggedIn         = 104
	ErrInitError           = 105
	ErrOrderError          = 106
	ErrOrderRejected       = 107
)

// InvalidMessage is returned by Decode when the envelope's group or
// msg_type is not recognised (spec section 4.1).
type InvalidMessage struct {
	Reason string
}

func (e *InvalidMessage) Error() string { return "invalid message: " + e.Reason }

// Init is the login request payload.
type Init struct {
	SessionID  string            `json:"session_id"`
	AccountID  string            `json:"account_id"`
	Strategies map[string]string `json:"strategies"`
}

// NextRequestID is the server's reply to a login, carrying the session's
// persisted request-id counter.
type NextRequestID struct {
	NextRequestID int64 `json:"next_request_id"`
}

// Heartbeat travels in both directions.
type Heartbeat struct {
	Timestamp string `json:"timestamp"`
	Next      string `json:"next"`
	IsReady   *bool  `json:"is_ready,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewOrder is a client order-placement request.
type NewOrder struct {
	RequestID int64          `json:"request_id"`
	Market    string         `json:"market"`
	Symbol    string         `json:"symbol"`
	OrderType string         `json:"order_type"`
	IsBuy     bool           `json:"is_buy"`
	Quantity  int64          `json:"quantity"`
	Price     float64        `json:"price"`
	Portfolio string         `json:"portfolio"`
	Action    string         `json:"action"`
	Strategy  string         `json:"strategy"`
	Reference string         `json:"reference"`
	Comment   map[string]any `json:"comment"`
}

// Position is both the request form (RequestID only) and the reply form
// (Account populated).
type Position struct {
	RequestID int64           `json:"request_id"`
	Account   *AccountSnapshot `json:"account,omitempty"`
}

// AccountSnapshot is the position reply tree: account -> portfolios ->
// positions -> positions_by_entry -> order.
type AccountSnapshot struct {
	ID           string               `json:"id"`
	Cash         float64              `json:"cash"`
	Currency     string               `json:"currency"`
	Portfolios   []PortfolioSnapshot  `json:"portfolios"`
}

type PortfolioSnapshot struct {
	ID        string             `json:"id"`
	Positions []PositionSnapshot `json:"positions"`
}

type PositionSnapshot struct {
	Strategy        string                    `json:"strategy"`
	Market          string                    `json:"market"`
	Symbol          string                    `json:"symbol"`
	Position        int64                     `json:"position"`
	AvgPrice        float64                   `json:"avg_price"`
	ForceRenew      bool                      `json:"force_renew"`
	PositionsByEntry []PositionByEntrySnapshot `json:"positions_by_entry,omitempty"`
}

type PositionByEntrySnapshot struct {
	Position int64        `json:"position"`
	AvgPrice float64      `json:"avg_price"`
	State    string       `json:"state"`
	Created  string       `json:"created"`
	Order    *OrderSnapshot `json:"order,omitempty"`
}

type OrderSnapshot struct {
	OrderID   int64          `json:"order_id"`
	Market    string         `json:"market"`
	Symbol    string         `json:"symbol"`
	OrderType string         `json:"order_type"`
	IsBuy     bool           `json:"is_buy"`
	Quantity  int64          `json:"quantity"`
	Price     float64        `json:"price"`
	Portfolio string         `json:"portfolio"`
	Action    string         `json:"action"`
	Strategy  string         `json:"strategy"`
	Reference string         `json:"reference"`
	Comment   map[string]any `json:"comment"`
}

// Execution is the execution broadcast: request_id plus a list of fills.
type Execution struct {
	RequestID int64            `json:"request_id"`
	Items     []ExecutionItem  `json:"items"`
}

type ExecutionItem struct {
	OrderID          string         `json:"order_id"`
	ExecutionID      string         `json:"execution_id"`
	ExecutionTime    string         `json:"execution_time"`
	Market           string         `json:"market"`
	Symbol           string         `json:"symbol"`
	IsBuy            bool           `json:"is_buy"`
	Quantity         int64          `json:"quantity"`
	Price            float64        `json:"price"`
	RemainingQuantity int64         `json:"remaining_quantity"`
	Portfolio        string         `json:"portfolio"`
	Strategy         string         `json:"strategy"`
	Action           string         `json:"action"`
	Reference        string         `json:"reference"`
	Comment          map[string]any `json:"comment"`
}

// ErrorMsg is the structured error reply.
type ErrorMsg struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	RequestID *int64 `json:"request_id,omitempty"`
}

// Message is the decoded sum type: exactly one of the typed fields below is
// non-nil, selected by Type.
type Message struct {
	Type          MsgType
	Init          *Init
	NextRequestID *NextRequestID
	Heartbeat     *Heartbeat
	NewOrder      *NewOrder
	Position      *Position
	Execution     *Execution
	Error         *ErrorMsg
}

// Decode parses a wire payload into a Message, failing with
// *InvalidMessage if the group is wrong or msg_type is unrecognised, per
// spec section 4.1.
func Decode(raw []byte) (*Message, error) {
	var env struct {
		Group   string  `json:"group"`
		MsgType MsgType `json:"msg_type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Group != Group {
		return nil, &InvalidMessage{Reason: fmt.Sprintf("expected group %q, got %q", Group, env.Group)}
	}

	msg := &Message{Type: env.MsgType}
	switch env.MsgType {
	case MsgInit:
		msg.Init = &Init{}
		return msg, unmarshalInto(raw, msg.Init)
	case MsgNextRequestID:
		msg.NextRequestID = &NextRequestID{}
		return msg, unmarshalInto(raw, msg.NextRequestID)
	case MsgHeartbeat:
		msg.Heartbeat = &Heartbeat{}
		return msg, unmarshalInto(raw, msg.Heartbeat)
	case MsgNewOrder:
		msg.NewOrder = &NewOrder{}
		return msg, unmarshalInto(raw, msg.NewOrder)
	case MsgPosition:
		msg.Position = &Position{}
		return msg, unmarshalInto(raw, msg.Position)
	case MsgExecution:
		msg.Execution = &Execution{}
		return msg, unmarshalInto(raw, msg.Execution)
	case MsgError:
		msg.Error = &ErrorMsg{}
		return msg, unmarshalInto(raw, msg.Error)
	default:
		return nil, &InvalidMessage{Reason: fmt.Sprintf("unsupported msg_type: %q", env.MsgType)}
	}
}

func unmarshalInto(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Encode serialises a concrete payload plus its msg_type tag into the wire
// envelope. Callers pass one of the typed payload structs above.
func Encode(msgType MsgType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	fields["group"], _ = json.Marshal(Group)
	msgTypeJSON, _ := json.Marshal(msgType)
	fields["msg_type"] = msgTypeJSON
	return json.Marshal(fields)
}
