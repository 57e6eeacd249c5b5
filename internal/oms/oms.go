// Package oms is the core order management server: session registry,
// broker-event state machine, contract-roll routine, and periodic duties.
// Grounded on oms/server/oms.py's Oms class.
package oms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/broker"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/domain"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/ledger"
	"github.com/timour/oms/internal/metrics"
	"github.com/timour/oms/internal/session"
)

// strategyName is the booking strategy for the OMS's own roll orders; not a
// real trading strategy (domain.RollStrategy).
const strategyName = domain.RollStrategy

// Envelope is one outbound wire message, addressed by the ZeroMQ routing
// identity the originating request arrived on.
type Envelope struct {
	SourceID string
	Payload  []byte
}

// OMS is the process-wide order management core. One instance owns every
// broker connection, session, and the ledger; it has no process-global
// state (spec section 9).
type OMS struct {
	logger      *slog.Logger
	metrics     *metrics.OMSMetrics
	store       ledger.Store
	instruments domain.Repository

	mu             sync.Mutex
	brokers        map[string]*broker.Adapter
	sessions       map[string]*session.Session // keyed by ZeroMQ source id
	rollOrders     map[string]bool
	rollDone       chan struct{}
	rollDoneClosed bool
	nextID         int64

	outbound chan Envelope
}

// New constructs an OMS core with no brokers registered. Brokers are added
// afterward with RegisterBroker, once their gateways have been wired with
// events from this OMS (see NewBrokerEvents) — the teacher's Oms.__init__
// wires broker and gateway in the same order, but Go's lack of forward
// references forces the two-step construct-then-register split here.
func New(store ledger.Store, instruments domain.Repository, m *metrics.OMSMetrics, logger *slog.Logger) *OMS {
	return &OMS{
		logger:      logger,
		metrics:     m,
		store:       store,
		instruments: instruments,
		brokers:     map[string]*broker.Adapter{},
		sessions:    map[string]*session.Session{},
		rollOrders:  map[string]bool{},
		nextID:      generateRequestID(),
		outbound:    make(chan Envelope, 256),
	}
}

// RegisterBroker adds a connected-or-connecting broker adapter to the OMS's
// fleet under name, used by the broker.Name() that PlaceOrder/IsReady key
// off of.
func (o *OMS) RegisterBroker(name string, b *broker.Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.brokers[name] = b
}

// generateRequestID seeds the OMS-originated request id counter from the
// current time: Unix seconds multiplied by 100000.
func generateRequestID() int64 {
	t := time.Now()
	return t.Unix() * 100000
}

// Ledger exposes the durable store to sessions.
func (o *OMS) Ledger() ledger.Store { return o.store }

// Outbound is the channel the transport layer drains to deliver replies.
func (o *OMS) Outbound() <-chan Envelope { return o.outbound }

func (o *OMS) publish(sourceID string, payload []byte) {
	select {
	case o.outbound <- Envelope{SourceID: sourceID, Payload: payload}:
	default:
		o.logger.Error("outbound queue full, dropping message", "source_id", sourceID)
	}
}

// Send pushes msg onto the outbound queue addressed to sourceID. Exported
// for session.Core so a session can deliver a reply (e.g. ORDER_REJECTED)
// that isn't the synchronous return value of Process.
func (o *OMS) Send(sourceID string, msg *codec.Message) {
	o.send(sourceID, msg)
}

func (o *OMS) send(sourceID string, msg *codec.Message) {
	payload, err := encodeReply(msg)
	if err != nil {
		o.logger.Error("encode reply failed", "error", err)
		return
	}
	o.publish(sourceID, payload)
}

func encodeReply(msg *codec.Message) ([]byte, error) {
	switch msg.Type {
	case codec.MsgNextRequestID:
		return codec.Encode(msg.Type, msg.NextRequestID)
	case codec.MsgHeartbeat:
		return codec.Encode(msg.Type, msg.Heartbeat)
	case codec.MsgPosition:
		return codec.Encode(msg.Type, msg.Position)
	case codec.MsgExecution:
		return codec.Encode(msg.Type, msg.Execution)
	case codec.MsgError:
		return codec.Encode(msg.Type, msg.Error)
	default:
		return nil, fmt.Errorf("encode reply: unsupported msg_type %q", msg.Type)
	}
}

// nextRequestID returns a process-unique id for OMS-originated orders
// (stops, rolls), mirroring get_next_id.
func (o *OMS) nextRequestID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	return id
}
