package oms

import (
	"context"
	"fmt"
	"time"

	"github.com/timour/oms/internal/broker"
	"github.com/timour/oms/internal/codec"
	"github.com/timour/oms/internal/session"
)

// HandleInbound decodes one wire message arriving from sourceID and routes
// it to the session that owns that ZeroMQ routing identity, creating a
// session on a first INIT. Grounded on oms.py's run loop's dispatch of
// incoming frames to handle_message / handle_init.
func (o *OMS) HandleInbound(ctx context.Context, sourceID string, payload []byte) {
	msg, err := codec.Decode(payload)
	if err != nil {
		o.logger.Error("decode inbound message failed", "source_id", sourceID, "error", err)
		return
	}

	s := o.sessionBySourceID(sourceID)
	if s == nil {
		if msg.Type != codec.MsgInit {
			o.logger.Warn("message from unknown source before INIT, dropping", "source_id", sourceID, "msg_type", msg.Type)
			return
		}
		if o.sessionByID(msg.Init.SessionID) != nil {
			o.logger.Warn("duplicate session id rejected", "session_id", msg.Init.SessionID)
			o.send(sourceID, &codec.Message{Type: codec.MsgError, Error: &codec.ErrorMsg{
				ErrorCode: codec.ErrDuplicatedSessionID,
				Message:   fmt.Sprintf("session id %q is already logged in", msg.Init.SessionID),
				SessionID: msg.Init.SessionID,
			}})
			return
		}
		s, err = session.New(ctx, msg.Init.SessionID, sourceID, o, o.logger)
		if err != nil {
			o.logger.Error("construct session failed", "session_id", msg.Init.SessionID, "error", err)
			return
		}
		o.mu.Lock()
		o.sessions[sourceID] = s
		o.mu.Unlock()
		o.logger.Info("session registered", "session_id", s.ID(), "source_id", sourceID)
	}

	reply, err := s.Process(ctx, msg)
	if err != nil {
		o.logger.Error("process message failed", "session", s.ID(), "error", err)
		return
	}
	if reply != nil {
		o.send(sourceID, reply)
	}
}

func (o *OMS) sessionBySourceID(sourceID string) *session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[sourceID]
}

// allSessions returns a snapshot of the registered sessions, safe to range
// over without holding o.mu for the duration of the caller's work.
func (o *OMS) allSessions() []*session.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

func (o *OMS) evictSession(sourceID string) {
	o.mu.Lock()
	delete(o.sessions, sourceID)
	o.mu.Unlock()
}

// periodicDutiesInterval is the tick cadence of RunPeriodicDuties; every
// duty below gates itself against its own, coarser cadence.
const periodicDutiesInterval = 1 * time.Second

// pingInterval is PING_INTERVAL from spec sections 4.7(ii) and 5: connected
// brokers are pinged on this cadence, not on every periodic-duties tick.
const pingInterval = 5 * time.Second

// RunPeriodicDuties runs the server's background upkeep loop until ctx is
// cancelled: broker reconnect/ping, session heartbeat push and eviction, and
// stop-coverage validation. Grounded on oms.py's run loop's periodic
// section, which the original drives off a single asyncio.sleep(1) tick.
func (o *OMS) RunPeriodicDuties(ctx context.Context) {
	ticker := time.NewTicker(periodicDutiesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tendBrokers(ctx)
			o.tendSessions(ctx)
		}
	}
}

// tendBrokers pings every connected broker to keep its liveness timer fed
// and attempts a reconnect on any broker that is down and due, mirroring
// the original's per-broker health/reconnect loop.
func (o *OMS) tendBrokers(ctx context.Context) {
	o.mu.Lock()
	brokers := make(map[string]*broker.Adapter, len(o.brokers))
	for name, b := range o.brokers {
		brokers[name] = b
	}
	o.mu.Unlock()

	for name, b := range brokers {
		if b.IsConnected() {
			if b.DuePing(pingInterval) {
				if err := b.Ping(ctx); err != nil {
					o.logger.Error("broker ping failed", "broker", name, "error", err)
				}
			}
			continue
		}
		if b.IsConnecting() || !b.DueForReconnect() {
			continue
		}
		o.logger.Info("broker disconnected, attempting reconnect", "broker", name)
		if err := b.Connect(ctx); err != nil {
			o.logger.Error("broker reconnect failed", "broker", name, "error", err)
		}
	}
}

// tendSessions pushes a due server heartbeat to every registered session,
// evicts sessions whose client heartbeat has lapsed, and runs the 5-minute
// stop-coverage check, mirroring the per-session loop in oms.py's run.
func (o *OMS) tendSessions(ctx context.Context) {
	ready := o.IsReady()
	for _, s := range o.allSessions() {
		if s.IsExpired() {
			o.logger.Warn("session heartbeat expired, evicting", "session", s.ID())
			o.evictSession(s.SourceID())
			continue
		}
		if s.IsHeartbeatDue() {
			o.send(s.SourceID(), s.SendHeartbeat(ready))
		}
		if s.RequireStopCheck() {
			if msg := s.ValidateStopOrders(ctx); msg != "" {
				o.logger.Error("stop-coverage check failed", "session", s.ID(), "message", msg)
			}
		}
	}
}
