package oms

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/timour/oms/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeInit(t *testing.T, init *codec.Init) []byte {
	t.Helper()
	payload, err := codec.Encode(codec.MsgInit, init)
	require.NoError(t, err)
	return payload
}

func TestHandleInboundRegistersSessionOnFirstInit(t *testing.T) {
	core, store := newTestCore(nil)
	store.SeedAccount("acct1", decimal.NewFromInt(10000), "USD", "P1")

	payload := encodeInit(t, &codec.Init{SessionID: "sess1", AccountID: "acct1", Strategies: map[string]string{"strat1": "P1"}})
	core.HandleInbound(context.Background(), "src1", payload)

	s := core.sessionBySourceID("src1")
	require.NotNil(t, s, "a session must be registered under the source id after a successful INIT")
	assert.Equal(t, "sess1", s.ID())
	assert.True(t, s.IsLoggedIn())

	select {
	case env := <-core.Outbound():
		assert.Equal(t, "src1", env.SourceID)
		msg, err := codec.Decode(env.Payload)
		require.NoError(t, err)
		require.Equal(t, codec.MsgNextRequestID, msg.Type)
		assert.Equal(t, int64(1), msg.NextRequestID.NextRequestID)
	default:
		t.Fatal("expected a next_request_id reply on the outbound channel")
	}
}

func TestHandleInboundRejectsDuplicateSessionID(t *testing.T) {
	core, store := newTestCore(nil)
	store.SeedAccount("acct1", decimal.NewFromInt(10000), "USD", "P1")

	firstInit := encodeInit(t, &codec.Init{SessionID: "sess1", AccountID: "acct1", Strategies: map[string]string{"strat1": "P1"}})
	core.HandleInbound(context.Background(), "src1", firstInit)
	<-core.Outbound()

	secondInit := encodeInit(t, &codec.Init{SessionID: "sess1", AccountID: "acct1", Strategies: map[string]string{"strat1": "P1"}})
	core.HandleInbound(context.Background(), "src2", secondInit)

	assert.Nil(t, core.sessionBySourceID("src2"), "a duplicate session id must not register a second session")

	select {
	case env := <-core.Outbound():
		assert.Equal(t, "src2", env.SourceID)
		msg, err := codec.Decode(env.Payload)
		require.NoError(t, err)
		require.Equal(t, codec.MsgError, msg.Type)
		assert.Equal(t, codec.ErrDuplicatedSessionID, msg.Error.ErrorCode)
	default:
		t.Fatal("expected an error reply on the outbound channel")
	}
}

func TestHandleInboundDropsMessageFromUnknownSourceBeforeInit(t *testing.T) {
	core, _ := newTestCore(nil)

	heartbeat, err := codec.Encode(codec.MsgHeartbeat, &codec.Heartbeat{})
	require.NoError(t, err)
	core.HandleInbound(context.Background(), "src1", heartbeat)

	assert.Nil(t, core.sessionBySourceID("src1"))
	select {
	case env := <-core.Outbound():
		t.Fatalf("expected no reply for a pre-INIT message from an unknown source, got %+v", env)
	default:
	}
}

func TestTendSessionsKeepsSessionWithFreshHeartbeat(t *testing.T) {
	core, store := newTestCore(nil)
	store.SeedAccount("acct1", decimal.NewFromInt(10000), "USD", "P1")

	payload := encodeInit(t, &codec.Init{SessionID: "sess1", AccountID: "acct1", Strategies: map[string]string{"strat1": "P1"}})
	core.HandleInbound(context.Background(), "src1", payload)
	<-core.Outbound()
	require.NotNil(t, core.sessionBySourceID("src1"))

	s := core.sessionBySourceID("src1")
	require.NotNil(t, s)

	core.tendSessions(context.Background())
	assert.NotNil(t, core.sessionBySourceID("src1"), "a session whose heartbeat was stamped at login just now must not be evicted")
}
