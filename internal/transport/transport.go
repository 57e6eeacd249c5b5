// Package transport implements the OMS-side half of the ZeroMQ wire: a
// DEALER socket connected to the messaging proxy's backend, a bounded
// worker pool dispatching inbound frames into the OMS core, and a drain
// goroutine flushing queued replies back out. Grounded on oms.py's run
// loop: the DEALER connect/poll section and its ThreadPoolExecutor
// dispatch, replacing the asyncio Poller with one blocking Recv goroutine.
package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-zeromq/zmq4"
	"github.com/timour/oms/internal/oms"
)

// Core is the subset of *oms.OMS the transport depends on.
type Core interface {
	HandleInbound(ctx context.Context, sourceID string, payload []byte)
	Outbound() <-chan oms.Envelope
}

// Transport owns the DEALER socket and the worker pool that drains it.
type Transport struct {
	logger  *slog.Logger
	core    Core
	addr    string
	workers int
}

// New constructs a Transport that will dial addr (the proxy's backend
// endpoint) on Run, dispatching inbound messages across workers goroutines.
func New(core Core, addr string, workers int, logger *slog.Logger) *Transport {
	if workers < 1 {
		workers = 1
	}
	return &Transport{core: core, addr: addr, workers: workers, logger: logger}
}

// Run connects the DEALER socket and blocks, pumping frames in both
// directions until ctx is cancelled or the socket errors.
func (t *Transport) Run(ctx context.Context) error {
	sock := zmq4.NewDealer(ctx)
	defer sock.Close()
	if err := sock.Dial(t.addr); err != nil {
		return fmt.Errorf("transport: connect %s: %w", t.addr, err)
	}
	t.logger.Info("connected to messaging proxy", "addr", t.addr, "workers", t.workers)

	inbound := make(chan zmq4.Msg, t.workers*4)
	errCh := make(chan error, 2)

	go t.drainOutbound(ctx, sock, errCh)
	go t.recvLoop(ctx, sock, inbound, errCh)
	for i := 0; i < t.workers; i++ {
		go t.worker(ctx, inbound)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// recvLoop blocks on sock.Recv and hands each frame to a worker, mirroring
// the poller-driven recv_multipart half of oms.py's run loop.
func (t *Transport) recvLoop(ctx context.Context, sock zmq4.Socket, inbound chan<- zmq4.Msg, errCh chan<- error) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errCh <- fmt.Errorf("transport: recv: %w", err)
			return
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// worker processes inbound frames until ctx is cancelled, the Go
// counterpart of run_in_executor(pool, self._process_zmq_msg, msg).
func (t *Transport) worker(ctx context.Context, inbound <-chan zmq4.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			if len(msg.Frames) < 2 {
				t.logger.Warn("dropping malformed inbound frame", "frame_count", len(msg.Frames))
				continue
			}
			sourceID := string(msg.Frames[0])
			payload := msg.Frames[1]
			t.core.HandleInbound(ctx, sourceID, payload)
		}
	}
}

// drainOutbound flushes the OMS core's outbound queue to the wire,
// mirroring the future_results/pending_messages drain at the top of
// oms.py's run loop.
func (t *Transport) drainOutbound(ctx context.Context, sock zmq4.Socket, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-t.core.Outbound():
			if !ok {
				return
			}
			msg := zmq4.NewMsgFrom([]byte(env.SourceID), env.Payload)
			if err := sock.Send(msg); err != nil {
				errCh <- fmt.Errorf("transport: send: %w", err)
				return
			}
		}
	}
}
