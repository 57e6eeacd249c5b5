// Package proxy implements the ZeroMQ ROUTER/DEALER broker process that
// fans many client DEALER sockets into the OMS's single backend socket.
// Grounded on oms/server/proxy.py's LocalBroker, ported from its
// asyncio Poller loop to two goroutines each blocked on one socket's Recv.
package proxy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-zeromq/zmq4"
)

// LocalBroker binds a frontend ROUTER (clients connect here) and a backend
// DEALER (the OMS worker connects here) and relays frames between them
// unchanged, preserving ZeroMQ's routing envelope.
type LocalBroker struct {
	logger   *slog.Logger
	frontend string
	backend  string
}

// New constructs a LocalBroker that will bind frontendAddr and backendAddr
// on Run.
func New(frontendAddr, backendAddr string, logger *slog.Logger) *LocalBroker {
	return &LocalBroker{frontend: frontendAddr, backend: backendAddr, logger: logger}
}

// Run binds both sockets and pumps frames between them until ctx is
// cancelled or a socket error occurs.
func (b *LocalBroker) Run(ctx context.Context) error {
	frontend := zmq4.NewRouter(ctx)
	defer frontend.Close()
	backend := zmq4.NewDealer(ctx)
	defer backend.Close()

	if err := frontend.Listen(b.frontend); err != nil {
		return fmt.Errorf("proxy: bind frontend %s: %w", b.frontend, err)
	}
	if err := backend.Listen(b.backend); err != nil {
		return fmt.Errorf("proxy: bind backend %s: %w", b.backend, err)
	}
	b.logger.Info("local broker listening", "frontend", b.frontend, "backend", b.backend)

	errCh := make(chan error, 2)
	go pump(ctx, frontend, backend, "frontend->backend", errCh)
	go pump(ctx, backend, frontend, "backend->frontend", errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// pump forwards every multipart frame received on from to to, preserving
// the ROUTER identity prefix so replies route back to the right client,
// mirroring the frontend/backend halves of LocalBroker.run's poll loop.
func pump(ctx context.Context, from, to zmq4.Socket, direction string, errCh chan<- error) {
	for {
		msg, err := from.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errCh <- fmt.Errorf("proxy %s: recv: %w", direction, err)
			return
		}
		if err := to.Send(msg); err != nil {
			errCh <- fmt.Errorf("proxy %s: send: %w", direction, err)
			return
		}
	}
}
