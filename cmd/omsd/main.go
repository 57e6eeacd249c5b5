// Command omsd runs the order management server: the ZeroMQ ROUTER/DEALER
// proxy, the broker fleet, and the session/ledger core, following
// orders/main.go's config-load/tracing-init/signal-handling shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timour/oms/internal/app"
	"github.com/timour/oms/internal/config"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/logging"
	"github.com/timour/oms/internal/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New("oms")
	log.Info("starting oms",
		slog.String("frontend", cfg.FrontendEndpoint),
		slog.String("backend", cfg.BackendEndpoint),
		slog.Any("brokers", cfg.Brokers),
	)

	shutdown, err := tracing.InitTracer("oms")
	if err != nil {
		log.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer shutdown()

	a, err := app.New(cfg, brokerFactory, log)
	if err != nil {
		log.Error("failed to create app", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", "error", err)
		}
		cancel()
	}()

	if err := a.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("failed to start app", "error", err)
		os.Exit(1)
	}
}

// brokerFactory constructs a gateway.Gateway for a configured broker name.
// The concrete broker connector library is an external collaborator not
// vendored into this module; operators wire one in by replacing this
// function with one that dials their broker of choice.
func brokerFactory(name string) (gateway.Gateway, error) {
	return nil, fmt.Errorf("omsd: no gateway.Gateway implementation registered for broker %q", name)
}
