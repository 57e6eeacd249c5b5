// Package app wires the OMS core, its ledger, instrument repository,
// broker fleet, messaging proxy, and transport into one running process,
// following orders/app.go's App struct/NewApp/Start/Shutdown shape.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timour/oms/internal/broker"
	"github.com/timour/oms/internal/config"
	"github.com/timour/oms/internal/gateway"
	"github.com/timour/oms/internal/instruments"
	"github.com/timour/oms/internal/ledger"
	"github.com/timour/oms/internal/metrics"
	"github.com/timour/oms/internal/oms"
	"github.com/timour/oms/internal/proxy"
	"github.com/timour/oms/internal/transport"
)

// BrokerFactory constructs the gateway for a configured broker name. The
// concrete gateway.Gateway implementations (IB, simulated, or otherwise)
// are supplied by the caller; the OMS core only depends on the interface.
type BrokerFactory func(name string) (gateway.Gateway, error)

// App owns every long-running component of one OMS process.
type App struct {
	config  config.Config
	logger  *slog.Logger
	metrics *metrics.OMSMetrics

	store       ledger.Store
	instruments *instruments.Repository
	core        *oms.OMS
	localProxy  *proxy.LocalBroker
	transport   *transport.Transport

	brokers       map[string]*broker.Adapter
	metricsServer *http.Server
}

// New constructs an App: the ledger store, instrument repository, OMS
// core, every configured broker (via factory), the local ZeroMQ proxy, and
// the OMS-side transport, mirroring NewApp's "wire everything, start
// nothing" contract.
func New(cfg config.Config, factory BrokerFactory, logger *slog.Logger) (*App, error) {
	store, err := ledger.NewMySQLStore(cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}

	instrumentRepo, err := instruments.Load(cfg.InstrumentConfigPath)
	if err != nil {
		return nil, fmt.Errorf("app: load instruments: %w", err)
	}

	m := metrics.New("oms")
	core := oms.New(store, instrumentRepo, m, logger)

	brokers := make(map[string]*broker.Adapter, len(cfg.Brokers))
	for _, name := range cfg.Brokers {
		if factory == nil {
			return nil, fmt.Errorf("app: broker %q configured but no broker factory supplied", name)
		}
		gw, err := factory(name)
		if err != nil {
			return nil, fmt.Errorf("app: construct broker %q: %w", name, err)
		}
		events := oms.NewBrokerEvents(core, name)
		adapter := broker.NewAdapter(gw, cfg.ReconnectInterval, logger, events)
		brokers[name] = adapter
		core.RegisterBroker(name, adapter)
	}

	localProxy := proxy.New(cfg.FrontendEndpoint, cfg.BackendEndpoint, logger)
	t := transport.New(core, cfg.BackendConnectEndpoint, cfg.NumWorkers, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		metrics:     m,
		store:       store,
		instruments: instrumentRepo,
		core:        core,
		localProxy:  localProxy,
		transport:   t,
		brokers:     brokers,
	}, nil
}

// Start connects every broker, begins the contract-roll check and periodic
// duties loop, serves Prometheus metrics, and runs the messaging proxy and
// transport until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	for name, b := range a.brokers {
		name, b := name, b
		go func() {
			if err := b.Connect(ctx); err != nil {
				a.logger.Error("initial broker connect failed, will retry on the periodic duties loop", "broker", name, "error", err)
			}
		}()
	}

	go a.core.RunContractRoll(ctx)
	go a.core.RunPeriodicDuties(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{Addr: ":" + a.config.MetricsPort, Handler: mux}
	go func() {
		a.logger.Info("starting metrics server", "addr", a.metricsServer.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	proxyErr := make(chan error, 1)
	go func() {
		proxyErr <- a.localProxy.Run(ctx)
	}()

	a.logger.Info("starting transport", "addr", a.config.BackendConnectEndpoint)
	transportErr := a.transport.Run(ctx)

	select {
	case err := <-proxyErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("app: local proxy stopped: %w", err)
		}
	default:
	}
	if transportErr != nil && ctx.Err() == nil {
		return fmt.Errorf("app: transport stopped: %w", transportErr)
	}
	return nil
}

// Shutdown disconnects every broker, stops the metrics server, and closes
// the ledger store.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	for name, b := range a.brokers {
		if err := b.Disconnect(); err != nil {
			a.logger.Error("broker disconnect failed", "broker", name, "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("error shutting down metrics server", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing ledger store", "error", err)
	}
	return nil
}
