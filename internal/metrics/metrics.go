// Package metrics carries the OMS's Prometheus instrumentation, following
// common/metrics.NewBusinessMetrics's constructor/recorder shape.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OMSMetrics contains the business and infrastructure metrics of the OMS.
// The core records OrdersPlaced, ExecutionsProcessed, StopLossesPlaced and
// BrokerConnected; OrdersRejected, BrokerReconnects and LedgerStmtDuration
// are registered but nothing in this module records them.
type OMSMetrics struct {
	OrdersPlaced       *prometheus.CounterVec
	OrdersRejected     *prometheus.CounterVec
	ExecutionsProcessed prometheus.Counter
	StopLossesPlaced   prometheus.Counter
	BrokerReconnects   *prometheus.CounterVec
	BrokerConnected    *prometheus.GaugeVec
	LedgerStmtDuration *prometheus.HistogramVec
}

// New constructs the OMS metrics for serviceName ("oms").
func New(serviceName string) *OMSMetrics {
	return &OMSMetrics{
		OrdersPlaced: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_orders_placed_total",
				Help: "Total number of orders forwarded to a broker",
			},
			[]string{"action", "order_type"},
		),
		OrdersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_orders_rejected_total",
				Help: "Total number of orders rejected before reaching a broker",
			},
			[]string{"reason"},
		),
		ExecutionsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_executions_processed_total",
				Help: "Total number of broker executions applied to the ledger",
			},
		),
		StopLossesPlaced: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_stop_losses_placed_total",
				Help: "Total number of stop-loss orders synthesised on entry fills",
			},
		),
		BrokerReconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_reconnects_total",
				Help: "Total number of broker reconnect attempts",
			},
			[]string{"broker_id"},
		),
		BrokerConnected: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: serviceName + "_broker_connected",
				Help: "1 if the broker adapter is connected, 0 otherwise",
			},
			[]string{"broker_id"},
		),
		LedgerStmtDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_ledger_statement_duration_seconds",
				Help:    "Ledger statement execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"statement"},
		),
	}
}

// RecordLedgerStatement records the latency of one ledger statement.
func (m *OMSMetrics) RecordLedgerStatement(name string, d time.Duration) {
	m.LedgerStmtDuration.WithLabelValues(name).Observe(d.Seconds())
}
