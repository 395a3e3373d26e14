package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
)

type MetricsCollector struct {
	registry          *prometheus.Registry
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	committedAmount   *prometheus.HistogramVec
	roleBalance       *prometheus.GaugeVec
	breakerState      *prometheus.GaugeVec
	eventsDelivered   *prometheus.CounterVec
	logger            *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time from request to final outcome, gateway round trip included",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		committedAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_committed_amount",
			Help:    "Amounts of committed operations",
			Buckets: prometheus.ExponentialBuckets(1, 10, 10),
		}, []string{"operation"}),
		roleBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_role_balance",
			Help: "Latest committed balance per role",
		}, []string{"role"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_gateway_breaker_state",
			Help: "Gateway circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
		eventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_delivered_total",
			Help: "Committed-operation events handed to sinks",
		}, []string{"sink", "outcome"}),
		logger: logger,
	}
}

func (m *MetricsCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *MetricsCollector) ObserveAmount(operation string, amount int64) {
	m.committedAmount.WithLabelValues(operation).Observe(float64(amount))
}

func (m *MetricsCollector) UpdateRoleBalance(role string, balance int64) {
	m.roleBalance.WithLabelValues(role).Set(float64(balance))
}

func (m *MetricsCollector) SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(name).Set(v)
}

func (m *MetricsCollector) RecordEvent(sink string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.eventsDelivered.WithLabelValues(sink, outcome).Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an unstarted server exposing /metrics on addr.
func (m *MetricsCollector) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	m.logger.Info("Metrics server configured", slog.String("addr", addr))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
