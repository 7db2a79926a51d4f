package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the node's Prometheus registry and meters.
type Metrics struct {
	Registry *prometheus.Registry

	ExchangeTotal     *prometheus.CounterVec
	ExchangeDuration  *prometheus.HistogramVec
	SignatureFailures *prometheus.CounterVec
	ObserverFaults    *prometheus.CounterVec
	Diagnostics       *prometheus.CounterVec

	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
}

// NewMetrics creates a private registry with the node's meters registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ExchangeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_exchange_total",
			Help: "Completed exchanges by action and result.",
		}, []string{"action", "result"}),
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocpp_exchange_duration_seconds",
			Help:    "Exchange runtime in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action", "result"}),
		SignatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_signature_failures_total",
			Help: "Signing and verification failures.",
		}, []string{"stage", "action"}),
		ObserverFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_observer_faults_total",
			Help: "Observer callbacks that failed or panicked.",
		}, []string{"event", "action"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_diagnostics_total",
			Help: "Reports delivered to the diagnostic sink.",
		}, []string{"component", "operation"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ocpp_operation_duration_seconds",
			Help:    "Duration of internal operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		OperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpp_operation_total",
			Help: "Total internal operations.",
		}, []string{"operation", "status"}),
	}

	reg.MustRegister(
		m.ExchangeTotal, m.ExchangeDuration, m.SignatureFailures,
		m.ObserverFaults, m.Diagnostics, m.OperationDuration, m.OperationTotal,
	)
	return m
}
