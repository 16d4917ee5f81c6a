package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tournevent/ratequote/pkg/shipper"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CarrierErrors   *prometheus.CounterVec
	QuotesReturned  prometheus.Histogram
	EligibleTotal   prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratequote_requests_total",
				Help: "Total number of requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratequote_request_duration_seconds",
				Help:    "Request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratequote_carrier_errors_total",
				Help: "Total carrier errors by carrier and error type",
			},
			[]string{"carrier", "error_type"},
		),
		QuotesReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ratequote_quotes_returned",
				Help:    "Number of ranked offers returned per aggregation",
				Buckets: prometheus.LinearBuckets(0, 1, 8),
			},
		),
		EligibleTotal: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ratequote_carriers_eligible",
				Help:    "Number of eligible carriers per aggregation",
				Buckets: prometheus.LinearBuckets(0, 1, 8),
			},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// ObserveDispatch implements shipper.Observer.
func (m *Metrics) ObserveDispatch(carrier string, kind shipper.OutcomeKind, err error, duration time.Duration) {
	m.RecordRequest("dispatch", carrier, kind.String(), duration.Seconds())
	if kind != shipper.OutcomeQuoted {
		m.RecordError(carrier, shipper.ErrorType(err))
	}
}

// ObserveAggregation implements shipper.Observer.
func (m *Metrics) ObserveAggregation(eligible, quoted int, duration time.Duration) {
	m.RecordRequest("aggregate", "all", "ok", duration.Seconds())
	m.EligibleTotal.Observe(float64(eligible))
	m.QuotesReturned.Observe(float64(quoted))
}

var _ shipper.Observer = (*Metrics)(nil)
