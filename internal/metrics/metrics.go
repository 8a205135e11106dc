// Package metrics exposes the Prometheus collectors for sale, packaging and
// debt operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	saleOps         *prometheus.CounterVec
	packagingMoves  *prometheus.CounterVec
	debtPayments    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		saleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_sale_operations_total",
			Help: "Sale create, update, delete and deliver operations by outcome.",
		}, []string{"op", "outcome"}),
		packagingMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_packaging_movements_total",
			Help: "Committed packaging history entries by action.",
		}, []string{"action"}),
		debtPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_debt_payments_total",
			Help: "Employee debt payments by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depot_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.saleOps,
		m.packagingMoves,
		m.debtPayments,
		m.requestDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SaleOperation(op string, err error) {
	if m == nil {
		return
	}
	m.saleOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) PackagingMovement(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.packagingMoves.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) DebtPayment(err error) {
	if m == nil {
		return
	}
	m.debtPayments.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, statusClass(status)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
