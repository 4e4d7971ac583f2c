package serve

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks blob serving.
//
// All metrics use the blobstream_serve_ prefix.
type Metrics struct {
	// RequestsTotal counts requests by method and response status.
	RequestsTotal *prometheus.CounterVec

	// BytesServed counts body bytes written to clients.
	BytesServed prometheus.Counter
}

// NewMetrics creates the serving metrics and registers them on reg.
// Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobstream_serve_requests_total",
				Help: "Total blob requests by method and status",
			},
			[]string{"method", "status"},
		),
		BytesServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "blobstream_serve_bytes_total",
				Help: "Total blob bytes written to clients",
			},
		),
	}
	reg.MustRegister(m.RequestsTotal, m.BytesServed)
	return m
}

func (m *Metrics) observe(method string, status int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) served(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesServed.Add(float64(n))
}
