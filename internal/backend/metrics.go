package backend

import (
	apperrors "github.com/akeren/waitlist-gate/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts backend operations by outcome. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waitlist_backend_requests_total",
				Help: "Backend client operations by outcome.",
			},
			[]string{"operation", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests)
	}
	return m
}

func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	switch {
	case err == nil:
	case apperrors.IsType(err, apperrors.ErrorTypeConflict):
		result = "conflict"
	default:
		result = "error"
	}
	m.requests.WithLabelValues(operation, result).Inc()
}
