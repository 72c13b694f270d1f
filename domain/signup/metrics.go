package signup

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the signup funnel. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	follows     prometheus.Counter
	activeFlows prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waitlist_signup_submissions_total",
				Help: "Signup submissions by outcome.",
			},
			[]string{"outcome"},
		),
		follows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waitlist_signup_follow_total",
			Help: "Flows that passed the follow gate.",
		}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlist_signup_active_flows",
			Help: "Signup flows currently mounted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.follows, m.activeFlows)
	}
	return m
}

func (m *Metrics) submission(outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) followed() {
	if m != nil {
		m.follows.Inc()
	}
}

func (m *Metrics) flowMounted() {
	if m != nil {
		m.activeFlows.Inc()
	}
}

func (m *Metrics) flowReleased() {
	if m != nil {
		m.activeFlows.Dec()
	}
}
