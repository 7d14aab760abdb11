package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports outcomes as Prometheus collectors.
type Prometheus struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	users       *prometheus.CounterVec
	activeUsers *prometheus.GaugeVec
}

// NewPrometheus registers the collectors with reg under the given
// namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests executed by virtual users.",
		}, []string{"scenario", "step", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"scenario", "step"}),
		users: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "virtual_users_total",
			Help:      "Virtual user lifecycle events.",
		}, []string{"scenario", "event"}),
		activeUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_users_active",
			Help:      "Virtual users currently running.",
		}, []string{"scenario"}),
	}
	for _, c := range []prometheus.Collector{p.requests, p.latency, p.users, p.activeUsers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordRequest(r RequestRecord) {
	p.requests.WithLabelValues(r.Scenario, r.Step, string(r.Status)).Inc()
	if !r.NotSent {
		p.latency.WithLabelValues(r.Scenario, r.Step).Observe(r.Latency.Seconds())
	}
}

func (p *Prometheus) RecordUser(u UserRecord) {
	p.users.WithLabelValues(u.Scenario, string(u.Event)).Inc()
	if u.Event == UserStarted {
		p.activeUsers.WithLabelValues(u.Scenario).Inc()
	} else if u.Event.Terminal() {
		p.activeUsers.WithLabelValues(u.Scenario).Dec()
	}
}
