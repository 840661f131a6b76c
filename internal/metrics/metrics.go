// Package metrics holds the Prometheus collectors for the client session.
// A nil *Collector is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "auth_client"

// Refresh triggers.
const (
	TriggerScheduled    = "scheduled"
	TriggerUnauthorized = "unauthorized"
)

// Refresh outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeSuperseded = "superseded"
)

// Logout reasons.
const (
	ReasonUser          = "user"
	ReasonRefreshFailed = "refresh_failed"
)

type Collector struct {
	refreshes *prometheus.CounterVec
	retries   prometheus.Counter
	logouts   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry so
// several sessions in one process never collide.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Access token refresh attempts by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests re-issued after a 401 and a successful refresh",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Session terminations by reason",
		}, []string{"reason"}),
	}

	for _, collector := range []prometheus.Collector{c.refreshes, c.retries, c.logouts} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveRefresh(trigger, outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(trigger, outcome).Inc()
}

func (c *Collector) ObserveRetry() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

func (c *Collector) ObserveLogout(reason string) {
	if c == nil {
		return
	}
	c.logouts.WithLabelValues(reason).Inc()
}
