// Package metrics provides Prometheus collection and exposition.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwakai/touch-grass/internal/guard"
)

// Collector records shell server metrics. It satisfies the recorder
// interfaces of authapi, session, guard and sweeper.
type Collector struct {
	reg             prometheus.Registerer
	identityLatency *prometheus.HistogramVec
	authActions     *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	devicesDeleted  prometheus.Counter
	sessionsEvicted prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "touchgrass_identity_request_duration_seconds",
			Help:    "Latency of Identity Service calls by endpoint and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		authActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "touchgrass_auth_actions_total",
			Help: "Session auth actions by action and outcome.",
		}, []string{"action", "outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "touchgrass_guard_decisions_total",
			Help: "Route guard decisions by route, outcome and reason.",
		}, []string{"route", "outcome", "reason"}),
		devicesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "touchgrass_sweeper_devices_deleted_total",
			Help: "Stale devices whose credentials were deleted.",
		}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "touchgrass_sweeper_sessions_evicted_total",
			Help: "Idle sessions evicted from memory.",
		}),
	}

	reg.MustRegister(
		c.identityLatency,
		c.authActions,
		c.guardDecisions,
		c.devicesDeleted,
		c.sessionsEvicted,
	)

	return c
}

// ObserveIdentityRequest records one Identity Service call. A zero status
// means the request never produced a response.
func (c *Collector) ObserveIdentityRequest(endpoint string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.identityLatency.WithLabelValues(endpoint, label).Observe(elapsed.Seconds())
}

// RecordAuthAction counts a session auth action.
func (c *Collector) RecordAuthAction(action, outcome string) {
	c.authActions.WithLabelValues(action, outcome).Inc()
}

// RecordGuardDecision counts a navigation decision.
func (c *Collector) RecordGuardDecision(route string, outcome guard.Outcome, reason string) {
	c.guardDecisions.WithLabelValues(route, string(outcome), reason).Inc()
}

// RecordSweep counts the result of one sweeper pass.
func (c *Collector) RecordSweep(devicesDeleted, sessionsEvicted int) {
	c.devicesDeleted.Add(float64(devicesDeleted))
	c.sessionsEvicted.Add(float64(sessionsEvicted))
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (c *Collector) Gauge(name, help string, fn func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(fn()) }))
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
