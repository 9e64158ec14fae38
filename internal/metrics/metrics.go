// Package metrics exposes the driver's CMAP/SDAM/command counters as
// Prometheus metrics. Grounded on JeelKantaria-db-bouncer's
// internal/metrics/metrics.go (a registry-owning Collector struct with one
// method per event type), retargeted from per-tenant pool gauges onto
// this driver's own per-server connection pool, command, and
// server-selection events (spec.md §6).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric this driver emits.
type Collector struct {
	Registry *prometheus.Registry

	poolConnectionsActive *prometheus.GaugeVec
	poolConnectionsIdle   *prometheus.GaugeVec
	poolCheckOutDuration  *prometheus.HistogramVec
	poolCleared           *prometheus.CounterVec

	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	serverSelectionDuration *prometheus.HistogramVec
	serverSelectionTimeouts *prometheus.CounterVec

	heartbeatDuration *prometheus.HistogramVec
	serverType        *prometheus.GaugeVec
}

// New creates and registers every metric using a fresh, independent
// registry (safe to call more than once, e.g. once per Client).
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		poolConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docdriver_pool_connections_active",
				Help: "Number of checked-out connections per server",
			},
			[]string{"address"},
		),
		poolConnectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docdriver_pool_connections_idle",
				Help: "Number of idle connections per server",
			},
			[]string{"address"},
		),
		poolCheckOutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docdriver_pool_checkout_duration_seconds",
				Help:    "Time spent waiting for Pool.CheckOut",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"address"},
		),
		poolCleared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docdriver_pool_cleared_total",
				Help: "Number of times a server's pool was cleared",
			},
			[]string{"address"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docdriver_command_duration_seconds",
				Help:    "Round-trip duration of a command by name",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"command"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docdriver_command_errors_total",
				Help: "Commands that failed, by name and failure kind",
			},
			[]string{"command", "kind"},
		),
		serverSelectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docdriver_server_selection_duration_seconds",
				Help:    "Time spent in SelectServer",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"outcome"},
		),
		serverSelectionTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docdriver_server_selection_timeouts_total",
				Help: "Server selections that exhausted their timeout",
			},
			[]string{},
		),
		heartbeatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docdriver_heartbeat_duration_seconds",
				Help:    "hello/isMaster round-trip duration per server",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"address", "outcome"},
		),
		serverType: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docdriver_server_type",
				Help: "Current SDAM type per server (1 for the active row, 0 otherwise)",
			},
			[]string{"address", "type"},
		),
	}

	reg.MustRegister(
		c.poolConnectionsActive,
		c.poolConnectionsIdle,
		c.poolCheckOutDuration,
		c.poolCleared,
		c.commandDuration,
		c.commandErrors,
		c.serverSelectionDuration,
		c.serverSelectionTimeouts,
		c.heartbeatDuration,
		c.serverType,
	)
	return c
}

// UpdatePoolStats records the current active/idle connection counts for a
// server's pool (spec.md §4.4).
func (c *Collector) UpdatePoolStats(address string, active, idle int) {
	c.poolConnectionsActive.WithLabelValues(address).Set(float64(active))
	c.poolConnectionsIdle.WithLabelValues(address).Set(float64(idle))
}

// CheckOutDuration observes how long a connection check-out waited.
func (c *Collector) CheckOutDuration(address string, d time.Duration) {
	c.poolCheckOutDuration.WithLabelValues(address).Observe(d.Seconds())
}

// PoolCleared increments the clear counter for a server (spec.md §4.6
// rule 5's pool-clear-on-error path).
func (c *Collector) PoolCleared(address string) {
	c.poolCleared.WithLabelValues(address).Inc()
}

// CommandCompleted records a command's round-trip duration and, when kind
// is non-empty, counts a failure of that kind ("network" or "command").
func (c *Collector) CommandCompleted(command string, d time.Duration, kind string) {
	c.commandDuration.WithLabelValues(command).Observe(d.Seconds())
	if kind != "" {
		c.commandErrors.WithLabelValues(command, kind).Inc()
	}
}

// ServerSelectionCompleted records how long SelectServer took and whether
// it succeeded or timed out.
func (c *Collector) ServerSelectionCompleted(d time.Duration, timedOut bool) {
	outcome := "ok"
	if timedOut {
		outcome = "timeout"
		c.serverSelectionTimeouts.WithLabelValues().Inc()
	}
	c.serverSelectionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// HeartbeatCompleted records a monitor round trip's duration and outcome.
func (c *Collector) HeartbeatCompleted(address string, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.heartbeatDuration.WithLabelValues(address, outcome).Observe(d.Seconds())
}

// SetServerType records the current SDAM server type for address,
// clearing any previously reported type for that address first so stale
// rows don't linger after a type transition.
func (c *Collector) SetServerType(address, kind string) {
	c.serverType.DeletePartialMatch(prometheus.Labels{"address": address})
	c.serverType.WithLabelValues(address, kind).Set(1)
}

// RemoveServer deletes every metric row for a server that has left the
// topology (spec.md §4.6, replica-set membership changes).
func (c *Collector) RemoveServer(address string) {
	c.poolConnectionsActive.DeleteLabelValues(address)
	c.poolConnectionsIdle.DeleteLabelValues(address)
	c.poolCheckOutDuration.DeleteLabelValues(address)
	c.poolCleared.DeleteLabelValues(address)
	c.serverType.DeletePartialMatch(prometheus.Labels{"address": address})
	c.heartbeatDuration.DeletePartialMatch(prometheus.Labels{"address": address})
}
