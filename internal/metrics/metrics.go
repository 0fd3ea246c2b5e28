// Package metrics exposes Prometheus counters and gauges for the device
// pool, WDA client, and lifecycle manager, in the promauto style
// SnapdragonPartners-maestro's LLM recorder uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every counter/gauge this server exposes. A single
// instance is constructed at process start and passed to each component
// that needs to record against it.
type Registry struct {
	PoolClaimsTotal    *prometheus.CounterVec
	PoolReleasesTotal  *prometheus.CounterVec
	PoolActiveDevices  prometheus.Gauge
	PoolEnsureBoots    prometheus.Counter

	WDASessionsTotal      *prometheus.CounterVec
	WDASessionDuration    prometheus.Histogram
	WDATransportErrors    *prometheus.CounterVec
	WDASkeletonFallbacks  prometheus.Counter
	WDAIdleReaperSweeps   prometheus.Counter
	WDAIdleConnectionsCut prometheus.Counter

	LifecycleSetupsTotal *prometheus.CounterVec
	LifecycleBuildsTotal *prometheus.CounterVec
	LifecycleStartsTotal *prometheus.CounterVec
}

// New registers every metric against the default Prometheus registry.
func New() *Registry {
	return &Registry{
		PoolClaimsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_pool_claims_total",
			Help: "Total number of device pool claim attempts by outcome",
		}, []string{"outcome"}),
		PoolReleasesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_pool_releases_total",
			Help: "Total number of device pool release attempts by outcome",
		}, []string{"outcome"}),
		PoolActiveDevices: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quern_pool_claimed_devices",
			Help: "Number of devices currently leased to a session",
		}),
		PoolEnsureBoots: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quern_pool_ensure_boots_total",
			Help: "Total number of simulators booted to satisfy an Ensure call",
		}),

		WDASessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_wda_sessions_total",
			Help: "Total number of WDA sessions created, by UDID",
		}, []string{"udid"}),
		WDASessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "quern_wda_session_duration_seconds",
			Help:    "Lifetime of a WDA connection from creation to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		WDATransportErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_wda_transport_errors_total",
			Help: "Total number of WDA transport errors, by UDID",
		}, []string{"udid"}),
		WDASkeletonFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quern_wda_skeleton_fallbacks_total",
			Help: "Total number of times the skeleton engine ran in place of /source",
		}),
		WDAIdleReaperSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quern_wda_idle_reaper_sweeps_total",
			Help: "Total number of idle-reaper sweep iterations",
		}),
		WDAIdleConnectionsCut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quern_wda_idle_connections_closed_total",
			Help: "Total number of connections closed by the idle reaper",
		}),

		LifecycleSetupsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_lifecycle_setups_total",
			Help: "Total number of WDA Setup calls by outcome",
		}, []string{"outcome"}),
		LifecycleBuildsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_lifecycle_builds_total",
			Help: "Total number of WDA builds by outcome",
		}, []string{"outcome"}),
		LifecycleStartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "quern_lifecycle_starts_total",
			Help: "Total number of WDA driver starts by outcome",
		}, []string{"outcome"}),
	}
}
