package state

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/nfscore/pkg/metrics"
)

// DestroyReason says why a session left the table. It is the "reason"
// label of the teardown metrics and log lines.
type DestroyReason string

const (
	ReasonClientRequest DestroyReason = "client_request"
	ReasonAdminEvict    DestroyReason = "admin_evict"
	ReasonShutdown      DestroyReason = "shutdown"

	// ReasonSeqMisordered is a teardown after a request broke slot
	// ordering and Config.DestroyOnMisordered is set.
	ReasonSeqMisordered DestroyReason = "seq_misordered"
)

var destroyReasons = []DestroyReason{
	ReasonClientRequest,
	ReasonAdminEvict,
	ReasonShutdown,
	ReasonSeqMisordered,
}

// forced reports whether the reason tears a session down with requests
// still in flight.
func (r DestroyReason) forced() bool {
	return r != ReasonClientRequest
}

// ============================================================================
// Prometheus Metrics for Sessions
// ============================================================================

// SessionMetrics tracks the session table: how many sessions exist, how
// they were sized, and how and after how long they went away.
// Calls on a nil *SessionMetrics are no-ops.
type SessionMetrics struct {
	CreatedTotal prometheus.Counter

	// DestroyedTotal and LifetimeSeconds are labeled by DestroyReason.
	// Every reason is pre-populated so absent teardowns export as zero.
	DestroyedTotal  *prometheus.CounterVec
	LifetimeSeconds *prometheus.HistogramVec

	ActiveGauge prometheus.Gauge

	// SlotsHistogram observes the fore channel size granted at creation.
	SlotsHistogram prometheus.Histogram

	// ReleasedCacheBytes counts replay cache bytes dropped with a session.
	ReleasedCacheBytes prometheus.Counter
}

// NewSessionMetrics creates session metrics and registers them with reg.
// A nil reg leaves them unregistered, which tests rely on.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		CreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		}),
		DestroyedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "destroyed_total",
			Help:      "Total number of sessions destroyed, by reason",
		}, []string{"reason"}),
		LifetimeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "lifetime_seconds",
			Help:      "Session lifetime at teardown, by reason",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~73h
		}, []string{"reason"}),
		ActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of active sessions",
		}),
		SlotsHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "fore_channel_slots",
			Help:      "Fore channel slots granted per session",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 7), // 1 to 64
		}),
		ReleasedCacheBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sessions",
			Name:      "released_cache_bytes_total",
			Help:      "Replay cache bytes released when sessions were destroyed",
		}),
	}

	if reg != nil {
		m.CreatedTotal = metrics.RegisterOrReuse(reg, m.CreatedTotal).(prometheus.Counter)
		m.DestroyedTotal = metrics.RegisterOrReuse(reg, m.DestroyedTotal).(*prometheus.CounterVec)
		m.LifetimeSeconds = metrics.RegisterOrReuse(reg, m.LifetimeSeconds).(*prometheus.HistogramVec)
		m.ActiveGauge = metrics.RegisterOrReuse(reg, m.ActiveGauge).(prometheus.Gauge)
		m.SlotsHistogram = metrics.RegisterOrReuse(reg, m.SlotsHistogram).(prometheus.Histogram)
		m.ReleasedCacheBytes = metrics.RegisterOrReuse(reg, m.ReleasedCacheBytes).(prometheus.Counter)
	}

	for _, r := range destroyReasons {
		m.DestroyedTotal.WithLabelValues(string(r))
		m.LifetimeSeconds.WithLabelValues(string(r))
	}
	return m
}

func (m *SessionMetrics) recordCreated(slots uint32) {
	if m == nil {
		return
	}
	m.CreatedTotal.Inc()
	m.ActiveGauge.Inc()
	m.SlotsHistogram.Observe(float64(slots))
}

func (m *SessionMetrics) recordDestroyed(reason DestroyReason, lifetime time.Duration, cachedBytes int) {
	if m == nil {
		return
	}
	m.DestroyedTotal.WithLabelValues(string(reason)).Inc()
	m.LifetimeSeconds.WithLabelValues(string(reason)).Observe(lifetime.Seconds())
	m.ActiveGauge.Dec()
	if cachedBytes > 0 {
		m.ReleasedCacheBytes.Add(float64(cachedBytes))
	}
}
