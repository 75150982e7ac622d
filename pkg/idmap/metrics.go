package idmap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/nfscore/pkg/metrics"
)

// Metrics holds the identity cache Prometheus collectors. All methods are
// nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// LookupsTotal counts lookups by kind and result.
	// Result values: "hit", "miss", "default", "numeric".
	LookupsTotal *prometheus.CounterVec

	// UpcallsTotal counts resolver calls by upcall kind and result.
	// Result values: "ok", "not_found", "error".
	UpcallsTotal *prometheus.CounterVec

	// UpcallDuration observes resolver latency.
	UpcallDuration *prometheus.HistogramVec

	// UpcallsInFlight tracks resolver calls currently running.
	UpcallsInFlight prometheus.Gauge

	// Entries tracks cached entries by kind.
	Entries *prometheus.GaugeVec

	// EvictionsTotal counts removed entries by reason.
	// Reason values: "expired", "capacity", "replaced", "admin".
	EvictionsTotal *prometheus.CounterVec

	// ReloadsTotal counts configuration reloads.
	ReloadsTotal prometheus.Counter
}

// NewMetrics creates the identity cache metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "lookups_total",
			Help:      "Identity lookups by kind and result",
		}, []string{"kind", "result"}),
		UpcallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "upcalls_total",
			Help:      "Resolver upcalls by kind and result",
		}, []string{"upcall", "result"}),
		UpcallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "upcall_duration_seconds",
			Help:      "Resolver upcall latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"upcall"}),
		UpcallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "upcalls_in_flight",
			Help:      "Resolver upcalls currently running",
		}),
		Entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "entries",
			Help:      "Cached identity entries by kind",
		}, []string{"kind"}),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "evictions_total",
			Help:      "Entries removed from the identity cache by reason",
		}, []string{"reason"}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "idmap",
			Name:      "reloads_total",
			Help:      "Identity configuration reloads",
		}),
	}

	if reg != nil {
		m.LookupsTotal = metrics.RegisterOrReuse(reg, m.LookupsTotal).(*prometheus.CounterVec)
		m.UpcallsTotal = metrics.RegisterOrReuse(reg, m.UpcallsTotal).(*prometheus.CounterVec)
		m.UpcallDuration = metrics.RegisterOrReuse(reg, m.UpcallDuration).(*prometheus.HistogramVec)
		m.UpcallsInFlight = metrics.RegisterOrReuse(reg, m.UpcallsInFlight).(prometheus.Gauge)
		m.Entries = metrics.RegisterOrReuse(reg, m.Entries).(*prometheus.GaugeVec)
		m.EvictionsTotal = metrics.RegisterOrReuse(reg, m.EvictionsTotal).(*prometheus.CounterVec)
		m.ReloadsTotal = metrics.RegisterOrReuse(reg, m.ReloadsTotal).(prometheus.Counter)
	}

	return m
}

func (m *Metrics) recordLookup(kind Kind, result string) {
	if m == nil {
		return
	}
	m.LookupsTotal.WithLabelValues(kind.String(), result).Inc()
}

func (m *Metrics) upcallStarted() {
	if m == nil {
		return
	}
	m.UpcallsInFlight.Inc()
}

func (m *Metrics) upcallDone(kind UpcallKind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpcallsInFlight.Dec()
	m.UpcallsTotal.WithLabelValues(kind.String(), result).Inc()
	m.UpcallDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *Metrics) setEntries(kind Kind, n int64) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(kind.String()).Set(float64(n))
}

func (m *Metrics) recordEvictions(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) recordReload() {
	if m == nil {
		return
	}
	m.ReloadsTotal.Inc()
}
