package state

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/nfscore/pkg/metrics"
)

// ============================================================================
// Prometheus Metrics for SEQUENCE Processing
// ============================================================================

// SequenceMetrics tracks slot admissions.
// All methods are nil-safe: calls on a nil *SequenceMetrics are no-ops.
type SequenceMetrics struct {
	// SequenceTotal counts SEQUENCE headers processed, labeled by result
	// ("new", "retry").
	SequenceTotal *prometheus.CounterVec

	// ErrorsTotal counts refused SEQUENCE headers by error type.
	// Label values: "bad_session", "bad_slot", "delay", "seq_misordered",
	// "retry_uncached", "other".
	ErrorsTotal *prometheus.CounterVec

	// ReplayHitsTotal counts requests answered from the replay cache.
	ReplayHitsTotal prometheus.Counter

	// SlotsInUse tracks slots currently executing across all sessions.
	SlotsInUse prometheus.Gauge

	// ReplayCacheBytes tracks bytes held by cached replies across all sessions.
	ReplayCacheBytes prometheus.Gauge
}

// NewSequenceMetrics creates SEQUENCE metrics and registers them with reg.
// If reg is nil, metrics are created but not registered (useful for testing).
func NewSequenceMetrics(reg prometheus.Registerer) *SequenceMetrics {
	m := &SequenceMetrics{
		SequenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sequence",
			Name:      "requests_total",
			Help:      "Total number of SEQUENCE headers admitted, by result",
		}, []string{"result"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sequence",
			Name:      "errors_total",
			Help:      "Total number of SEQUENCE headers refused, by error type",
		}, []string{"error_type"}),
		ReplayHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfscore",
			Subsystem: "sequence",
			Name:      "replay_hits_total",
			Help:      "Total number of requests answered from the replay cache",
		}),
		SlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nfscore",
			Subsystem: "sequence",
			Name:      "slots_in_use",
			Help:      "Number of slots with a request in progress",
		}),
		ReplayCacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nfscore",
			Subsystem: "sequence",
			Name:      "replay_cache_bytes",
			Help:      "Bytes held by cached replies across all sessions",
		}),
	}

	if reg != nil {
		m.SequenceTotal = metrics.RegisterOrReuse(reg, m.SequenceTotal).(*prometheus.CounterVec)
		m.ErrorsTotal = metrics.RegisterOrReuse(reg, m.ErrorsTotal).(*prometheus.CounterVec)
		m.ReplayHitsTotal = metrics.RegisterOrReuse(reg, m.ReplayHitsTotal).(prometheus.Counter)
		m.SlotsInUse = metrics.RegisterOrReuse(reg, m.SlotsInUse).(prometheus.Gauge)
		m.ReplayCacheBytes = metrics.RegisterOrReuse(reg, m.ReplayCacheBytes).(prometheus.Gauge)
	}

	return m
}

func (m *SequenceMetrics) recordAdmitted(r SequenceResult) {
	if m == nil {
		return
	}
	m.SequenceTotal.WithLabelValues(r.String()).Inc()
	m.SlotsInUse.Inc()
	if r == SeqRetry {
		m.ReplayHitsTotal.Inc()
	}
}

func (m *SequenceMetrics) recordCompleted(cacheDelta int) {
	if m == nil {
		return
	}
	m.SlotsInUse.Dec()
	m.ReplayCacheBytes.Add(float64(cacheDelta))
}

func (m *SequenceMetrics) recordError(errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *SequenceMetrics) releaseCache(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReplayCacheBytes.Sub(float64(n))
}
