package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records activity of the payment reconciliation loop.
type ReconcileMetrics struct {
	sweepDuration *prometheus.HistogramVec
	verifies      *prometheus.CounterVec
	activations   *prometheus.CounterVec
	fastMode      prometheus.Gauge
	pending       prometheus.Gauge
}

// NewReconcileMetrics registers reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconcile_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	verifies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_verify_total",
		Help: "Gateway verify calls by outcome.",
	}, []string{"outcome"})
	activations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_activation_total",
		Help: "Subscription activations by source.",
	}, []string{"source"})
	fastMode := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconcile_fast_mode",
		Help: "1 when the loop runs on the fast interval, 0 when idle.",
	})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconcile_pending_payments",
		Help: "Pending payments observed on the last sweep.",
	})
	reg.MustRegister(sweepDuration, verifies, activations, fastMode, pending)
	return &ReconcileMetrics{
		sweepDuration: sweepDuration,
		verifies:      verifies,
		activations:   activations,
		fastMode:      fastMode,
		pending:       pending,
	}
}

// ObserveSweep records one sweep.
func (m *ReconcileMetrics) ObserveSweep(mode string, duration time.Duration, pending int) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.pending.Set(float64(pending))
	if mode == "fast" {
		m.fastMode.Set(1)
	} else {
		m.fastMode.Set(0)
	}
}

// IncVerify counts one verify call by outcome (success/failure/indeterminate/error).
func (m *ReconcileMetrics) IncVerify(outcome string) {
	if m == nil || m.verifies == nil {
		return
	}
	m.verifies.WithLabelValues(outcome).Inc()
}

// IncActivation counts one successful activation by source.
func (m *ReconcileMetrics) IncActivation(source string) {
	if m == nil || m.activations == nil {
		return
	}
	m.activations.WithLabelValues(source).Inc()
}
