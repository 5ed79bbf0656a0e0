// Package metrics exposes the Prometheus instrumentation for ssndb's MVCC
// core, in the observer style of hupe1980/vecgo's examples/observability
// package: a small struct of pre-registered collectors, created once and
// threaded through the components that update them.
//
// Every method is safe to call on a nil *Registry (the engine's default),
// so the core never pays for metrics it hasn't been asked to collect.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every Prometheus collector ssndb updates.
type Registry struct {
	reg *prometheus.Registry

	CommitsTotal   prometheus.Counter
	AbortsTotal    *prometheus.CounterVec // label: reason
	ActiveTxns     prometheus.Gauge
	ReclaimedTotal prometheus.Counter
	EpochGauge     prometheus.Gauge
	SSNExclusions  prometheus.Counter
}

// New creates a Registry backed by its own prometheus.Registry (never the
// global default, so concurrent test runs and multiple engines in one
// process never collide on collector names).
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssndb_commits_total",
			Help: "Total committed transactions.",
		}),
		AbortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssndb_aborts_total",
			Help: "Total aborted transactions by reason.",
		}, []string{"reason"}),
		ActiveTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssndb_active_txns",
			Help: "Number of currently live transactions.",
		}),
		ReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssndb_reclaimed_versions_total",
			Help: "Total versions freed by epoch reclamation.",
		}),
		EpochGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ssndb_epoch",
			Help: "Current global reclamation epoch.",
		}),
		SSNExclusions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssndb_ssn_exclusion_failures_total",
			Help: "Total commits rejected by the SSN exclusion check.",
		}),
	}
	reg.MustRegister(
		r.CommitsTotal, r.AbortsTotal, r.ActiveTxns, r.ReclaimedTotal,
		r.EpochGauge, r.SSNExclusions,
	)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) incAbort(reason string) {
	if r == nil {
		return
	}
	r.AbortsTotal.WithLabelValues(reason).Inc()
}

// ObserveCommit records a committed transaction.
func (r *Registry) ObserveCommit() {
	if r == nil {
		return
	}
	r.CommitsTotal.Inc()
}

// ObserveAbort records an aborted transaction with its reason string.
func (r *Registry) ObserveAbort(reason string) { r.incAbort(reason) }

// SetActiveTxns sets the live-transaction gauge.
func (r *Registry) SetActiveTxns(n int) {
	if r == nil {
		return
	}
	r.ActiveTxns.Set(float64(n))
}

// AddReclaimed adds n to the reclaimed-versions counter.
func (r *Registry) AddReclaimed(n int) {
	if r == nil || n == 0 {
		return
	}
	r.ReclaimedTotal.Add(float64(n))
}

// SetEpoch sets the current-epoch gauge.
func (r *Registry) SetEpoch(epoch uint64) {
	if r == nil {
		return
	}
	r.EpochGauge.Set(float64(epoch))
}

// ObserveSSNExclusion records an SSN exclusion-check failure.
func (r *Registry) ObserveSSNExclusion() {
	if r == nil {
		return
	}
	r.SSNExclusions.Inc()
}
