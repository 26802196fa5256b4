// Package metrics exposes review workflow counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/taskreview/internal/review"
)

const namespace = "taskreview"

// Recorder implements review.Recorder on its own registry.
type Recorder struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	claimConflicts prometheus.Counter
	claimsExpired  prometheus.Counter
	claimDuration  prometheus.Histogram
}

var _ review.Recorder = (*Recorder)(nil)

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed review and meta-review transitions.",
		}, []string{"kind", "status"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_conflicts_total",
			Help:      "Operations rejected because another reviewer held the claim.",
		}),
		claimsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_expired_total",
			Help:      "Stale claims demoted by the sweeper.",
		}),
		claimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "claim_duration_seconds",
			Help:      "Time between claiming a task and recording a decision.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1800, 3600, 4 * 3600, 24 * 3600},
		}),
	}
	r.registry.MustRegister(
		r.transitions, r.claimConflicts, r.claimsExpired, r.claimDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Transition(kind, status string) {
	r.transitions.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) ClaimConflict() { r.claimConflicts.Inc() }

func (r *Recorder) ClaimsExpired(n int64) { r.claimsExpired.Add(float64(n)) }

func (r *Recorder) ClaimDuration(d time.Duration) {
	r.claimDuration.Observe(d.Seconds())
}

// Registry returns the registry the recorder's collectors live on.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
