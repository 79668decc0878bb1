package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes, used as the "outcome" label.
const (
	OutcomeEnhanced  = "enhanced"
	OutcomeUnchanged = "unchanged"
	OutcomeFailOpen  = "fail_open"
	OutcomeMalformed = "malformed"
)

// Metrics records pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	applied  *prometheus.CounterVec
	warnings *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jenhance",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Class binaries processed, by outcome.",
			},
			[]string{"outcome"},
		),
		applied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jenhance",
				Subsystem: "pipeline",
				Name:      "applied_total",
				Help:      "Intents generated into output classes, by enhancer.",
			},
			[]string{"enhancer"},
		),
		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jenhance",
				Subsystem: "pipeline",
				Name:      "warnings_total",
				Help:      "Annotated elements skipped by an enhancer, by enhancer.",
			},
			[]string{"enhancer"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "jenhance",
				Subsystem: "pipeline",
				Name:      "run_duration_seconds",
				Help:      "Time to process one class binary.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.applied, m.warnings, m.duration)
	}
	return m
}

func (m *Metrics) observe(res *Result, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	for _, a := range res.Applied {
		m.applied.WithLabelValues(a.Enhancer).Inc()
	}
	for _, w := range res.Warnings {
		m.warnings.WithLabelValues(w.Enhancer).Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}
