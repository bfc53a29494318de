// Package metrics exposes section pipeline counters to Prometheus.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/dgallion1/sectiongen/internal/llm"
)

const namespace = "sectiongen"

// Recorder records pipeline events. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	attempts        *prom.CounterVec
	failures        *prom.CounterVec
	sections        *prom.CounterVec
	sectionDuration prom.Histogram
	inFlight        prom.Gauge
	phase           *prom.GaugeVec
}

// NewRecorder constructs and registers the collectors on reg.
func NewRecorder(reg prom.Registerer) *Recorder {
	r := &Recorder{
		attempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by outcome",
		}, []string{"outcome"}),
		failures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Failed generation attempts by failure class",
		}, []string{"class"}),
		sections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "sections_total",
			Help:      "Sections finished by result (success, fallback, skipped)",
		}, []string{"result"}),
		sectionDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "section_duration_seconds",
			Help:      "Wall time spent on one section including retries",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "sections_in_flight",
			Help:      "Sections currently being generated",
		}),
		phase: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_phase",
			Help:      "1 for the phase the pipeline is in, 0 otherwise",
		}, []string{"phase"}),
	}
	// Every class reports from the start, so rate() works on the first failure.
	for _, c := range llm.Classes {
		r.failures.WithLabelValues(string(c))
	}
	reg.MustRegister(r.attempts, r.failures, r.sections, r.sectionDuration, r.inFlight, r.phase)
	return r
}

// Attempt counts one generation attempt. class is empty on success.
func (r *Recorder) Attempt(class string) {
	if r == nil {
		return
	}
	if class == "" {
		r.attempts.WithLabelValues("success").Inc()
		return
	}
	r.attempts.WithLabelValues("failure").Inc()
	r.failures.WithLabelValues(class).Inc()
}

// SectionStarted marks a section as in flight.
func (r *Recorder) SectionStarted() {
	if r == nil {
		return
	}
	r.inFlight.Inc()
}

// SectionFinished records a section's final result and duration.
func (r *Recorder) SectionFinished(success bool, d time.Duration) {
	if r == nil {
		return
	}
	r.inFlight.Dec()
	result := "success"
	if !success {
		result = "fallback"
	}
	r.sections.WithLabelValues(result).Inc()
	r.sectionDuration.Observe(d.Seconds())
}

// SectionAbandoned releases an in-flight section interrupted before it
// produced a result.
func (r *Recorder) SectionAbandoned() {
	if r == nil {
		return
	}
	r.inFlight.Dec()
}

// SectionSkipped counts a section already completed by an earlier run.
func (r *Recorder) SectionSkipped() {
	if r == nil {
		return
	}
	r.sections.WithLabelValues("skipped").Inc()
}

// Phase sets the current pipeline phase.
func (r *Recorder) Phase(current string, all []string) {
	if r == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		r.phase.WithLabelValues(p).Set(v)
	}
}
