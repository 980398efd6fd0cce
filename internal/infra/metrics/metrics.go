// Package metrics exposes generation and blob store counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixelchat/internal/domain"
)

// Recorder implements usecase.GenerationMetrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	analysis *prometheus.CounterVec
}

// NewRecorder creates a Recorder with the Go runtime and process collectors
// registered alongside the pixelchat series.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchat_generation_attempts_total",
			Help: "Image generation attempts sent to the backend.",
		}, []string{"mode"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchat_generation_outcomes_total",
			Help: "Finished image requests by result and failure class.",
		}, []string{"mode", "result", "class"}),
		analysis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelchat_analysis_requests_total",
			Help: "Image analysis requests by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		r.attempts, r.outcomes, r.analysis,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveAttempt(mode domain.GenerationMode) {
	r.attempts.WithLabelValues(string(mode)).Inc()
}

func (r *Recorder) ObserveOutcome(mode domain.GenerationMode, outcome domain.GenerationOutcome) {
	result, class := "success", "none"
	if !outcome.Succeeded {
		result = "failure"
		if outcome.Class != domain.ClassNone {
			class = string(outcome.Class)
		}
	}
	r.outcomes.WithLabelValues(string(mode), result, class).Inc()
}

func (r *Recorder) ObserveAnalysis(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	r.analysis.WithLabelValues(result).Inc()
}

// TrackBlobBytes exports the blob store size as pixelchat_blob_bytes.
// It may be called once per Recorder.
func (r *Recorder) TrackBlobBytes(size func() int64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pixelchat_blob_bytes",
		Help: "Bytes currently held by the ephemeral image store.",
	}, func() float64 { return float64(size()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
