package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrchestrationMetrics exposes counters/histograms for the therapy pipeline.
type OrchestrationMetrics struct {
	requestsTotal          *prometheus.CounterVec
	crisisDetections       *prometheus.CounterVec
	techniqueSelected      *prometheus.CounterVec
	llmLatency             *prometheus.HistogramVec
	telemetryWriteFailures *prometheus.CounterVec
}

func NewOrchestrationMetrics(reg prometheus.Registerer) *OrchestrationMetrics {
	m := &OrchestrationMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "orchestration",
			Name:      "requests_total",
			Help:      "Total therapy responses processed",
		}, []string{"status"}),
		crisisDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "orchestration",
			Name:      "crisis_detections_total",
			Help:      "Crisis assessments that detected risk",
		}, []string{"urgency"}),
		techniqueSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "orchestration",
			Name:      "technique_selected_total",
			Help:      "Therapeutic techniques selected per response",
		}, []string{"technique"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "therapy",
			Subsystem: "orchestration",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM completions",
			// Focus on sub-10s buckets with a few higher ones for visibility.
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
		}, []string{"provider", "model", "status"}),
		telemetryWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "orchestration",
			Name:      "telemetry_write_failures_total",
			Help:      "Best-effort telemetry writes that failed",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.crisisDetections,
		m.techniqueSelected,
		m.llmLatency,
		m.telemetryWriteFailures,
	)
	return m
}

func (m *OrchestrationMetrics) ObserveRequest(status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(status).Inc()
}

func (m *OrchestrationMetrics) ObserveCrisisDetection(urgency string) {
	if m == nil {
		return
	}
	m.crisisDetections.WithLabelValues(urgency).Inc()
}

func (m *OrchestrationMetrics) ObserveTechnique(technique string) {
	if m == nil {
		return
	}
	m.techniqueSelected.WithLabelValues(technique).Inc()
}

func (m *OrchestrationMetrics) ObserveLLMLatency(provider, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(provider, model, status).Observe(seconds)
}

func (m *OrchestrationMetrics) ObserveTelemetryFailure(kind string) {
	if m == nil {
		return
	}
	m.telemetryWriteFailures.WithLabelValues(kind).Inc()
}
