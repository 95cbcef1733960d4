package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrchestrationMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrchestrationMetrics(reg)
	require.NotNil(t, m)

	m.ObserveRequest("success")
	m.ObserveRequest("fallback")
	m.ObserveCrisisDetection("immediate")
	m.ObserveTechnique("breathing_exercises")
	m.ObserveLLMLatency("bedrock", "claude", "success", 1.2)
	m.ObserveTelemetryFailure("decision_record")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *OrchestrationMetrics
	m.ObserveRequest("success")
	m.ObserveCrisisDetection("high")
	m.ObserveTechnique("active_listening")
	m.ObserveLLMLatency("gemini", "flash", "error", 0.5)
	m.ObserveTelemetryFailure("quality_metrics")
}
