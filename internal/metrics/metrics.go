// Package metrics registers the Prometheus instruments the gateway exposes
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API requests by endpoint and status code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vramgate",
		Name:      "requests_total",
		Help:      "API requests handled, by endpoint and status code.",
	}, []string{"endpoint", "status"})

	// SwitchesTotal counts model switch operations by outcome.
	SwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vramgate",
		Name:      "model_switches_total",
		Help:      "Model switch operations, by outcome.",
	}, []string{"outcome"})

	// ToolCallsExtracted counts tool-call envelopes recovered from backend
	// responses.
	ToolCallsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vramgate",
		Name:      "tool_calls_extracted_total",
		Help:      "Tool-call envelopes extracted from backend responses.",
	})

	// GPUAvailableGB reports the last sampled free device memory.
	GPUAvailableGB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vramgate",
		Name:      "gpu_available_gibibytes",
		Help:      "Free GPU memory from the most recent sample.",
	})

	// GPUUsedGB reports the last sampled used device memory.
	GPUUsedGB = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vramgate",
		Name:      "gpu_used_gibibytes",
		Help:      "Used GPU memory from the most recent sample.",
	})
)
