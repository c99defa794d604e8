package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

const namespace = "leadnurture"

// PipelineMetrics implements ports.PipelineObserver for the agent and reply
// pipeline. Both processes run it, so it is shared by the API and worker
// registries.
type PipelineMetrics struct {
	service string

	agentRunsTotal    *prometheus.CounterVec
	agentDuration     *prometheus.HistogramVec
	llmFallbacksTotal *prometheus.CounterVec
	replyActionsTotal *prometheus.CounterVec
	correlationTotal  *prometheus.CounterVec
	correlationErrors *prometheus.CounterVec
}

func newPipelineMetrics(service string) *PipelineMetrics {
	m := &PipelineMetrics{service: service}
	m.agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Total agent runs by tool and status.",
		},
		[]string{"service", "tool", "status"},
	)
	m.agentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_duration_seconds",
			Help:      "Agent run duration in seconds by tool.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service", "tool"},
	)
	m.llmFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Candidates skipped after a provider failure, by component and provider.",
		},
		[]string{"service", "component", "provider"},
	)
	m.replyActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reply",
			Name:      "actions_total",
			Help:      "Automated reply outcomes by action taken.",
		},
		[]string{"service", "action"},
	)
	m.correlationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "messages_total",
			Help:      "Inbound messages seen by the reply correlator, by outcome.",
		},
		[]string{"service", "outcome"},
	)
	m.correlationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "errors_total",
			Help:      "Errors reported by correlation runs.",
		},
		[]string{"service"},
	)
	return m
}

func (m *PipelineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.agentRunsTotal,
		m.agentDuration,
		m.llmFallbacksTotal,
		m.replyActionsTotal,
		m.correlationTotal,
		m.correlationErrors,
	}
}

func (m *PipelineMetrics) ObserveAgentRun(tool domain.ToolKind, failed bool, duration time.Duration) {
	label := string(tool)
	if label == "" {
		label = "unknown"
	}
	status := "success"
	if failed {
		status = "error"
	}
	m.agentRunsTotal.WithLabelValues(m.service, label, status).Inc()
	m.agentDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveLLMFallback(component, provider string) {
	if provider == "" {
		provider = "unknown"
	}
	m.llmFallbacksTotal.WithLabelValues(m.service, component, provider).Inc()
}

func (m *PipelineMetrics) ObserveReplyAction(action domain.ActionTaken) {
	m.replyActionsTotal.WithLabelValues(m.service, string(action)).Inc()
}

func (m *PipelineMetrics) ObserveCorrelation(report domain.CorrelationReport) {
	outcomes := []struct {
		name  string
		count int
	}{
		{name: "new_reply", count: report.NewReplies},
		{name: "skipped_no_reply_header", count: report.SkippedNoReplyHeader},
		{name: "skipped_no_match", count: report.SkippedNoMatch},
		{name: "skipped_duplicate", count: report.SkippedDuplicate},
	}
	for _, outcome := range outcomes {
		if outcome.count > 0 {
			m.correlationTotal.WithLabelValues(m.service, outcome.name).Add(float64(outcome.count))
		}
	}
	if len(report.Errors) > 0 {
		m.correlationErrors.WithLabelValues(m.service).Add(float64(len(report.Errors)))
	}
}
