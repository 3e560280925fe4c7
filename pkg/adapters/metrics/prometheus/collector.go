package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	sessionsTriggered *prometheus.CounterVec
	sessionsFinished  *prometheus.CounterVec
	sessionDuration   prometheus.Histogram
	nodesExecuted     *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec
	turnsExecuted     *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	llmLatency        *prometheus.HistogramVec
	eventsEmitted     *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	activeExecutions  prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		sessionsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_sessions_triggered_total",
				Help: "Total number of sessions triggered",
			},
			[]string{"status"},
		),
		sessionsFinished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_sessions_finished_total",
				Help: "Total number of sessions reaching a terminal status",
			},
			[]string{"status"},
		),
		sessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strand_session_duration_seconds",
				Help:    "Session wall-clock duration in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
			},
		),
		nodesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_nodes_executed_total",
				Help: "Total number of node executions",
			},
			[]string{"node_type", "status"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"node_type"},
		),
		turnsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_turns_total",
				Help: "Total number of model turns executed",
			},
			[]string{"node_type"},
		),
		toolCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		toolDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_call_duration_seconds",
				Help:    "Tool call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		llmLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_llm_stream_duration_seconds",
				Help:    "Model streaming call duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		eventsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_events_emitted_total",
				Help: "Total number of events emitted on the bus",
			},
			[]string{"type"},
		),
		eventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_events_dropped_total",
				Help: "Total number of telemetry events dropped on full queues",
			},
			[]string{"type"},
		),
		escalations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_escalations_total",
				Help: "Total number of escalation tickets raised",
			},
			[]string{"severity"},
		),
		activeExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "strand_active_executions",
				Help: "Number of currently running executions",
			},
		),
	}
}

// RecordSessionTriggered records a new session start
func (c *Collector) RecordSessionTriggered(status string) {
	c.sessionsTriggered.WithLabelValues(status).Inc()
	c.activeExecutions.Inc()
}

// RecordSessionFinished records a session reaching a terminal status
func (c *Collector) RecordSessionFinished(status string, duration time.Duration) {
	c.sessionsFinished.WithLabelValues(status).Inc()
	c.sessionDuration.Observe(duration.Seconds())
	c.activeExecutions.Dec()
}

// RecordNodeExecuted records one node execution
func (c *Collector) RecordNodeExecuted(nodeType, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(nodeType, status).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordTurn records one model turn
func (c *Collector) RecordTurn(nodeType string) {
	c.turnsExecuted.WithLabelValues(nodeType).Inc()
}

// RecordToolCall records one tool call
func (c *Collector) RecordToolCall(tool string, isError bool, duration time.Duration) {
	status := "ok"
	if isError {
		status = "error"
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLLMLatency records the duration of one streaming model call
func (c *Collector) RecordLLMLatency(model string, duration time.Duration) {
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordEventEmitted records an event published on the bus
func (c *Collector) RecordEventEmitted(eventType string) {
	c.eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records a telemetry event dropped on a full queue
func (c *Collector) RecordEventDropped(eventType string) {
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

// RecordEscalation records an escalation ticket raised
func (c *Collector) RecordEscalation(severity string) {
	c.escalations.WithLabelValues(severity).Inc()
}
