package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Provider request performance, token usage, and estimated cost
//   - Tool execution counts and latencies, including async job dispatch
//   - FSM turn/state transitions and stream-reducer events
//   - Active session counts for capacity planning
//   - Sub-agent delegation outcomes
type Metrics struct {
	// ProviderRequestDuration measures provider API call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokensUsed *prometheus.CounterVec

	// ProviderCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	ProviderCostUSD *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per turn.
	// Labels: provider, model
	ContextWindowUsed *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// AsyncJobsQueued counts tool calls dispatched to the job store.
	// Labels: tool_name
	AsyncJobsQueued *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (fsm|provider|tool|session), error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking current active sessions.
	ActiveSessions prometheus.Gauge

	// SessionDuration measures session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// TurnCounter counts completed agent turns by outcome.
	// Labels: outcome (success|error|aborted)
	TurnCounter *prometheus.CounterVec

	// StreamEventCounter counts stream-reducer events by type.
	// Labels: event_type (text_delta|tool_call|tool_result|done|error)
	StreamEventCounter *prometheus.CounterVec

	// RepairCounter counts conversation-repair actions taken.
	// Labels: action (dropped_orphan|synthesized_result|truncated)
	RepairCounter *prometheus.CounterVec

	// SubagentDelegations counts sub-agent delegations by outcome.
	// Labels: capability, status (completed|failed|cancelled)
	SubagentDelegations *prometheus.CounterVec

	// DatabaseQueryDuration measures sqlite catalog query latency.
	// Labels: operation (select|insert|update|delete)
	DatabaseQueryDuration *prometheus.HistogramVec

	// RunAttempts counts supervised restart attempts by status.
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_provider_request_duration_seconds",
				Help:    "Duration of provider API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_requests_total",
				Help: "Total number of provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ProviderCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_provider_cost_usd_total",
				Help: "Estimated provider API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_context_window_tokens",
				Help:    "Context window tokens used per turn",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000, 200000},
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		AsyncJobsQueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_async_jobs_queued_total",
				Help: "Total number of tool calls dispatched to the job store",
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_sessions",
				Help: "Current number of active sessions",
			},
		),

		SessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentcore_session_duration_seconds",
				Help:    "Duration of sessions in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800},
			},
		),

		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_turns_total",
				Help: "Total number of completed agent turns by outcome",
			},
			[]string{"outcome"},
		),

		StreamEventCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_stream_events_total",
				Help: "Total number of stream-reducer events by type",
			},
			[]string{"event_type"},
		),

		RepairCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_repair_actions_total",
				Help: "Total number of conversation-repair actions taken on load",
			},
			[]string{"action"},
		),

		SubagentDelegations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_subagent_delegations_total",
				Help: "Total number of sub-agent delegations by capability and outcome",
			},
			[]string{"capability", "status"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_database_query_duration_seconds",
				Help:    "Duration of sqlite session-catalog queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_run_attempts_total",
				Help: "Total number of supervised restart attempts by status",
			},
			[]string{"status"},
		),
	}
}

// RecordProviderRequest records metrics for a provider API request.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a synchronous tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordAsyncJobQueued records a tool call handed off to the job store.
func (m *Metrics) RecordAsyncJobQueued(toolName string) {
	m.AsyncJobsQueued.WithLabelValues(toolName).Inc()
}

// RecordError increments the error counter for a given component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records session duration.
func (m *Metrics) SessionEnded(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordTurn records a completed FSM turn by outcome.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
}

// RecordStreamEvent records a stream-reducer event by type.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEventCounter.WithLabelValues(eventType).Inc()
}

// RecordRepairAction records a conversation-repair action taken while loading a session.
func (m *Metrics) RecordRepairAction(action string) {
	m.RepairCounter.WithLabelValues(action).Inc()
}

// RecordSubagentDelegation records a completed sub-agent delegation.
func (m *Metrics) RecordSubagentDelegation(capability, status string) {
	m.SubagentDelegations.WithLabelValues(capability, status).Inc()
}

// RecordProviderCost records estimated API cost.
func (m *Metrics) RecordProviderCost(provider, model string, costUSD float64) {
	m.ProviderCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization for a turn.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordDatabaseQuery records metrics for a sqlite session-catalog query.
func (m *Metrics) RecordDatabaseQuery(operation string, durationSeconds float64) {
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordRunAttempt records a supervised restart attempt.
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}
