// Package observability provides structured logging, Prometheus metrics, an
// in-memory event timeline, and a diagnostic event bus for the agent runtime.
// Distributed tracing lives in the sibling internal/trace package.
//
// # Overview
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs (zerolog) with sensitive data redaction
//  3. Events - A per-run event timeline for debugging and replaying turns
//  4. Diagnostics - A typed pub-sub bus for provider usage, job, and session
//     lifecycle events
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - Provider request latency, token usage, and estimated cost
//   - Tool execution counts and latencies, including async job dispatch
//   - Agent turn outcomes and stream-reducer event counts
//   - Conversation-repair actions and sub-agent delegation outcomes
//   - Active session counts and session duration
//   - sqlite session-catalog query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... make provider request ...
//	metrics.RecordProviderRequest("anthropic", "claude-opus-4", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	start = time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("read_file", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on zerolog, with:
//   - Automatic request/session/run ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, a console writer for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddRunID(ctx, runID)
//
//	logger.Info(ctx, "dispatching tool call",
//	    "tool_name", call.Name,
//	    "call_id", call.ID,
//	)
//
//	logger.Error(ctx, "provider request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Context Propagation
//
// Correlation IDs flow through context and automatically appear in both logs
// and recorded events:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddRunID(ctx, "run-789")
//	ctx = observability.AddAgentID(ctx, "subagent-abc")
//
//	logger.Info(ctx, "turn started") // Includes session_id, run_id, etc.
//
// # Event Timeline
//
// EventRecorder persists a per-run timeline of tool calls, provider requests,
// and errors, queryable for debugging or replay:
//
//	store := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(store, logger)
//
//	recorder.RecordRunStart(ctx, runID, map[string]interface{}{"input": prompt})
//	recorder.RecordToolStart(ctx, "read_file", args)
//	recorder.RecordToolEnd(ctx, "read_file", elapsed, result, nil)
//
//	events, _ := store.GetByRunID(runID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(events)))
//
// # Diagnostics
//
// The diagnostic bus broadcasts typed events (model usage, async job
// dispatch/completion, turn queue depth, session state/stuck detection,
// supervised restart attempts) to any registered listener, independent of the
// event timeline and metrics:
//
//	unsubscribe := observability.OnDiagnosticEvent(func(e observability.DiagnosticEventPayload) {
//	    log.Printf("diagnostic: %s", e.EventType())
//	})
//	defer unsubscribe()
//
//	observability.SetDiagnosticsEnabled(true)
//	observability.EmitJobDispatched(&observability.JobDispatchedEvent{
//	    SessionID: sessionID,
//	    ToolName:  "long_build",
//	})
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
//   - Metrics can be verified using prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - The event store and diagnostic bus are plain in-memory structures
package observability
