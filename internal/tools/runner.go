package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencoreharness/agentcore/internal/approval"
	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/jobs"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/tools/schema"
)

// Runner drives one batch of tool calls to completion: strictly
// sequentially, so a steering prompt can be drained between calls and so
// each result is final before the next call might depend on it.
//
// Grounded on haasonsaas-nexus's internal/agent/tool_exec.go ToolExecutor,
// whose per-call goroutine + timeout + panic recovery is retained here;
// the teacher's Concurrency knob is dropped because the specification
// requires sequential dispatch within a batch (§4.5), not parallel. The
// teacher's internal/agent/tool_registry.go RequireApproval/AsyncTools
// pattern-matching is generalized into the Approval and Jobs hooks below
// instead of being duplicated per call site.
type Runner struct {
	registry *Registry
	bus      *eventbus.Bus

	// Approval is an optional synchronous gate consulted before Execute.
	// Nil means no tool ever requires approval (inert by default).
	Approval *approval.Checker

	// Validator is an optional JSON Schema validator run against a call's
	// arguments before Execute. Nil skips validation.
	Validator *schema.Validator

	// Jobs, when non-nil, is used to run tools tagged TagAsync as a
	// tracked background job instead of blocking this dispatch loop.
	Jobs jobs.Store
}

// NewRunner builds a Runner dispatching against registry and broadcasting
// lifecycle events on bus.
func NewRunner(registry *Registry, bus *eventbus.Bus) *Runner {
	return &Runner{registry: registry, bus: bus}
}

// Batch is the outcome of draining one tool-call dispatch loop.
type Batch struct {
	// Results holds a tool_result message per call actually dispatched,
	// in call order. The caller is responsible for appending these to
	// the Session.
	Results []message.Message

	// SteeringPrompts is non-empty when pending user prompts were
	// drained mid-batch (§4.5 step 3a): dispatch stopped early and the
	// caller should inject these as user messages and resume running.
	SteeringPrompts []string

	// Aborted is true when the context was cancelled mid-dispatch. The
	// caller must repair any now-orphaned tool calls (§4.7) before the
	// session is used again.
	Aborted bool
}

// DrainPending returns any steering prompts waiting in the session's
// mailbox, consuming them. A nil DrainPending means the caller has no
// steering mechanism and the batch always runs to completion.
type DrainPending func() []string

// Run dispatches calls one at a time against tc, publishing
// tool_execution_start/tool_execution_end on sessionID's topic for each.
func (r *Runner) Run(ctx context.Context, sessionID string, calls []message.ToolCall, tc Context, drain DrainPending) Batch {
	var batch Batch
	remaining := calls

	for len(remaining) > 0 {
		if drain != nil {
			if pending := drain(); len(pending) > 0 {
				batch.SteeringPrompts = pending
				return batch
			}
		}

		call := remaining[0]
		remaining = remaining[1:]
		callCtx := tc
		callCtx.CallID = call.CallID

		tool, ok := r.registry.Get(call.Name)
		if !ok {
			batch.Results = append(batch.Results, toolResultMessage(call, "Tool not found", true))
			continue
		}

		if r.Validator != nil {
			if err := r.Validator.Validate(call.Name, tool.Parameters(), call.Arguments); err != nil {
				batch.Results = append(batch.Results, toolResultMessage(call, err.Error(), true))
				continue
			}
		}

		if r.Approval != nil {
			decision, err := r.Approval.Check(ctx, approval.Request{
				SessionID: sessionID,
				CallID:    call.CallID,
				ToolName:  call.Name,
				Args:      call.Arguments,
			})
			if decision != approval.Allow {
				reason := "tool call denied by approval policy"
				if err != nil {
					reason = err.Error()
				}
				batch.Results = append(batch.Results, toolResultMessage(call, reason, true))
				continue
			}
		}

		r.publish(sessionID, message.AgentEvent{
			Type:   message.EventToolExecStart,
			Tool:   call.Name,
			CallID: call.CallID,
			Args:   call.Arguments,
			Meta:   metaOf(tool, call.Arguments),
		})

		if r.Jobs != nil && HasTag(tool, TagAsync) {
			ack := r.dispatchJob(sessionID, tool, call, callCtx)
			batch.Results = append(batch.Results, toolResultMessage(call, ack, false))
			r.publish(sessionID, message.AgentEvent{
				Type:   message.EventToolExecEnd,
				Tool:   call.Name,
				CallID: call.CallID,
				Result: ack,
			})
			continue
		}

		output, err := runTask(ctx, tool, call.Arguments, callCtx)

		isError := err != nil
		result := output
		if isError {
			result = err.Error()
		}
		batch.Results = append(batch.Results, toolResultMessage(call, result, isError))

		r.publish(sessionID, message.AgentEvent{
			Type:   message.EventToolExecEnd,
			Tool:   call.Name,
			CallID: call.CallID,
			Result: result,
		})

		if ctx.Err() != nil {
			batch.Aborted = true
			return batch
		}
	}

	return batch
}

// dispatchJob starts tool's execution in the background tracked by r.Jobs
// and returns immediately with an acknowledgement referencing the job ID,
// instead of blocking this dispatch loop until the tool finishes.
func (r *Runner) dispatchJob(sessionID string, tool Tool, call message.ToolCall, tc Context) string {
	id := uuid.NewString()
	jobCtx, cancel := context.WithCancel(context.Background())

	job := &jobs.Job{
		ID:        id,
		SessionID: sessionID,
		ToolName:  call.Name,
		CallID:    call.CallID,
		Status:    jobs.StatusRunning,
		CreatedAt: time.Now(),
		StartedAt: time.Now(),
	}
	_ = r.Jobs.Create(jobCtx, job)
	r.Jobs.SetCancelFunc(id, cancel)

	go func() {
		defer cancel()
		out, err := runTask(jobCtx, tool, call.Arguments, tc)
		job.FinishedAt = time.Now()
		if err != nil {
			job.Status = jobs.StatusFailed
			job.Result = err.Error()
			job.IsError = true
		} else {
			job.Status = jobs.StatusSucceeded
			job.Result = out
		}
		_ = r.Jobs.Update(context.Background(), job)
		r.publish(sessionID, message.AgentEvent{
			Type:   message.EventToolExecEnd,
			Tool:   call.Name,
			CallID: call.CallID,
			Result: "job " + id + " " + string(job.Status),
		})
	}()

	return fmt.Sprintf("job %s queued", id)
}

func (r *Runner) publish(sessionID string, ev message.AgentEvent) {
	if r.bus == nil {
		return
	}
	ev.SessionID = sessionID
	ev.Time = time.Now()
	r.bus.Publish(sessionID, ev)
}

// runTask executes tool.Execute in its own goroutine so a crash (panic)
// becomes a synthetic error result instead of bringing down the runner,
// and so an abort (ctx cancellation) can be observed without waiting for
// the tool to notice ctx itself.
func runTask(ctx context.Context, tool Tool, args map[string]any, tc Context) (string, error) {
	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("Tool execution crashed: %v", rec)}
			}
		}()
		out, err := tool.Execute(ctx, args, tc)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func toolResultMessage(call message.ToolCall, content string, isError bool) message.Message {
	return message.Message{
		Role:    message.RoleToolResult,
		Content: content,
		CallID:  call.CallID,
		Error:   isError,
	}
}
