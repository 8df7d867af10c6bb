// Package mock implements a deterministic provider.Provider for tests: it
// replays a scripted sequence of message.StreamEvent batches instead of
// calling a real LLM API.
//
// Grounded on haasonsaas-nexus's test doubles for agent.LLMProvider
// (internal/agent/failover_test.go's successProvider/failingProvider) and on
// internal/agent/tape, the teacher's record/replay harness for deterministic
// transcript tests.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider"
)

// Turn is one scripted response: the events to emit, in order, on the Nth
// call to Stream.
type Turn struct {
	Events []message.StreamEvent
	Err    error
}

// Provider is a scripted provider.Provider. Turns are consumed in order;
// calling Stream more times than len(Turns) repeats the last turn.
type Provider struct {
	ProviderName string
	ModelList    []provider.Model
	Turns        []Turn

	calls atomic.Int32
}

// New creates a scripted mock with the given turns.
func New(turns ...Turn) *Provider {
	return &Provider{ProviderName: "mock", Turns: turns}
}

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) Models() []provider.Model {
	if p.ModelList != nil {
		return p.ModelList
	}
	return []provider.Model{{ID: "mock-model", Name: "Mock Model", ContextWindow: 200000}}
}

func (p *Provider) SupportsTools() bool { return true }

// CallCount returns how many times Stream has been invoked, for test
// assertions about retry/compaction behavior.
func (p *Provider) CallCount() int { return int(p.calls.Load()) }

func (p *Provider) Stream(ctx context.Context, model string, messages []message.Message, tools []provider.ToolSchema, opts provider.StreamOptions) (<-chan message.StreamEvent, error) {
	n := int(p.calls.Add(1)) - 1
	turn := Turn{}
	if len(p.Turns) > 0 {
		idx := n
		if idx >= len(p.Turns) {
			idx = len(p.Turns) - 1
		}
		turn = p.Turns[idx]
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan message.StreamEvent, len(turn.Events)+1)
	go func() {
		defer close(ch)
		for _, ev := range turn.Events {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	return ch, nil
}

// TextTurn is a convenience constructor for a turn that streams plain text
// and then completes, for the common no-tool-call test case.
func TextTurn(text string) Turn {
	return Turn{Events: []message.StreamEvent{
		{Type: message.StreamTextDelta, Text: text},
		{Type: message.StreamResponseDone},
	}}
}

// ToolCallTurn is a convenience constructor for a turn where the model
// requests exactly one tool call.
func ToolCallTurn(callID, name string, args map[string]any) Turn {
	return Turn{Events: []message.StreamEvent{
		{Type: message.StreamToolCallStart, CallID: callID, ToolName: name},
		{Type: message.StreamToolCallDone, CallID: callID, Arguments: args},
		{Type: message.StreamResponseDone},
	}}
}
