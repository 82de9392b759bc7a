package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const defaultMaxTurns = 20

// getMaxTurns returns the max turns from request, with fallback to default
func getMaxTurns(req Request) int {
	if req.MaxTurns > 0 {
		return req.MaxTurns
	}
	return defaultMaxTurns
}

// Engine orchestrates provider calls and external tool execution. When a
// ToolGate is installed, every tool call is authorized before dispatch; a
// gate denial suspends the run with an EventInterrupt instead of executing
// the call. The suspended run can be continued with Resume.
type Engine struct {
	provider Provider
	tools    *ToolRegistry

	gateMu sync.RWMutex
	gate   ToolGate

	debug *DebugLogger
}

func NewEngine(provider Provider, tools *ToolRegistry) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{
		provider: provider,
		tools:    tools,
	}
}

// RegisterTool adds a tool to the engine's registry.
func (e *Engine) RegisterTool(tool Tool) {
	e.tools.Register(tool)
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// Provider returns the engine's underlying provider.
func (e *Engine) Provider() Provider {
	return e.provider
}

// SetToolGate installs the pre-dispatch authorization strategy.
// Thread-safe: the gate may be swapped between turns.
func (e *Engine) SetToolGate(gate ToolGate) {
	e.gateMu.Lock()
	e.gate = gate
	e.gateMu.Unlock()
}

// SetDebugLogger enables raw request/event logging. Set before any
// streams start; a nil logger disables logging.
func (e *Engine) SetDebugLogger(logger *DebugLogger) {
	e.debug = logger
}

func (e *Engine) getGate() ToolGate {
	e.gateMu.RLock()
	defer e.gateMu.RUnlock()
	return e.gate
}

// Stream runs a request, applying external tools when needed. With tools
// and a capable provider this drives the agentic loop; otherwise it is a
// plain provider stream (the path used for the no-tool partial-summary
// invocation, which can never touch the gate).
func (e *Engine) Stream(ctx context.Context, req Request) (Stream, error) {
	caps := e.provider.Capabilities()
	if len(req.Tools) > 0 && caps.ToolCalls {
		return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
			return e.runLoop(ctx, req, 0, nil, events)
		}), nil
	}
	e.debug.LogRequest(0, e.provider.Name(), req.Model, req)
	return e.provider.Stream(ctx, req)
}

// Resume continues a run suspended by a gate denial. The interrupt's
// state is consumed; a second Resume on the same interrupt returns
// ErrStaleInterrupt. The resumed run carries the original run's full
// message history, so completed tool calls are not repeated.
func (e *Engine) Resume(ctx context.Context, intr *Interrupt) (Stream, error) {
	if intr == nil {
		return nil, ErrStaleInterrupt
	}
	state, err := intr.takeResume()
	if err != nil {
		return nil, err
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.runLoop(ctx, state.req, state.turn, state.pending, events)
	}), nil
}

func (e *Engine) runLoop(ctx context.Context, req Request, startTurn int, pending []ToolCall, events chan<- Event) error {
	maxTurns := getMaxTurns(req)

	for attempt := startTurn; attempt < maxTurns; attempt++ {
		var toolCalls []ToolCall

		if len(pending) > 0 {
			// Resuming: the assistant message holding these calls and the
			// results of the already-executed prefix are in req.Messages.
			toolCalls = pending
			pending = nil
		} else {
			e.debug.LogRequest(attempt, e.provider.Name(), req.Model, req)
			stream, err := e.provider.Stream(ctx, req)
			if err != nil {
				return err
			}

			var textBuilder strings.Builder
			for {
				event, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					stream.Close()
					return err
				}
				e.debug.LogEvent(event)
				if event.Type == EventError && event.Err != nil {
					stream.Close()
					return event.Err
				}
				if event.Type == EventTextDelta && event.Text != "" {
					textBuilder.WriteString(event.Text)
				}
				if event.Type == EventToolCall && event.Tool != nil {
					toolCalls = append(toolCalls, *event.Tool)
					continue
				}
				if event.Type == EventDone {
					continue
				}
				events <- event
			}
			stream.Close()

			if len(toolCalls) == 0 {
				events <- Event{Type: EventDone}
				return nil
			}

			if attempt == maxTurns-1 {
				return fmt.Errorf("agentic loop exceeded max turns (%d)", maxTurns)
			}

			toolCalls = ensureToolCallIDs(toolCalls)
			req.Messages = append(req.Messages, buildAssistantMessage(textBuilder.String(), toolCalls))
		}

		// Execute sequentially in model order: the gate must see every call
		// before it is dispatched, and the observed event order must match
		// execution order.
		for i, call := range toolCalls {
			if gate := e.getGate(); gate != nil {
				if err := gate.AllowToolCall(ctx, call); err != nil {
					var denial *GateDenial
					if !errors.As(err, &denial) {
						return fmt.Errorf("tool gate rejected %s: %w", call.Name, err)
					}
					state := &resumeState{
						req:     req,
						pending: toolCalls[i:],
						turn:    attempt,
					}
					intr := Event{Type: EventInterrupt, Intr: newInterrupt(denial.Reason, denial.Message, state)}
					e.debug.LogEvent(intr)
					events <- intr
					return nil
				}
			}

			start := Event{Type: EventToolExecStart, ToolCallID: call.ID, ToolName: call.Name, ToolArgs: call.Arguments}
			e.debug.LogEvent(start)
			events <- start
			result := e.executeToolCall(ctx, call)
			req.Messages = append(req.Messages, result)
			success := len(result.Parts) > 0 && result.Parts[0].ToolResult != nil && !result.Parts[0].ToolResult.IsError
			end := Event{Type: EventToolExecEnd, ToolCallID: call.ID, ToolName: call.Name, ToolSuccess: success}
			e.debug.LogEvent(end)
			events <- end
		}
	}

	return fmt.Errorf("agentic loop exceeded max turns (%d)", maxTurns)
}

// executeToolCall runs a single call and returns its result message.
// Execution errors become error results fed back to the model rather than
// failing the stream.
func (e *Engine) executeToolCall(ctx context.Context, call ToolCall) Message {
	tool, ok := e.tools.Get(call.Name)
	if !ok {
		return ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("Error: tool not registered: %s", call.Name))
	}
	output, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		return ToolErrorMessage(call.ID, call.Name, fmt.Sprintf("Error: %v", err))
	}
	return ToolResultMessage(call.ID, call.Name, output)
}

// buildAssistantMessage creates an assistant message with text and tool calls.
func buildAssistantMessage(text string, toolCalls []ToolCall) Message {
	var parts []Part
	if text != "" {
		parts = append(parts, Part{Type: PartText, Text: text})
	}
	for i := range toolCalls {
		call := toolCalls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ensureToolCallIDs fills in IDs for providers that omit them.
func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = NewID()
		}
	}
	return calls
}
