package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls bool
	Streaming bool
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     float32
	MaxTurns        int // Max agentic turns for tool execution (0 = use default)
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Part represents a single content part.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// EventType describes streaming events. The set is closed: providers decode
// their wire formats into these kinds at the boundary, and consumers treat
// anything else as a no-op.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolCall      EventType = "tool_call"
	EventToolExecStart EventType = "tool_exec_start" // Tool execution begins
	EventToolExecEnd   EventType = "tool_exec_end"   // Tool execution completes
	EventUsage         EventType = "usage"
	EventInterrupt     EventType = "interrupt" // Run suspended by a ToolGate before dispatch
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event represents a streamed output update.
type Event struct {
	Type        EventType
	Text        string
	Tool        *ToolCall
	ToolCallID  string          // For EventToolExecStart/End: unique ID of this invocation
	ToolName    string          // For EventToolExecStart/End: name of tool being executed
	ToolArgs    json.RawMessage // For EventToolExecStart: the call arguments, for display
	ToolSuccess bool            // For EventToolExecEnd: whether execution succeeded
	Use         *Usage
	Intr        *Interrupt // For EventInterrupt
	Err         error
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StopReason discriminates how an agentic run ended.
type StopReason string

const (
	StopCompleted          StopReason = "completed"
	StopInterruptRequested StopReason = "interrupt_requested"
)

// ReasonToolLimitReached is the denial reason used when the per-turn
// tool-call budget is exhausted.
const ReasonToolLimitReached = "tool_limit_reached"

// ErrStaleInterrupt is returned when a resume is attempted on an interrupt
// whose resumable state has already been consumed.
var ErrStaleInterrupt = errors.New("interrupt already resolved")

// ToolGate authorizes tool calls before they are dispatched. Returning a
// *GateDenial suspends the run with an EventInterrupt; the denied call and
// any calls queued behind it are never executed. Any other error fails the
// run.
type ToolGate interface {
	AllowToolCall(ctx context.Context, call ToolCall) error
}

// GateDenial is the controlled refusal a ToolGate uses to trigger an
// interruption. It is a policy signal, not a failure.
type GateDenial struct {
	Reason  string // e.g. ReasonToolLimitReached
	Message string // user-facing notice
}

func (d *GateDenial) Error() string {
	if d.Message != "" {
		return d.Message
	}
	return d.Reason
}

// Interrupt describes a suspended agentic run. The resumable state is
// handed out exactly once; afterwards the interrupt is stale and Resume
// fails with ErrStaleInterrupt.
type Interrupt struct {
	ID      string
	Reason  string
	Message string

	mu     sync.Mutex
	resume *resumeState
}

// resumeState preserves everything needed to continue a suspended run:
// the request messages carry the full tool-call history and completed
// results, and pending holds the calls that were collected but never
// dispatched.
type resumeState struct {
	req     Request
	pending []ToolCall
	turn    int // loop turn index at suspension, counts toward MaxTurns
}

func newInterrupt(reason, message string, state *resumeState) *Interrupt {
	return &Interrupt{
		ID:      NewID(),
		Reason:  reason,
		Message: message,
		resume:  state,
	}
}

// Resumable reports whether the interrupt still holds its resume state.
func (i *Interrupt) Resumable() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.resume != nil
}

// Messages returns a copy of the suspended conversation, including the
// assistant's tool-call message and every completed tool result. It does
// not consume the resume state, so it can back a summary invocation while
// the run stays resumable. Nil once the interrupt is stale.
func (i *Interrupt) Messages() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resume == nil {
		return nil
	}
	return append([]Message(nil), i.resume.req.Messages...)
}

// takeResume returns the resume state and clears it, so a handle can never
// be resumed twice.
func (i *Interrupt) takeResume() (*resumeState, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resume == nil {
		return nil, ErrStaleInterrupt
	}
	state := i.resume
	i.resume = nil
	return state, nil
}

// NewID returns a random 16-byte hex identifier.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error is passed to the LLM so it can respond gracefully instead of
// failing the stream.
func ToolErrorMessage(id, name, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errorText,
				IsError: true,
			},
		}},
	}
}

// TextContent extracts and concatenates all text parts of a message.
func (m Message) TextContent() string {
	var text string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			if text != "" {
				text += "\n"
			}
			text += p.Text
		}
	}
	return text
}
