package turn

import (
	"context"
	"fmt"
	"io"

	"github.com/costlens/costlens/internal/budget"
	"github.com/costlens/costlens/internal/llm"
)

// Options configures a Controller.
type Options struct {
	ToolCallLimit int    // Max tool calls per turn (0 = budget.DefaultLimit)
	ContextPairs  int    // Prior user/assistant pairs replayed into each prompt
	MaxTurns      int    // Max agentic turns per request (0 = engine default)
	Model         string // Model override passed through to the provider
	SystemPrompt  string
}

// SessionState is the explicit per-session state: the conversation so
// far and, when a turn is paused at the tool-call limit, the pending
// coordinator awaiting a decision. One turn runs at a time; the state
// is not safe for concurrent turns.
type SessionState struct {
	Turns   []ConversationTurn
	pending *Coordinator
}

// NewSessionState creates an empty session.
func NewSessionState() *SessionState {
	return &SessionState{}
}

// PendingInterruption reports whether the last turn is paused awaiting
// a continue/stop decision.
func (s *SessionState) PendingInterruption() bool {
	return s.pending != nil
}

// PendingSnapshot returns the snapshot of the paused turn, if any.
func (s *SessionState) PendingSnapshot() *Snapshot {
	if s.pending == nil {
		return nil
	}
	return s.pending.Snapshot()
}

// Clear drops the conversation and any pending interruption.
func (s *SessionState) Clear() {
	s.Turns = nil
	s.pending = nil
}

// Outcome is the result of running (or resuming) a turn.
type Outcome struct {
	// Turn is the finalized assistant turn. Unset when Interrupted.
	Turn ConversationTurn
	// Interrupted reports that the turn paused at the tool-call limit
	// and awaits ApproveContinue or Stop.
	Interrupted bool
	Snapshot    *Snapshot
}

// Controller drives conversational turns against the agent engine,
// enforcing the per-turn budget and the interruption protocol.
type Controller struct {
	engine  *llm.Engine
	tracker *budget.Tracker
	opts    Options
}

// NewController creates a turn controller. The budget tracker is owned
// by the controller and reset at the start of every turn.
func NewController(engine *llm.Engine, opts Options) *Controller {
	return &Controller{
		engine:  engine,
		tracker: budget.NewTracker(opts.ToolCallLimit),
		opts:    opts,
	}
}

// Tracker exposes the budget tracker for display purposes.
func (c *Controller) Tracker() *budget.Tracker {
	return c.tracker
}

// Limit returns the per-turn tool-call budget.
func (c *Controller) Limit() int {
	return c.tracker.Limit()
}

// RunTurn runs one user turn to completion or interruption. Events that
// pass interception are forwarded to onEvent as they arrive, so a
// display can stream text and query status live. Collaborator failures
// become visible error turns; RunTurn itself only errors when a turn is
// already pending.
func (c *Controller) RunTurn(ctx context.Context, state *SessionState, question string, onEvent func(llm.Event)) (*Outcome, error) {
	if state.PendingInterruption() {
		return nil, fmt.Errorf("previous turn is awaiting a continue/stop decision")
	}

	req := c.buildRequest(state, question)
	state.Turns = append(state.Turns, userTurn(question))

	c.tracker.Reset()
	interceptor := NewInterceptor(c.tracker)
	c.engine.SetToolGate(interceptor)

	stream, err := c.engine.Stream(ctx, req)
	if err != nil {
		return c.failTurn(state, interceptor, err), nil
	}

	if err := c.consume(stream, interceptor, onEvent); err != nil {
		return c.failTurn(state, interceptor, err), nil
	}

	return c.settle(ctx, state, interceptor)
}

// ApproveContinue resumes the pending turn with a fresh budget. The
// already-executed tool calls are not repeated.
func (c *Controller) ApproveContinue(ctx context.Context, state *SessionState, onEvent func(llm.Event)) (*Outcome, error) {
	coord := state.pending
	if coord == nil {
		return nil, fmt.Errorf("no interrupted turn to continue")
	}

	stream, interceptor, err := coord.Resume(ctx)
	if err != nil {
		return nil, err
	}
	state.pending = nil

	if err := c.consume(stream, interceptor, onEvent); err != nil {
		return c.failTurn(state, interceptor, err), nil
	}

	return c.settle(ctx, state, interceptor)
}

// Stop resolves the pending turn with its partial summary as the final
// answer.
func (c *Controller) Stop(state *SessionState) (ConversationTurn, error) {
	coord := state.pending
	if coord == nil {
		return ConversationTurn{}, fmt.Errorf("no interrupted turn to stop")
	}

	turn, err := coord.Finalize()
	if err != nil {
		return ConversationTurn{}, err
	}
	state.pending = nil
	state.Turns = append(state.Turns, turn)
	return turn, nil
}

// settle turns a drained stream into an outcome: either the turn
// paused at the limit, or it completed and is appended to the session.
func (c *Controller) settle(ctx context.Context, state *SessionState, interceptor *Interceptor) (*Outcome, error) {
	if interceptor.Interrupt() != nil {
		coord := newCoordinator(c.engine, c.tracker, interceptor, c.opts.Model)
		snapshot, err := coord.BuildSnapshot(ctx)
		if err != nil {
			return c.failTurn(state, interceptor, err), nil
		}
		state.pending = coord
		return &Outcome{Interrupted: true, Snapshot: snapshot}, nil
	}

	turn := assistantTurn(interceptor.Answer(), interceptor.Records())
	state.Turns = append(state.Turns, turn)
	return &Outcome{Turn: turn}, nil
}

// failTurn converts a collaborator failure into a visible assistant
// turn carrying the partial query log, so the session survives.
func (c *Controller) failTurn(state *SessionState, interceptor *Interceptor, err error) *Outcome {
	turn := errorTurn(fmt.Sprintf("Error: %v", err), interceptor.Records())
	state.pending = nil
	state.Turns = append(state.Turns, turn)
	return &Outcome{Turn: turn}
}

// consume drains the stream through the interceptor, forwarding
// passed-through events to the display callback.
func (c *Controller) consume(stream llm.Stream, interceptor *Interceptor, onEvent func(llm.Event)) error {
	defer stream.Close()
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if event.Type == llm.EventError && event.Err != nil {
			return event.Err
		}
		if interceptor.Observe(event) == ActionContinue && onEvent != nil {
			onEvent(event)
		}
	}
}

// buildRequest assembles the prompt: system text, the last N
// user/assistant pairs, and the new question.
func (c *Controller) buildRequest(state *SessionState, question string) llm.Request {
	var messages []llm.Message
	if c.opts.SystemPrompt != "" {
		messages = append(messages, llm.SystemText(c.opts.SystemPrompt))
	}
	messages = append(messages, contextWindow(state.Turns, c.opts.ContextPairs)...)
	messages = append(messages, llm.UserText(question))

	return llm.Request{
		Model:    c.opts.Model,
		Messages: messages,
		Tools:    c.engine.Tools().AllSpecs(),
		MaxTurns: c.opts.MaxTurns,
	}
}

// contextWindow returns the last maxPairs user/assistant exchanges as
// plain text messages.
func contextWindow(turns []ConversationTurn, maxPairs int) []llm.Message {
	if maxPairs <= 0 || len(turns) == 0 {
		return nil
	}
	start := len(turns) - maxPairs*2
	if start < 0 {
		start = 0
	}
	window := turns[start:]
	messages := make([]llm.Message, 0, len(window))
	for _, t := range window {
		switch t.Role {
		case llm.RoleUser:
			messages = append(messages, llm.UserText(t.Content))
		case llm.RoleAssistant:
			messages = append(messages, llm.AssistantText(t.Content))
		}
	}
	return messages
}
