package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/costlens/costlens/internal/budget"
	"github.com/costlens/costlens/internal/llm"
)

// State tracks a turn's position in the interruption flow.
type State string

const (
	StateRunning      State = "running"
	StateLimitReached State = "limit_reached"
	StateResumed      State = "resumed"
	StateFinalized    State = "finalized"
)

// partialSummaryPrompt asks the model to summarize what it has learned
// so far. The summary invocation runs without tools, so it consumes no
// budget and can never itself be interrupted.
const partialSummaryPrompt = "Based on the information collected so far, briefly summarize what is known at this point."

// Snapshot captures an interrupted turn at the moment the budget ran
// out: why it paused, what was executed, and a mid-analysis summary the
// user can accept as the final answer.
type Snapshot struct {
	Reason         string
	Message        string
	PartialSummary string
	Records        []ToolCallRecord
}

// Coordinator resolves a suspended turn. Exactly one resolution is
// allowed: Resume (continue analysis with a fresh budget) or Finalize
// (accept the partial summary as the turn's answer). A second
// resolution of either kind fails with ErrStaleInterrupt.
type Coordinator struct {
	engine      *llm.Engine
	tracker     *budget.Tracker
	interceptor *Interceptor
	intr        *llm.Interrupt
	model       string

	mu       sync.Mutex
	state    State
	snapshot *Snapshot
}

// newCoordinator wires up a coordinator for the interrupt captured by
// the given interceptor.
func newCoordinator(engine *llm.Engine, tracker *budget.Tracker, interceptor *Interceptor, model string) *Coordinator {
	return &Coordinator{
		engine:      engine,
		tracker:     tracker,
		interceptor: interceptor,
		intr:        interceptor.Interrupt(),
		model:       model,
		state:       StateLimitReached,
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the captured snapshot, once built.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// BuildSnapshot produces the interruption snapshot. The partial summary
// comes from a second model invocation without tools over the suspended
// conversation, so it reflects completed tool results but cannot spend
// budget. A summary failure degrades to an empty summary rather than
// failing the turn.
func (c *Coordinator) BuildSnapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.state != StateLimitReached {
		c.mu.Unlock()
		return nil, llm.ErrStaleInterrupt
	}
	if c.snapshot != nil {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	intr := c.intr
	c.mu.Unlock()

	if intr == nil {
		return nil, fmt.Errorf("no interrupt captured for this turn")
	}

	summary, err := c.summarize(ctx, intr)
	if err != nil {
		summary = ""
	}

	snap := &Snapshot{
		Reason:         intr.Reason,
		Message:        intr.Message,
		PartialSummary: summary,
		Records:        c.interceptor.Records(),
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	return snap, nil
}

func (c *Coordinator) summarize(ctx context.Context, intr *llm.Interrupt) (string, error) {
	messages := intr.Messages()
	if messages == nil {
		return "", llm.ErrStaleInterrupt
	}
	messages = append(messages, llm.UserText(partialSummaryPrompt))

	stream, err := c.engine.Stream(ctx, llm.Request{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("partial summary: %w", err)
	}
	return llm.CollectText(stream)
}

// Resume continues the suspended run with a reset budget. It returns
// the resumed stream and a fresh interceptor that carries the turn's
// query log forward. The engine will not repeat already-completed tool
// calls.
func (c *Coordinator) Resume(ctx context.Context) (llm.Stream, *Interceptor, error) {
	c.mu.Lock()
	if c.state != StateLimitReached {
		c.mu.Unlock()
		return nil, nil, llm.ErrStaleInterrupt
	}
	snap := c.snapshot
	c.mu.Unlock()

	c.tracker.Reset()

	var records []ToolCallRecord
	if snap != nil {
		records = snap.Records
	} else {
		records = c.interceptor.Records()
	}
	next := newResumedInterceptor(c.tracker, records, c.interceptor.Answer())
	c.engine.SetToolGate(next)

	stream, err := c.engine.Resume(ctx, c.intr)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.state = StateResumed
	c.mu.Unlock()
	return stream, next, nil
}

// Finalize accepts the partial summary as the turn's answer. The
// returned turn's content is exactly the snapshot summary and its tool
// log is the captured records.
func (c *Coordinator) Finalize() (ConversationTurn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLimitReached {
		return ConversationTurn{}, llm.ErrStaleInterrupt
	}
	if c.snapshot == nil {
		return ConversationTurn{}, fmt.Errorf("snapshot not built")
	}
	c.state = StateFinalized
	return assistantTurn(c.snapshot.PartialSummary, c.snapshot.Records), nil
}
