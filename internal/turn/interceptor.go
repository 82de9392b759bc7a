package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/costlens/costlens/internal/budget"
	"github.com/costlens/costlens/internal/llm"
)

// Action is the interceptor's verdict on an observed event.
type Action int

const (
	// ActionContinue passes the event through to the display.
	ActionContinue Action = iota
	// ActionSuppress drops the event; used for tool execution observed
	// after the budget is exhausted, which the gate should have blocked.
	ActionSuppress
	// ActionInterrupt marks the turn as suspended pending a decision.
	ActionInterrupt
)

// Interceptor watches the event stream of a single turn. It maintains
// the query log and accumulated answer text, counts completed tool
// invocations against the budget, and, acting as the engine's ToolGate,
// denies further calls once the budget is exhausted, strictly before
// they are dispatched.
type Interceptor struct {
	tracker *budget.Tracker

	mu      sync.Mutex
	records []ToolCallRecord
	answer  strings.Builder
	intr    *llm.Interrupt
}

// NewInterceptor creates an interceptor for a fresh turn.
func NewInterceptor(tracker *budget.Tracker) *Interceptor {
	return &Interceptor{tracker: tracker}
}

// newResumedInterceptor carries the pre-interruption query log and
// answer text into the resumed run, so the finalized turn has the
// complete history.
func newResumedInterceptor(tracker *budget.Tracker, records []ToolCallRecord, answer string) *Interceptor {
	i := &Interceptor{tracker: tracker}
	i.records = append(i.records, records...)
	i.answer.WriteString(answer)
	return i
}

// AllowToolCall implements llm.ToolGate. Denial is a budget signal, not
// a failure; the engine turns it into an interruption.
func (i *Interceptor) AllowToolCall(ctx context.Context, call llm.ToolCall) error {
	if i.tracker.Exhausted() {
		return &llm.GateDenial{
			Reason:  llm.ReasonToolLimitReached,
			Message: fmt.Sprintf("Already executed %d queries this turn.", i.tracker.Count()),
		}
	}
	return nil
}

// Observe classifies a stream event and updates the turn state.
// Unrecognized event kinds pass through untouched.
func (i *Interceptor) Observe(event llm.Event) Action {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch event.Type {
	case llm.EventTextDelta:
		i.answer.WriteString(event.Text)
		return ActionContinue

	case llm.EventToolExecStart:
		if i.tracker.Exhausted() {
			return ActionSuppress
		}
		i.records = append(i.records, ToolCallRecord{
			ID:        event.ToolCallID,
			Tool:      event.ToolName,
			Payload:   event.ToolArgs,
			Status:    StatusStarted,
			StartedAt: time.Now(),
		})
		return ActionContinue

	case llm.EventToolExecEnd:
		for idx := len(i.records) - 1; idx >= 0; idx-- {
			if i.records[idx].ID == event.ToolCallID && i.records[idx].Status == StatusStarted {
				i.records[idx].Status = StatusCompleted
				break
			}
		}
		i.tracker.Increment()
		return ActionContinue

	case llm.EventInterrupt:
		i.intr = event.Intr
		return ActionInterrupt

	default:
		return ActionContinue
	}
}

// Records returns a copy of the query log so far.
func (i *Interceptor) Records() []ToolCallRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]ToolCallRecord(nil), i.records...)
}

// Answer returns the accumulated assistant text.
func (i *Interceptor) Answer() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.answer.String()
}

// Interrupt returns the captured interrupt descriptor, if the turn was
// suspended.
func (i *Interceptor) Interrupt() *llm.Interrupt {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.intr
}

// Tracker returns the budget tracker shared with the engine gate.
func (i *Interceptor) Tracker() *budget.Tracker {
	return i.tracker
}
