package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/costlens/costlens/internal/llm"
)

// queryTool stands in for the MCP query bridge.
type queryTool struct {
	mu    sync.Mutex
	calls []string
}

func (t *queryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "redshift__execute_query",
		Description: "Run a SQL query",
		Schema:      map[string]any{"type": "object"},
	}
}

func (t *queryTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, string(args))
	return fmt.Sprintf("result %d", len(t.calls)), nil
}

func (t *queryTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func newTestController(provider *llm.MockProvider, limit int) (*Controller, *queryTool) {
	tool := &queryTool{}
	engine := llm.NewEngine(provider, nil)
	engine.RegisterTool(tool)
	return NewController(engine, Options{
		ToolCallLimit: limit,
		ContextPairs:  3,
		SystemPrompt:  "You are an AWS cost analysis assistant.",
	}), tool
}

func queryCall(n int) llm.ToolCall {
	return llm.ToolCall{
		ID:        fmt.Sprintf("c%d", n),
		Name:      "redshift__execute_query",
		Arguments: json.RawMessage(fmt.Sprintf(`{"sql":"select %d"}`, n)),
	}
}

func TestRunTurnCompletesUnderBudget(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddToolCallResponse(queryCall(1)).
		AddToolCallResponse(queryCall(2)).
		AddTextResponse("Costs are dominated by EC2.")
	ctrl, tool := newTestController(provider, 5)
	state := NewSessionState()

	var streamed strings.Builder
	outcome, err := ctrl.RunTurn(context.Background(), state, "what drives our costs?", func(e llm.Event) {
		if e.Type == llm.EventTextDelta {
			streamed.WriteString(e.Text)
		}
	})
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	if outcome.Interrupted {
		t.Fatalf("turn interrupted under budget")
	}
	if outcome.Turn.Content != "Costs are dominated by EC2." {
		t.Errorf("turn content = %q", outcome.Turn.Content)
	}
	if streamed.String() != outcome.Turn.Content {
		t.Errorf("streamed text = %q, want %q", streamed.String(), outcome.Turn.Content)
	}
	if tool.callCount() != 2 {
		t.Errorf("tool executed %d times, want 2", tool.callCount())
	}
	if len(outcome.Turn.ToolLog) != 2 {
		t.Fatalf("tool log has %d records, want 2", len(outcome.Turn.ToolLog))
	}
	for _, r := range outcome.Turn.ToolLog {
		if r.Status != StatusCompleted {
			t.Errorf("record %s status = %q, want completed", r.ID, r.Status)
		}
	}
	if len(state.Turns) != 2 {
		t.Errorf("session has %d turns, want user+assistant", len(state.Turns))
	}
}

func TestRunTurnInterruptsAtLimitThenContinues(t *testing.T) {
	// Seven queries against a limit of five. The first five execute,
	// the pause produces a partial summary, and approval finishes the
	// remaining two without repeating any.
	provider := llm.NewMockProvider("mock")
	for n := 1; n <= 6; n++ {
		provider.AddToolCallResponse(queryCall(n))
	}
	provider.AddTextResponse("So far: SP coverage is low.") // partial summary
	provider.AddToolCallResponse(queryCall(7))
	provider.AddTextResponse("Final: raise SP coverage to 80%.")

	ctrl, tool := newTestController(provider, 5)
	state := NewSessionState()

	outcome, err := ctrl.RunTurn(context.Background(), state, "full commitment analysis", nil)
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	if !outcome.Interrupted {
		t.Fatalf("expected interruption at the limit")
	}
	if tool.callCount() != 5 {
		t.Errorf("executed %d calls before pause, want 5", tool.callCount())
	}
	snap := outcome.Snapshot
	if snap == nil || snap.Reason != llm.ReasonToolLimitReached {
		t.Fatalf("snapshot = %+v, want tool limit reason", snap)
	}
	if snap.PartialSummary != "So far: SP coverage is low." {
		t.Errorf("partial summary = %q", snap.PartialSummary)
	}
	if len(snap.Records) != 5 {
		t.Errorf("snapshot has %d records, want 5", len(snap.Records))
	}
	if !state.PendingInterruption() {
		t.Fatalf("state should hold the pending coordinator")
	}

	final, err := ctrl.ApproveContinue(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("ApproveContinue() error: %v", err)
	}
	if final.Interrupted {
		t.Fatalf("resumed turn interrupted again with fresh budget")
	}
	if tool.callCount() != 7 {
		t.Errorf("executed %d calls total, want 7 with none repeated", tool.callCount())
	}
	if final.Turn.Content != "Final: raise SP coverage to 80%." {
		t.Errorf("final content = %q", final.Turn.Content)
	}
	if len(final.Turn.ToolLog) != 7 {
		t.Errorf("final tool log has %d records, want 7", len(final.Turn.ToolLog))
	}
	if state.PendingInterruption() {
		t.Errorf("pending interruption should be cleared")
	}
}

func TestRunTurnStopUsesPartialSummary(t *testing.T) {
	// Limit of one: the second query attempt pauses the turn; stopping
	// finalizes with the partial summary and the single executed call.
	provider := llm.NewMockProvider("mock").
		AddToolCallResponse(queryCall(1)).
		AddToolCallResponse(queryCall(2)).
		AddTextResponse("Partial: one query done.")

	ctrl, tool := newTestController(provider, 1)
	state := NewSessionState()

	outcome, err := ctrl.RunTurn(context.Background(), state, "deep dive", nil)
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	if !outcome.Interrupted {
		t.Fatalf("expected interruption at limit 1")
	}
	if tool.callCount() != 1 {
		t.Errorf("executed %d calls, want 1", tool.callCount())
	}

	turn, err := ctrl.Stop(state)
	if err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if turn.Content != "Partial: one query done." {
		t.Errorf("finalized content = %q, want the partial summary", turn.Content)
	}
	if len(turn.ToolLog) != 1 || turn.ToolLog[0].ID != "c1" {
		t.Errorf("finalized tool log = %+v, want only c1", turn.ToolLog)
	}
	if state.PendingInterruption() {
		t.Errorf("pending interruption should be cleared after stop")
	}
	if tool.callCount() != 1 {
		t.Errorf("stop dispatched further calls: %d", tool.callCount())
	}
}

func TestStaleResolutionRejected(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddToolCallResponse(queryCall(1)).
		AddToolCallResponse(queryCall(2)).
		AddTextResponse("partial")

	ctrl, _ := newTestController(provider, 1)
	state := NewSessionState()

	if _, err := ctrl.RunTurn(context.Background(), state, "q", nil); err != nil {
		t.Fatal(err)
	}
	coord := state.pending

	if _, err := ctrl.Stop(state); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// The coordinator handle is now consumed: both resolutions fail.
	if _, _, err := coord.Resume(context.Background()); !errors.Is(err, llm.ErrStaleInterrupt) {
		t.Errorf("Resume() after finalize = %v, want ErrStaleInterrupt", err)
	}
	if _, err := coord.Finalize(); !errors.Is(err, llm.ErrStaleInterrupt) {
		t.Errorf("second Finalize() = %v, want ErrStaleInterrupt", err)
	}
	if _, err := ctrl.Stop(state); err == nil {
		t.Errorf("Stop() with no pending turn should fail")
	}
}

func TestRunTurnWhilePendingRejected(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddToolCallResponse(queryCall(1)).
		AddToolCallResponse(queryCall(2)).
		AddTextResponse("partial")

	ctrl, _ := newTestController(provider, 1)
	state := NewSessionState()

	if _, err := ctrl.RunTurn(context.Background(), state, "q1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.RunTurn(context.Background(), state, "q2", nil); err == nil {
		t.Errorf("second turn while pending should be rejected")
	}
}

func TestProviderFailureBecomesErrorTurn(t *testing.T) {
	// No scripted responses: the provider fails immediately. The
	// failure must surface as a visible assistant turn, not a crash.
	provider := llm.NewMockProvider("mock")
	ctrl, _ := newTestController(provider, 5)
	state := NewSessionState()

	outcome, err := ctrl.RunTurn(context.Background(), state, "q", nil)
	if err != nil {
		t.Fatalf("RunTurn() error: %v", err)
	}
	if !outcome.Turn.IsError {
		t.Errorf("expected an error turn, got %+v", outcome.Turn)
	}
	if !strings.HasPrefix(outcome.Turn.Content, "Error:") {
		t.Errorf("error turn content = %q", outcome.Turn.Content)
	}
	if len(state.Turns) != 2 {
		t.Errorf("session has %d turns, want user+error", len(state.Turns))
	}
}

func TestContextWindow(t *testing.T) {
	turns := []ConversationTurn{
		userTurn("q1"), assistantTurn("a1", nil),
		userTurn("q2"), assistantTurn("a2", nil),
		userTurn("q3"), assistantTurn("a3", nil),
	}

	window := contextWindow(turns, 2)
	if len(window) != 4 {
		t.Fatalf("window has %d messages, want 4", len(window))
	}
	if window[0].TextContent() != "q2" || window[3].TextContent() != "a3" {
		t.Errorf("window = [%q..%q], want [q2..a3]", window[0].TextContent(), window[3].TextContent())
	}

	if got := contextWindow(turns, 0); got != nil {
		t.Errorf("contextWindow with 0 pairs = %v, want nil", got)
	}
}

func TestRunTurnSendsContextPairs(t *testing.T) {
	provider := llm.NewMockProvider("mock").
		AddTextResponse("a1").
		AddTextResponse("a2")
	ctrl, _ := newTestController(provider, 5)
	state := NewSessionState()

	if _, err := ctrl.RunTurn(context.Background(), state, "first question", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.RunTurn(context.Background(), state, "second question", nil); err != nil {
		t.Fatal(err)
	}

	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests", len(reqs))
	}
	// system + prior pair + new question
	msgs := reqs[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("second request has %d messages, want 4", len(msgs))
	}
	if msgs[1].TextContent() != "first question" || msgs[2].TextContent() != "a1" {
		t.Errorf("context window not replayed: %q / %q", msgs[1].TextContent(), msgs[2].TextContent())
	}
}
