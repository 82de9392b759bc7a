package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
)

// countingTool records every invocation and returns a fixed output.
type countingTool struct {
	name   string
	output string
	err    error

	mu    sync.Mutex
	calls []json.RawMessage
}

func (t *countingTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: "test tool",
		Schema:      map[string]any{"type": "object"},
	}
}

func (t *countingTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, args)
	t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	return t.output, nil
}

func (t *countingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// limitGate denies calls once count reaches limit.
type limitGate struct {
	limit int

	mu    sync.Mutex
	count int
}

func (g *limitGate) AllowToolCall(ctx context.Context, call ToolCall) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count >= g.limit {
		return &GateDenial{Reason: ReasonToolLimitReached, Message: "tool call limit reached"}
	}
	g.count++
	return nil
}

func drainEvents(t *testing.T, stream Stream) []Event {
	t.Helper()
	defer stream.Close()
	var events []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Recv() error: %v", err)
		}
		events = append(events, event)
	}
}

func eventsOfType(events []Event, kind EventType) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func toolRequest(specs ...ToolSpec) Request {
	return Request{
		Messages: []Message{UserText("what drove the EC2 cost spike last week?")},
		Tools:    specs,
	}
}

func TestEngineExecutesToolsAndStreamsAnswer(t *testing.T) {
	tool := &countingTool{name: "run_query", output: "monthly cost: $1234"}
	provider := NewMockProvider("mock").
		AddToolCallResponse(ToolCall{ID: "c1", Name: "run_query", Arguments: json.RawMessage(`{"sql":"select 1"}`)}).
		AddTextResponse("EC2 spend rose 20%.")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	if tool.callCount() != 1 {
		t.Errorf("tool executed %d times, want 1", tool.callCount())
	}
	var text string
	for _, e := range eventsOfType(events, EventTextDelta) {
		text += e.Text
	}
	if text != "EC2 spend rose 20%." {
		t.Errorf("text = %q, want %q", text, "EC2 spend rose 20%.")
	}
	if len(eventsOfType(events, EventToolExecStart)) != 1 {
		t.Errorf("expected one tool exec start event")
	}
	ends := eventsOfType(events, EventToolExecEnd)
	if len(ends) != 1 || !ends[0].ToolSuccess {
		t.Errorf("expected one successful tool exec end event, got %+v", ends)
	}
	if len(eventsOfType(events, EventDone)) != 1 {
		t.Errorf("expected a done event")
	}
}

func TestEngineToolErrorFedBackToModel(t *testing.T) {
	tool := &countingTool{name: "run_query", err: errors.New("relation does not exist")}
	provider := NewMockProvider("mock").
		AddToolCallResponse(ToolCall{ID: "c1", Name: "run_query"}).
		AddTextResponse("The query failed; the table name looks wrong.")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	ends := eventsOfType(events, EventToolExecEnd)
	if len(ends) != 1 || ends[0].ToolSuccess {
		t.Errorf("expected failed tool exec end event, got %+v", ends)
	}
	// The second request must carry the error result for the model.
	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(reqs))
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != RoleTool || last.Parts[0].ToolResult == nil || !last.Parts[0].ToolResult.IsError {
		t.Errorf("last message is not an error tool result: %+v", last)
	}
}

func TestEngineGateDeniesBeforeDispatch(t *testing.T) {
	tool := &countingTool{name: "run_query", output: "rows"}
	provider := NewMockProvider("mock").
		AddToolCallResponse(ToolCall{ID: "c1", Name: "run_query"})

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)
	engine.SetToolGate(&limitGate{limit: 0})

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	if tool.callCount() != 0 {
		t.Errorf("denied tool call was executed %d times", tool.callCount())
	}
	interrupts := eventsOfType(events, EventInterrupt)
	if len(interrupts) != 1 {
		t.Fatalf("expected one interrupt event, got %d", len(interrupts))
	}
	intr := interrupts[0].Intr
	if intr == nil || intr.Reason != ReasonToolLimitReached {
		t.Errorf("interrupt = %+v, want reason %q", intr, ReasonToolLimitReached)
	}
	if !intr.Resumable() {
		t.Errorf("fresh interrupt should be resumable")
	}
	if len(eventsOfType(events, EventDone)) != 0 {
		t.Errorf("interrupted run must not emit done")
	}
}

func TestEngineMidBatchDenialPreservesPending(t *testing.T) {
	tool := &countingTool{name: "run_query", output: "rows"}
	provider := NewMockProvider("mock").
		AddToolCallResponse(
			ToolCall{ID: "c1", Name: "run_query", Arguments: json.RawMessage(`{"sql":"q1"}`)},
			ToolCall{ID: "c2", Name: "run_query", Arguments: json.RawMessage(`{"sql":"q2"}`)},
		).
		AddTextResponse("Both queries done.")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)
	engine.SetToolGate(&limitGate{limit: 1})

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	if tool.callCount() != 1 {
		t.Fatalf("tool executed %d times before interrupt, want 1", tool.callCount())
	}
	interrupts := eventsOfType(events, EventInterrupt)
	if len(interrupts) != 1 {
		t.Fatalf("expected one interrupt event, got %d", len(interrupts))
	}

	// Approve: lift the gate and resume. The already-executed call must
	// not run again; the pending call must.
	engine.SetToolGate(&limitGate{limit: 10})
	resumed, err := engine.Resume(context.Background(), interrupts[0].Intr)
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	resumedEvents := drainEvents(t, resumed)

	if tool.callCount() != 2 {
		t.Errorf("tool executed %d times total, want 2", tool.callCount())
	}
	starts := eventsOfType(resumedEvents, EventToolExecStart)
	if len(starts) != 1 || starts[0].ToolCallID != "c2" {
		t.Errorf("resumed run executed %+v, want only c2", starts)
	}
	var text string
	for _, e := range eventsOfType(resumedEvents, EventTextDelta) {
		text += e.Text
	}
	if text != "Both queries done." {
		t.Errorf("resumed text = %q", text)
	}
	if len(eventsOfType(resumedEvents, EventDone)) != 1 {
		t.Errorf("resumed run should finish with done")
	}
}

func TestEngineResumeTwiceReturnsStale(t *testing.T) {
	tool := &countingTool{name: "run_query", output: "rows"}
	provider := NewMockProvider("mock").
		AddToolCallResponse(ToolCall{ID: "c1", Name: "run_query"}).
		AddTextResponse("done")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)
	engine.SetToolGate(&limitGate{limit: 0})

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)
	intr := eventsOfType(events, EventInterrupt)[0].Intr

	engine.SetToolGate(nil)
	resumed, err := engine.Resume(context.Background(), intr)
	if err != nil {
		t.Fatalf("first Resume() error: %v", err)
	}
	drainEvents(t, resumed)

	if intr.Resumable() {
		t.Errorf("interrupt should be stale after resume")
	}
	if _, err := engine.Resume(context.Background(), intr); !errors.Is(err, ErrStaleInterrupt) {
		t.Errorf("second Resume() error = %v, want ErrStaleInterrupt", err)
	}
	if _, err := engine.Resume(context.Background(), nil); !errors.Is(err, ErrStaleInterrupt) {
		t.Errorf("Resume(nil) error = %v, want ErrStaleInterrupt", err)
	}
}

func TestEngineSequentialRunUpToLimitThenResume(t *testing.T) {
	// Seven single-call turns against a limit of five: the first five
	// execute, the sixth is denied pre-dispatch, and after approval the
	// remaining two run without repeating the first five.
	tool := &countingTool{name: "run_query", output: "ok"}
	provider := NewMockProvider("mock")
	for i := 1; i <= 7; i++ {
		provider.AddToolCallResponse(ToolCall{
			ID:        fmt.Sprintf("c%d", i),
			Name:      "run_query",
			Arguments: json.RawMessage(fmt.Sprintf(`{"step":%d}`, i)),
		})
	}
	provider.AddTextResponse("Root cause: untagged EBS snapshots.")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(tool)
	engine.SetToolGate(&limitGate{limit: 5})

	stream, err := engine.Stream(context.Background(), toolRequest(tool.Spec()))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	if tool.callCount() != 5 {
		t.Fatalf("executed %d calls before interrupt, want 5", tool.callCount())
	}
	interrupts := eventsOfType(events, EventInterrupt)
	if len(interrupts) != 1 {
		t.Fatalf("expected one interrupt, got %d", len(interrupts))
	}

	engine.SetToolGate(&limitGate{limit: 5})
	resumed, err := engine.Resume(context.Background(), interrupts[0].Intr)
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	resumedEvents := drainEvents(t, resumed)

	if tool.callCount() != 7 {
		t.Errorf("executed %d calls total, want 7", tool.callCount())
	}
	var text string
	for _, e := range eventsOfType(resumedEvents, EventTextDelta) {
		text += e.Text
	}
	if text != "Root cause: untagged EBS snapshots." {
		t.Errorf("final text = %q", text)
	}
}

func TestEngineNoToolsBypassesLoop(t *testing.T) {
	provider := NewMockProvider("mock").AddTextResponse("plain answer")
	engine := NewEngine(provider, nil)
	engine.SetToolGate(&limitGate{limit: 0})

	stream, err := engine.Stream(context.Background(), Request{
		Messages: []Message{UserText("summarize")},
	})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	text, err := CollectText(stream)
	if err != nil {
		t.Fatalf("CollectText() error: %v", err)
	}
	if text != "plain answer" {
		t.Errorf("text = %q, want %q", text, "plain answer")
	}
}

func TestEngineUnregisteredToolBecomesErrorResult(t *testing.T) {
	provider := NewMockProvider("mock").
		AddToolCallResponse(ToolCall{ID: "c1", Name: "no_such_tool"}).
		AddTextResponse("I don't have that tool.")

	engine := NewEngine(provider, nil)
	engine.RegisterTool(&countingTool{name: "run_query"})

	stream, err := engine.Stream(context.Background(), toolRequest(ToolSpec{Name: "run_query"}))
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	events := drainEvents(t, stream)

	ends := eventsOfType(events, EventToolExecEnd)
	if len(ends) != 1 || ends[0].ToolSuccess {
		t.Errorf("unregistered tool should produce a failed exec end, got %+v", ends)
	}
	if len(eventsOfType(events, EventDone)) != 1 {
		t.Errorf("run should still complete")
	}
}
