package ui

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/costlens/costlens/internal/turn"
)

func testStyles() *Styles {
	return NewStyles(os.Stderr)
}

func TestRenderQueryLogEmpty(t *testing.T) {
	if got := RenderQueryLog(nil, testStyles(), 80, time.Now()); got != "" {
		t.Errorf("empty log rendered %q", got)
	}
}

func TestRenderQueryLogShowsSQL(t *testing.T) {
	now := time.Now()
	records := []turn.ToolCallRecord{
		{
			ID:        "c1",
			Tool:      "redshift__execute_query",
			Payload:   json.RawMessage(`{"sql":"select   product_servicecode,\n sum(line_item_unblended_cost) from cur.cost_and_usage_report"}`),
			Status:    turn.StatusCompleted,
			StartedAt: now.Add(-3 * time.Second),
		},
		{
			ID:        "c2",
			Tool:      "redshift__execute_query",
			Payload:   json.RawMessage(`{"sql":"select 2"}`),
			Status:    turn.StatusStarted,
			StartedAt: now.Add(-1 * time.Second),
		},
	}

	out := RenderQueryLog(records, testStyles(), 120, now)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	// SQL is whitespace-collapsed for single-line display
	if !strings.Contains(lines[0], "select product_servicecode,") {
		t.Errorf("first line = %q, want collapsed SQL", lines[0])
	}
	if !strings.Contains(lines[1], "(1s)") {
		t.Errorf("running line = %q, want elapsed time", lines[1])
	}
}

func TestRenderQueryLogFallsBackToToolName(t *testing.T) {
	records := []turn.ToolCallRecord{
		{ID: "c1", Tool: "redshift__list_tables", Status: turn.StatusCompleted},
	}
	out := RenderQueryLog(records, testStyles(), 80, time.Now())
	if !strings.Contains(out, "redshift__list_tables") {
		t.Errorf("log = %q, want tool name fallback", out)
	}
}

func TestBudgetLine(t *testing.T) {
	if got := BudgetLine(2, 5, testStyles()); !strings.Contains(got, "2/5") {
		t.Errorf("BudgetLine = %q", got)
	}
	if got := BudgetLine(5, 5, testStyles()); !strings.Contains(got, "5/5") {
		t.Errorf("BudgetLine at limit = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("Truncate long = %q", got)
	}
}
