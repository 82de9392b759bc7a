package chat

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/turn"
	"github.com/costlens/costlens/internal/ui"
)

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestInterruptDialogDefaultsToContinue(t *testing.T) {
	d := NewDialogModel(ui.DefaultStyles())
	d.SetSize(100, 40)
	d.ShowInterrupt(&turn.Snapshot{
		Reason:         llm.ReasonToolLimitReached,
		Message:        "Already executed 5 queries this turn.",
		PartialSummary: "EC2 dominates spend.",
	})

	if !d.IsOpen() || d.Type() != DialogInterrupt {
		t.Fatalf("dialog state = %v/%v", d.IsOpen(), d.Type())
	}
	sel := d.Selected()
	if sel == nil || sel.ID != "continue" {
		t.Errorf("default selection = %+v, want continue", sel)
	}

	view := d.View()
	if !strings.Contains(view, "Already executed 5 queries this turn.") {
		t.Errorf("view missing interruption message:\n%s", view)
	}
	if !strings.Contains(view, "EC2 dominates spend.") {
		t.Errorf("view missing partial summary:\n%s", view)
	}
}

func TestInterruptDialogNavigation(t *testing.T) {
	d := NewDialogModel(ui.DefaultStyles())
	d.ShowInterrupt(&turn.Snapshot{Reason: llm.ReasonToolLimitReached})

	d.Update(keyMsg("j"))
	if sel := d.Selected(); sel == nil || sel.ID != "stop" {
		t.Errorf("after down, selection = %+v, want stop", sel)
	}
	// Cursor clamps at the last option
	d.Update(keyMsg("j"))
	if sel := d.Selected(); sel == nil || sel.ID != "stop" {
		t.Errorf("cursor ran past last option: %+v", sel)
	}
	d.Update(keyMsg("k"))
	if sel := d.Selected(); sel == nil || sel.ID != "continue" {
		t.Errorf("after up, selection = %+v, want continue", sel)
	}
}

func TestExamplesDialog(t *testing.T) {
	d := NewDialogModel(ui.DefaultStyles())
	d.ShowExamples([]DialogItem{
		{ID: "ex0", Label: "Monthly cost trend", Description: "Show the monthly cost trend for the last 6 months."},
		{ID: "ex1", Label: "Top services", Description: "Which services cost the most this month?"},
	})

	if d.Type() != DialogExamples {
		t.Fatalf("dialog type = %v", d.Type())
	}
	d.Update(keyMsg("j"))
	sel := d.Selected()
	if sel == nil || sel.ID != "ex1" {
		t.Fatalf("selection = %+v", sel)
	}
	if !strings.Contains(d.View(), "Top services") {
		t.Errorf("view missing example label")
	}

	d.Close()
	if d.IsOpen() {
		t.Error("dialog still open after Close()")
	}
}
