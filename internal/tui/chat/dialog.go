package chat

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/costlens/costlens/internal/turn"
	"github.com/costlens/costlens/internal/ui"
)

// DialogType represents the type of dialog
type DialogType int

const (
	DialogNone DialogType = iota
	DialogInterrupt
	DialogExamples
)

// DialogItem represents an item in a dialog list
type DialogItem struct {
	ID          string
	Label       string
	Description string
}

// DialogModel handles modal dialogs: the budget interruption prompt and
// the example-question picker.
type DialogModel struct {
	dialogType DialogType
	items      []DialogItem
	cursor     int
	title      string
	width      int
	height     int
	styles     *ui.Styles

	// Interruption specific
	snapshot *turn.Snapshot
}

// NewDialogModel creates a new dialog model
func NewDialogModel(styles *ui.Styles) *DialogModel {
	return &DialogModel{
		dialogType: DialogNone,
		styles:     styles,
	}
}

// SetSize updates the dimensions
func (d *DialogModel) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// IsOpen returns whether a dialog is open
func (d *DialogModel) IsOpen() bool {
	return d.dialogType != DialogNone
}

// Type returns the current dialog type
func (d *DialogModel) Type() DialogType {
	return d.dialogType
}

// Close closes the dialog
func (d *DialogModel) Close() {
	d.dialogType = DialogNone
	d.items = nil
	d.cursor = 0
	d.snapshot = nil
}

// ShowInterrupt opens the budget interruption prompt. The default
// selection is Continue, matching the common case of approving more
// queries.
func (d *DialogModel) ShowInterrupt(snap *turn.Snapshot) {
	d.dialogType = DialogInterrupt
	d.title = "Query budget reached"
	d.snapshot = snap
	d.cursor = 0
	d.items = []DialogItem{
		{ID: "continue", Label: "Continue", Description: "run more queries with a fresh budget"},
		{ID: "stop", Label: "Stop", Description: "answer from what was collected so far"},
	}
}

// ShowExamples opens the example-question picker.
func (d *DialogModel) ShowExamples(items []DialogItem) {
	d.dialogType = DialogExamples
	d.title = "Example questions"
	d.cursor = 0
	d.items = items
}

// Selected returns the currently selected item, or nil.
func (d *DialogModel) Selected() *DialogItem {
	if d.cursor < 0 || d.cursor >= len(d.items) {
		return nil
	}
	return &d.items[d.cursor]
}

// Update handles navigation keys while a dialog is open.
func (d *DialogModel) Update(msg tea.KeyMsg) {
	switch msg.String() {
	case "up", "k", "ctrl+p", "left":
		if d.cursor > 0 {
			d.cursor--
		}
	case "down", "j", "ctrl+n", "right", "tab":
		if d.cursor < len(d.items)-1 {
			d.cursor++
		}
	}
}

// View renders the dialog
func (d *DialogModel) View() string {
	if d.dialogType == DialogNone {
		return ""
	}

	var b strings.Builder

	switch d.dialogType {
	case DialogInterrupt:
		b.WriteString(d.styles.Banner.Render(ui.PausedIcon + " " + d.title))
		b.WriteString("\n")
		if d.snapshot != nil {
			if d.snapshot.Message != "" {
				b.WriteString(d.styles.Muted.Render(d.snapshot.Message))
				b.WriteString("\n")
			}
			if d.snapshot.PartialSummary != "" {
				b.WriteString("\n")
				b.WriteString(ui.RenderMarkdown(d.snapshot.PartialSummary, d.contentWidth()))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		for i, item := range d.items {
			b.WriteString(d.renderOption(i, item))
			b.WriteString("  ")
		}
		b.WriteString("\n")
		b.WriteString(d.styles.Footer.Render("←/→ select · enter confirm"))

	case DialogExamples:
		b.WriteString(d.styles.Title.Render(d.title))
		b.WriteString("\n")
		for i, item := range d.items {
			prefix := "  "
			label := item.Label
			if i == d.cursor {
				prefix = d.styles.Highlighted.Render("❯ ")
				label = d.styles.Highlighted.Render(label)
			}
			b.WriteString(fmt.Sprintf("%s%s\n", prefix, label))
		}
		b.WriteString(d.styles.Footer.Render("↑/↓ select · enter use · esc close"))
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(d.styles.Theme().Border).
		Padding(0, 1)
	return border.Render(b.String())
}

func (d *DialogModel) renderOption(i int, item DialogItem) string {
	if i == d.cursor {
		return d.styles.Highlighted.Render("[" + item.Label + "]")
	}
	return d.styles.Muted.Render(" " + item.Label + " ")
}

func (d *DialogModel) contentWidth() int {
	w := d.width - 6
	if w < 20 {
		w = 20
	}
	if w > 100 {
		w = 100
	}
	return w
}
