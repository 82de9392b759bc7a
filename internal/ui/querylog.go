package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/truncate"

	"github.com/costlens/costlens/internal/turn"
)

// maxSQLDisplay is the widest a logged SQL statement renders before truncation.
const maxSQLDisplay = 80

// RenderQueryLog renders a turn's query log, one line per execution.
// Running queries show a clock-relative elapsed time; completed ones a check.
func RenderQueryLog(records []turn.ToolCallRecord, styles *Styles, width int, now time.Time) string {
	if len(records) == 0 {
		return ""
	}

	sqlWidth := maxSQLDisplay
	if width > 0 && width-14 < sqlWidth {
		sqlWidth = width - 14
	}
	if sqlWidth < 10 {
		sqlWidth = 10
	}

	var b strings.Builder
	for i, r := range records {
		label := r.SQL()
		if label == "" {
			label = r.Tool
		}
		label = truncate.StringWithTail(strings.Join(strings.Fields(label), " "), uint(sqlWidth), "...")

		switch r.Status {
		case turn.StatusCompleted:
			b.WriteString(styles.QueryDone.Render(fmt.Sprintf("  %s %d.", SuccessIcon, i+1)))
		default:
			elapsed := now.Sub(r.StartedAt).Round(time.Second)
			b.WriteString(styles.QueryRunning.Render(fmt.Sprintf("  %s %d.", RunningIcon, i+1)))
			label = fmt.Sprintf("%s (%s)", label, elapsed)
		}
		b.WriteString(" ")
		b.WriteString(styles.QuerySQL.Render(label))
		if i < len(records)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// BudgetLine renders the per-turn budget as "queries: used/limit",
// switching to the warning style when the budget is spent.
func BudgetLine(used, limit int, styles *Styles) string {
	s := fmt.Sprintf("queries: %d/%d", used, limit)
	if used >= limit {
		return styles.Warning.Render(s)
	}
	return styles.Budget.Render(s)
}

// StreamingIndicator is the single status line shown while a turn runs.
type StreamingIndicator struct {
	Spinner string
	Phase   string // "Thinking", "Querying", "Responding"
	Elapsed time.Duration
	Used    int
	Limit   int
}

// Render produces the indicator line.
func (si StreamingIndicator) Render(styles *Styles) string {
	var b strings.Builder
	b.WriteString(styles.Spinner.Render(si.Spinner))
	b.WriteString(" ")
	b.WriteString(styles.Bold.Render(si.Phase))
	b.WriteString(styles.Muted.Render(fmt.Sprintf(" (%ds · ", int(si.Elapsed.Seconds()))))
	b.WriteString(BudgetLine(si.Used, si.Limit, styles))
	b.WriteString(styles.Muted.Render(" · esc to cancel)"))
	return b.String()
}
