package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/costlens/costlens/internal/config"
	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/session"
	"github.com/costlens/costlens/internal/turn"
	"github.com/costlens/costlens/internal/ui"
)

var (
	askLimit int
	askPlain bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot cost question",
	Long: `Ask a single question and print the answer.

Queries run against the CUR data through MCP, bounded by the per-turn
budget. If the budget runs out you are asked whether to continue or to
take the partial answer.

Examples:
  costlens ask "what drove last month's EC2 increase?"
  costlens ask "top 10 services by cost" --limit 8
  costlens ask "monthly trend by service" --plain | less`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVar(&askLimit, "limit", 0, "Override the per-turn query budget")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Plain text output (no markdown rendering)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if askLimit > 0 {
		cfg.Budget.ToolCallLimit = askLimit
	}
	if askPlain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	question := strings.Join(args, " ")
	styles := ui.NewStyles(os.Stderr)
	state := turn.NewSessionState()

	outcome, err := rt.ctrl.RunTurn(ctx, state, question, askProgress(styles))
	if err != nil {
		return err
	}

	// The budget pause loop: each approval grants a fresh budget, and
	// the turn may pause again.
	for outcome.Interrupted {
		approved, perr := promptContinue(outcome.Snapshot, styles)
		if perr != nil {
			approved = false
		}
		if !approved {
			t, serr := rt.ctrl.Stop(state)
			if serr != nil {
				return serr
			}
			printAnswer(t)
			persistAsk(ctx, rt.store, cfg, question, state)
			return nil
		}
		outcome, err = rt.ctrl.ApproveContinue(ctx, state, askProgress(styles))
		if err != nil {
			return err
		}
	}

	printAnswer(outcome.Turn)
	persistAsk(ctx, rt.store, cfg, question, state)
	if outcome.Turn.IsError {
		os.Exit(1)
	}
	return nil
}

// askProgress prints query lifecycle lines to stderr as they happen.
func askProgress(styles *ui.Styles) func(llm.Event) {
	starts := map[string]time.Time{}
	return func(e llm.Event) {
		switch e.Type {
		case llm.EventToolExecStart:
			starts[e.ToolCallID] = time.Now()
			label := turn.ToolCallRecord{Tool: e.ToolName, Payload: e.ToolArgs}.SQL()
			if label == "" {
				label = e.ToolName
			}
			label = ui.Truncate(strings.Join(strings.Fields(label), " "), 100)
			fmt.Fprintln(os.Stderr, styles.QueryRunning.Render(ui.RunningIcon+" ")+styles.QuerySQL.Render(label))
		case llm.EventToolExecEnd:
			elapsed := time.Since(starts[e.ToolCallID]).Round(time.Millisecond * 100)
			fmt.Fprintln(os.Stderr, styles.FormatResult(e.ToolSuccess, styles.Muted.Render(fmt.Sprintf("done in %s", elapsed))))
		}
	}
}

// promptContinue shows the budget-reached confirmation.
func promptContinue(snap *turn.Snapshot, styles *ui.Styles) (bool, error) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, styles.Banner.Render(ui.PausedIcon+" Query budget reached"))
	if snap != nil && snap.Message != "" {
		fmt.Fprintln(os.Stderr, styles.Muted.Render(snap.Message))
	}
	if snap != nil && snap.PartialSummary != "" {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, ui.RenderMarkdown(snap.PartialSummary, outputWidth()))
	}
	fmt.Fprintln(os.Stderr)

	var approved bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Key("confirm").
				Title("Run more queries?").
				Affirmative("Continue").
				Negative("Stop").
				Value(&approved).
				WithButtonAlignment(lipgloss.Left),
		),
	).WithShowHelp(false).WithShowErrors(false)

	if err := form.Run(); err != nil {
		return false, err
	}
	return approved, nil
}

func printAnswer(t turn.ConversationTurn) {
	if askPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(t.Content)
		return
	}
	fmt.Println(ui.RenderMarkdown(t.Content, outputWidth()))
}

func outputWidth() int {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	return width
}

// persistAsk saves the one-shot exchange as a session.
func persistAsk(ctx context.Context, store session.Store, cfg *config.Config, question string, state *turn.SessionState) {
	if store == nil {
		return
	}
	sess := &session.Session{
		Summary:  session.TruncateSummary(question),
		Provider: cfg.Provider,
		Model:    cfg.ModelName(),
	}
	if err := store.Create(ctx, sess); err != nil {
		return
	}
	for _, t := range state.Turns {
		_ = store.AddMessage(ctx, sess.ID, session.NewMessage(sess.ID, t))
		if t.Role == llm.RoleUser {
			_ = store.IncrementUserTurns(ctx, sess.ID)
		} else if n := len(t.ToolLog); n > 0 {
			_ = store.UpdateMetrics(ctx, sess.ID, n, 0, 0)
		}
	}
	_ = store.UpdateStatus(ctx, sess.ID, session.StatusComplete)
}
