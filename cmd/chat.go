package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/costlens/costlens/internal/mcp"
	"github.com/costlens/costlens/internal/session"
	"github.com/costlens/costlens/internal/tui/chat"
	"github.com/costlens/costlens/internal/turn"
)

var chatResume bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive cost analysis chat",
	Long: `Start an interactive chat about your AWS costs.

The assistant answers by running SQL against the CUR data in Redshift
through MCP. Each turn may run a bounded number of queries; when the
budget is spent the assistant pauses and asks whether to continue.

Examples:
  costlens chat
  costlens chat --resume                # pick up the last session`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatResume, "resume", false, "Resume the most recent session")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	state := turn.NewSessionState()
	var sess *session.Session
	if chatResume {
		sess, state, err = resumeSession(ctx, rt.store)
		if err != nil {
			return err
		}
	}

	model := chat.New(cfg, rt.ctrl, state, rt.mcpManager, rt.store, sess, rt.examples)
	model.RefreshTools = func() {
		mcp.RegisterMCPTools(rt.mcpManager, rt.engine.Tools())
	}

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run chat: %w", err)
	}
	return nil
}

// resumeSession loads the current session and replays its turns into
// fresh session state so the context window carries over.
func resumeSession(ctx context.Context, store session.Store) (*session.Session, *turn.SessionState, error) {
	state := turn.NewSessionState()

	sess, err := store.GetCurrent(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load current session: %w", err)
	}
	if sess == nil {
		return nil, state, nil
	}

	msgs, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load session messages: %w", err)
	}
	for _, m := range msgs {
		state.Turns = append(state.Turns, m.ToTurn())
	}
	return sess, state, nil
}
