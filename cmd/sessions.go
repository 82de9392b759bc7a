package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/session"
	"github.com/costlens/costlens/internal/ui"
)

var (
	sessionsLimit    int
	sessionsProvider string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List, search, show, and delete past chat sessions.

Examples:
  costlens sessions                     # list recent sessions
  costlens sessions search "savings plan"
  costlens sessions show <id>
  costlens sessions delete <id>`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search session content",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsSearch,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Max sessions to list")
	sessionsListCmd.Flags().StringVar(&sessionsProvider, "provider", "", "Filter by provider")
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func openStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("sessions are disabled in config")
	}
	return session.NewStore(session.Config{
		Enabled: true,
		Path:    cfg.Session.Path,
	})
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(context.Background(), session.ListOptions{
		Provider: sessionsProvider,
		Limit:    sessionsLimit,
	})
	if err != nil {
		return err
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions yet. Start one with: costlens chat")
		return nil
	}

	for _, s := range summaries {
		fmt.Println(formatSessionLine(s))
	}
	return nil
}

// formatSessionLine renders one session as a single listing row.
func formatSessionLine(s session.SessionSummary) string {
	label := s.Name
	if label == "" {
		label = s.Summary
	}
	if label == "" {
		label = "(empty)"
	}

	age := formatAge(time.Since(s.UpdatedAt))
	return fmt.Sprintf("%s  %-7s %-50s %d turns, %d queries",
		s.ID[:8], age, ui.Truncate(label, 50), s.UserTurns, s.ToolCalls)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func runSessionsSearch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, 20)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Printf("No sessions match %q.\n", query)
		return nil
	}

	for _, r := range results {
		label := r.SessionName
		if label == "" {
			label = r.Summary
		}
		fmt.Printf("%s  %s\n    %s\n", r.SessionID[:8], ui.Truncate(label, 60), r.Snippet)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := resolveSession(ctx, store, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s:%s, %d queries)\n\n", sess.ID[:8], sess.Provider, sess.Model, sess.ToolCalls)

	msgs, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			fmt.Printf("❯ %s\n", m.Content)
		case llm.RoleAssistant:
			for _, r := range m.ToolLog {
				sql := r.SQL()
				if sql == "" {
					sql = r.Tool
				}
				fmt.Printf("  %s %s\n", ui.SuccessIcon, ui.Truncate(strings.Join(strings.Fields(sql), " "), 90))
			}
			fmt.Printf("%s\n\n", m.Content)
		}
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := resolveSession(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s.\n", sess.ID[:8])
	return nil
}

// resolveSession finds a session by full ID or unique prefix.
func resolveSession(ctx context.Context, store session.Store, id string) (*session.Session, error) {
	if sess, err := store.Get(ctx, id); err != nil {
		return nil, err
	} else if sess != nil {
		return sess, nil
	}

	summaries, err := store.List(ctx, session.ListOptions{Limit: 1000, Archived: true})
	if err != nil {
		return nil, err
	}
	var match *session.Session
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("session prefix %q is ambiguous", id)
			}
			sess, err := store.Get(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			match = sess
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no session matching %q", id)
	}
	return match, nil
}
