package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	flagProvider string
	flagModel    string
	flagDebug    bool
)

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "LLM provider (anthropic, openai, openai-compat, bedrock)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Model override for the active provider")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log raw LLM requests and events to a JSONL file")
}

var rootCmd = &cobra.Command{
	Use:   "costlens",
	Short: "Conversational AWS cost analysis over your CUR data",
	Long: `costlens answers questions about your AWS spend by querying the
Cost and Usage Report in Redshift through MCP, with a per-turn query
budget so a single question never runs away.

Examples:
  costlens chat                          # interactive chat
  costlens ask "what drove last month's EC2 increase?"
  costlens ask "top 10 services by cost" --limit 8

  costlens sessions                      # list past sessions
  costlens mcp list                      # configured MCP servers
  costlens config show                   # view configuration`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
