package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/costlens/costlens/internal/mcp"
)

var mcpAddEnv []string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP (Model Context Protocol) servers",
	Long: `Manage the MCP servers costlens queries through.

By default costlens runs the Redshift MCP server to execute SQL against
the CUR data. Additional stdio servers can be added.

Examples:
  costlens mcp list                     # list configured servers
  costlens mcp add athena uvx awslabs.athena-mcp-server@latest
  costlens mcp remove athena            # remove a server
  costlens mcp test redshift            # start, list tools, stop
  costlens mcp path                     # print config file path`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE:  mcpList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name> <command> [args...]",
	Short: "Add a stdio MCP server",
	Long: `Add a stdio MCP server by name and command line.

Examples:
  costlens mcp add athena uvx awslabs.athena-mcp-server@latest
  costlens mcp add redshift uvx awslabs.redshift-mcp-server@latest \
    --env AWS_DEFAULT_REGION=eu-west-1`,
	Args: cobra.MinimumNArgs(2),
	RunE: mcpAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an MCP server",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpRemove,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test an MCP server connection",
	Long: `Start an MCP server, list its tools, and stop it.

Examples:
  costlens mcp test redshift`,
	Args: cobra.ExactArgs(1),
	RunE: mcpTest,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print MCP configuration file path",
	RunE:  mcpPath,
}

func init() {
	mcpAddCmd.Flags().StringArrayVar(&mcpAddEnv, "env", nil, "Environment variable for the server (KEY=VALUE, repeatable)")
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	mcpCmd.AddCommand(mcpTestCmd)
	mcpCmd.AddCommand(mcpPathCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if len(cfg.Servers) == 0 {
		fmt.Println("No MCP servers configured.")
		fmt.Println()
		fmt.Println("The default Redshift server is installed on first chat/ask run,")
		fmt.Println("or add one with: costlens mcp add <name> <command> [args...]")
		return nil
	}

	fmt.Printf("Configured MCP servers (%d):\n\n", len(cfg.Servers))
	for name, server := range cfg.Servers {
		fmt.Printf("  %s\n", name)
		fmt.Printf("    command: %s %s\n", server.Command, strings.Join(server.Args, " "))
		if len(server.Env) > 0 {
			fmt.Printf("    env: %d variables\n", len(server.Env))
		}
	}

	path, _ := mcp.DefaultConfigPath()
	fmt.Printf("\nConfig file: %s\n", path)
	return nil
}

func mcpAdd(cmd *cobra.Command, args []string) error {
	name := args[0]

	env := map[string]string{}
	for _, kv := range mcpAddEnv {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		env[k] = v
	}

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cfg.AddServer(name, mcp.ServerConfig{
		Command: args[1],
		Args:    args[2:],
		Env:     env,
	})
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Added MCP server %q.\n", name)
	fmt.Printf("Test it with: costlens mcp test %s\n", name)
	return nil
}

func mcpRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.RemoveServer(name) {
		return fmt.Errorf("no MCP server named %q", name)
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Removed MCP server %q.\n", name)
	return nil
}

func mcpTest(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return fmt.Errorf("no MCP server named %q", name)
	}

	fmt.Printf("Starting %s: %s %s\n", name, serverCfg.Command, strings.Join(serverCfg.Args, " "))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := mcp.NewClient(name, serverCfg)
	start := time.Now()
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer client.Stop()

	tools := client.Tools()
	fmt.Printf("Connected in %s, %d tools:\n", time.Since(start).Round(time.Millisecond), len(tools))
	for _, t := range tools {
		fmt.Printf("  %s: %s\n", t.Name, t.Description)
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	path, err := mcp.DefaultConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
