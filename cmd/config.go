package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/costlens/costlens/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage configuration",
	Long: `View and manage the costlens configuration.

Examples:
  costlens config show                  # print effective configuration
  costlens config init                  # write a default config file
  costlens config path                  # print config file location`,
	RunE: configShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  configShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  configInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE:  configPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("provider:       %s\n", cfg.Provider)
	fmt.Printf("model:          %s\n", cfg.ModelName())
	if cfg.Provider == "bedrock" {
		fmt.Printf("bedrock region: %s\n", cfg.Bedrock.Region)
	}
	if cfg.Provider == "openai-compat" && cfg.OpenAI.BaseURL != "" {
		fmt.Printf("base url:       %s\n", cfg.OpenAI.BaseURL)
	}
	fmt.Printf("query budget:   %d per turn\n", cfg.Budget.ToolCallLimit)
	fmt.Printf("context pairs:  %d\n", cfg.Chat.ContextPairs)
	fmt.Printf("rules file:     %s\n", cfg.Rules.Path)
	fmt.Printf("sessions:       %t\n", cfg.Session.Enabled)

	if path, err := config.GetConfigPath(); err == nil {
		if config.Exists() {
			fmt.Printf("\nConfig file: %s\n", path)
		} else {
			fmt.Printf("\nNo config file (using defaults). Create one with: costlens config init\n")
		}
	}
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	if config.Exists() {
		path, _ := config.GetConfigPath()
		return fmt.Errorf("config file already exists at %s", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}

	path, _ := config.GetConfigPath()
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
