package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Bedrock   BedrockConfig   `mapstructure:"bedrock"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Session   SessionConfig   `mapstructure:"session"`
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OpenAIConfig also covers OpenAI-compatible servers via base_url
// (Ollama, LM Studio, vLLM).
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// BedrockConfig configures Claude on AWS Bedrock. Credentials come from
// the default AWS chain (env, shared config, instance role).
type BedrockConfig struct {
	Region string `mapstructure:"region"`
	Model  string `mapstructure:"model"`
}

// BudgetConfig bounds tool usage within a single conversational turn.
type BudgetConfig struct {
	ToolCallLimit int `mapstructure:"tool_call_limit"` // Max tool calls per turn before pausing for confirmation
}

type ChatConfig struct {
	ContextPairs int    `mapstructure:"context_pairs"` // Prior user/assistant pairs sent with each turn
	MaxTurns     int    `mapstructure:"max_turns"`     // Max agentic turns per request
	Instructions string `mapstructure:"instructions"`  // Extra system prompt text
}

// RulesConfig points at the cost-allocation rules file. A missing file is
// not an error; analysis proceeds without organization-specific rules.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Override default database location
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "bedrock")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("bedrock.region", "us-east-1")
	viper.SetDefault("bedrock.model", "anthropic.claude-sonnet-4-5-20250929-v1:0")
	viper.SetDefault("budget.tool_call_limit", 5)
	viper.SetDefault("chat.context_pairs", 3)
	viper.SetDefault("chat.max_turns", 20)
	viper.SetDefault("rules.path", "finops_rules.json")
	viper.SetDefault("session.enabled", true)

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveAnthropicCredentials(&cfg.Anthropic)
	resolveOpenAICredentials(&cfg.OpenAI)
	resolveBedrockSettings(&cfg.Bedrock)

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai", "openai-compat":
			c.OpenAI.Model = model
		case "bedrock":
			c.Bedrock.Model = model
		}
	}
}

// ModelName returns the model configured for the active provider.
func (c *Config) ModelName() string {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.Model
	case "openai", "openai-compat":
		return c.OpenAI.Model
	default:
		return c.Bedrock.Model
	}
}

func resolveAnthropicCredentials(cfg *AnthropicConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

func resolveOpenAICredentials(cfg *OpenAIConfig) {
	cfg.APIKey = expandEnv(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.BaseURL = expandEnv(cfg.BaseURL)
}

func resolveBedrockSettings(cfg *BedrockConfig) {
	cfg.Region = expandEnv(cfg.Region)
	if region := os.Getenv("AWS_REGION"); region != "" && cfg.Region == "" {
		cfg.Region = region
	}
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		varName := s[2 : len(s)-1]
		return os.Getenv(varName)
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for costlens.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "costlens"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "costlens"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for costlens.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "costlens")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "costlens-data") // fallback
	}
	return filepath.Join(homeDir, ".local", "share", "costlens")
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// NeedsSetup returns true if config file doesn't exist
func NeedsSetup() bool {
	return !Exists()
}

// Save writes the config to disk
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`provider: %s

anthropic:
  model: %s

openai:
  model: %s
  # base_url: http://localhost:11434/v1  # for OpenAI-compatible servers

bedrock:
  region: %s
  model: %s

budget:
  # Max tool calls the assistant may make in a single turn before
  # pausing to ask whether to continue.
  tool_call_limit: %d

chat:
  context_pairs: %d

rules:
  # Cost-allocation rules file (JSON or YAML). Missing file is fine;
  # analysis proceeds without organization-specific rules.
  path: %s

session:
  enabled: %t
`, cfg.Provider, cfg.Anthropic.Model, cfg.OpenAI.Model,
		cfg.Bedrock.Region, cfg.Bedrock.Model,
		cfg.Budget.ToolCallLimit, cfg.Chat.ContextPairs,
		cfg.Rules.Path, cfg.Session.Enabled)

	return os.WriteFile(path, []byte(content), 0600)
}
