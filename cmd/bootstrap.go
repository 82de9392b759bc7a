package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/costlens/costlens/internal/config"
	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/mcp"
	"github.com/costlens/costlens/internal/rules"
	"github.com/costlens/costlens/internal/session"
	"github.com/costlens/costlens/internal/turn"
)

// runtime bundles everything a conversational command needs.
type runtime struct {
	cfg        *config.Config
	ctrl       *turn.Controller
	engine     *llm.Engine
	mcpManager *mcp.Manager
	store      session.Store
	examples   []rules.ExampleQuestion
	debugLog   *llm.DebugLogger
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	return cfg, nil
}

// buildRuntime wires provider, MCP servers, rules, and session storage
// into a turn controller. When wait is true, MCP servers are started
// synchronously so the first question can use them (one-shot mode);
// otherwise they start in the background while the chat UI comes up.
func buildRuntime(ctx context.Context, cfg *config.Config, wait bool) (*runtime, error) {
	provider, err := llm.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	engine := llm.NewEngine(provider, nil)

	var debugLog *llm.DebugLogger
	if flagDebug {
		debugLog, err = llm.NewDebugLogger(filepath.Join(config.GetDataDir(), "debug"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: debug logging disabled: %v\n", err)
		} else {
			engine.SetDebugLogger(debugLog)
		}
	}

	manager := mcp.NewManager()
	if err := manager.LoadConfig(cfg.Bedrock.Region); err != nil {
		return nil, fmt.Errorf("load mcp config: %w", err)
	}
	for _, name := range manager.AvailableServers() {
		if wait {
			if err := manager.EnableAndWait(ctx, name); err != nil {
				fmt.Fprintf(os.Stderr, "warning: MCP server %s failed to start: %v\n", name, err)
			}
		} else {
			_ = manager.Enable(ctx, name)
		}
	}
	mcp.RegisterMCPTools(manager, engine.Tools())

	r, found, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", cfg.Rules.Path, err)
	}
	if !found && cfg.Rules.Path != "" {
		fmt.Fprintf(os.Stderr, "note: rules file %s not found, continuing without it\n", cfg.Rules.Path)
	}

	store, err := session.NewStore(session.Config{
		Enabled: cfg.Session.Enabled,
		Path:    cfg.Session.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	ctrl := turn.NewController(engine, turn.Options{
		ToolCallLimit: cfg.Budget.ToolCallLimit,
		ContextPairs:  cfg.Chat.ContextPairs,
		MaxTurns:      cfg.Chat.MaxTurns,
		Model:         cfg.ModelName(),
		SystemPrompt:  rules.SystemPrompt(r, cfg.Chat.Instructions),
	})

	return &runtime{
		cfg:        cfg,
		ctrl:       ctrl,
		engine:     engine,
		mcpManager: manager,
		store:      store,
		examples:   rules.ExampleQuestions(),
		debugLog:   debugLog,
	}, nil
}

// shutdown releases runtime resources.
func (rt *runtime) shutdown() {
	if rt.mcpManager != nil {
		rt.mcpManager.StopAll()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	_ = rt.debugLog.Close()
}
