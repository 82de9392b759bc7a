package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolSpec describes a tool advertised by an MCP server.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client owns one stdio MCP server subprocess and its session. The
// Redshift query server is the typical case: `uvx` fetches and runs it,
// and the session stays up for the life of the chat.
type Client struct {
	name   string
	config ServerConfig

	mu        sync.RWMutex
	session   *mcp.ClientSession
	tools     []ToolSpec
	connected bool
}

func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

func (c *Client) Name() string { return c.name }

// Start launches the server subprocess, performs the MCP handshake, and
// loads the tool list. Idempotent while connected.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	impl := mcp.NewClient(&mcp.Implementation{Name: "costlens", Version: "1.0.0"}, nil)
	session, err := impl.Connect(ctx, c.createStdioTransport(ctx), nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}

	tools, err := listTools(ctx, session)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.session = session
	c.tools = tools
	c.connected = true
	return nil
}

// createStdioTransport builds the subprocess transport. Setting
// exec.Cmd.Env replaces the inherited environment entirely, so configured
// vars (AWS region, profile) are spliced onto os.Environ; with no custom
// vars the field stays nil and the subprocess inherits everything.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Stop closes the session, which terminates the subprocess.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.tools = nil
	c.connected = false
	return err
}

func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Tools returns the tools advertised at connect time.
func (c *Client) Tools() []ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]ToolSpec, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]any{}
		if m, ok := t.InputSchema.(map[string]any); ok {
			schema = m
		}
		tools = append(tools, ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return tools, nil
}

// CallTool executes a tool on the server and flattens the result content
// to text. Tool-reported errors come back as Go errors so the engine can
// feed them to the model as failed results.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.RLock()
	session, connected := c.session, c.connected
	c.mu.RUnlock()

	if !connected || session == nil {
		return "", fmt.Errorf("MCP server %s is not running", c.name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}
	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, formatContent(result.Content))
	}
	return formatContent(result.Content), nil
}

// formatContent flattens MCP content blocks into one string. Query
// results arrive as text; anything else is JSON-encoded as a fallback.
func formatContent(content []mcp.Content) string {
	var out string
	for _, block := range content {
		if text, ok := block.(*mcp.TextContent); ok {
			out += text.Text
			continue
		}
		if data, err := json.Marshal(block); err == nil {
			out += string(data)
		}
	}
	return out
}
