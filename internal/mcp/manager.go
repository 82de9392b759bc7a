package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ServerStatus represents the lifecycle state of a managed server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState is a point-in-time view of one managed server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// Manager owns the configured MCP servers and routes tool calls to them.
// Tool names are namespaced "server__tool" so two servers can both
// advertise an execute_query.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState
}

func NewManager() *Manager {
	return &Manager{
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
	}
}

// LoadConfig reads mcp.json. A fresh install with no config gets the
// default Redshift CUR server so cost queries work out of the box.
func (m *Manager) LoadConfig(region string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Servers) == 0 {
		cfg = DefaultConfig(region)
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// AvailableServers returns the configured server names.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	return m.config.ServerNames()
}

// startClient registers a starting client for name, or returns nil if the
// server is already starting or ready.
func (m *Manager) startClient(name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return nil, fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		return nil, fmt.Errorf("unknown MCP server: %s", name)
	}
	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			return nil, nil
		}
	}

	client := NewClient(name, serverCfg)
	m.clients[name] = client
	m.statuses[name] = &ServerState{Name: name, Status: StatusStarting, Client: client}
	return client, nil
}

func (m *Manager) settleClient(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.statuses[name]
	if !ok {
		return
	}
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
	} else {
		state.Status = StatusReady
		state.Error = nil
	}
}

// Enable starts a server in the background. The chat TUI uses this so
// the prompt appears while `uvx` downloads the query server; tools are
// re-registered once the server reports ready.
func (m *Manager) Enable(ctx context.Context, name string) error {
	client, err := m.startClient(name)
	if client == nil || err != nil {
		return err
	}
	go func() {
		m.settleClient(name, client.Start(ctx))
	}()
	return nil
}

// EnableAndWait starts a server and blocks until it is ready or failed.
// One-shot ask mode needs the query tools before the first request.
func (m *Manager) EnableAndWait(ctx context.Context, name string) error {
	client, err := m.startClient(name)
	if client == nil || err != nil {
		return err
	}
	err = client.Start(ctx)
	m.settleClient(name, err)
	return err
}

// StopAll shuts down every running server.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// AllTools returns the namespaced tools of every ready server.
func (m *Manager) AllTools() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []ToolSpec
	for name, state := range m.statuses {
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			tools = append(tools, ToolSpec{
				Name:        name + "__" + tool.Name,
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	return tools
}

// CallTool routes a namespaced tool call to its server.
func (m *Manager) CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return "", fmt.Errorf("invalid MCP tool name: %s (expected server__tool)", fullName)
	}

	m.mu.RLock()
	state, ok := m.statuses[serverName]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.Client == nil {
		return "", fmt.Errorf("MCP server %s is not running", serverName)
	}
	return state.Client.CallTool(ctx, toolName, args)
}

// parseToolName splits "server__tool" on the first double underscore.
func parseToolName(fullName string) (serverName, toolName string) {
	if server, tool, ok := strings.Cut(fullName, "__"); ok {
		return server, tool
	}
	return "", fullName
}

// GetAllStates snapshots every server's state for status display.
func (m *Manager) GetAllStates() []ServerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]ServerState, 0, len(m.statuses))
	for _, state := range m.statuses {
		states = append(states, ServerState{
			Name:   state.Name,
			Status: state.Status,
			Error:  state.Error,
		})
	}
	return states
}
