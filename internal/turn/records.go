// Package turn implements the conversational turn controller: it watches
// the agent's event stream, enforces the per-turn tool-call budget, and
// coordinates the pause/continue/stop flow when the budget runs out.
package turn

import (
	"encoding/json"
	"time"

	"github.com/costlens/costlens/internal/llm"
)

// CallStatus tracks the lifecycle of a single tool invocation.
type CallStatus string

const (
	StatusStarted   CallStatus = "started"
	StatusCompleted CallStatus = "completed"
)

// ToolCallRecord is one entry in a turn's query log. The payload is the
// opaque tool arguments; for the query tool this is the SQL statement,
// but the controller never inspects it.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    CallStatus      `json:"status"`
	StartedAt time.Time       `json:"started_at"`
}

// SQL extracts the "sql" argument for display, if the payload has one.
func (r ToolCallRecord) SQL() string {
	if len(r.Payload) == 0 {
		return ""
	}
	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(r.Payload, &args); err != nil {
		return ""
	}
	return args.SQL
}

// ConversationTurn is one completed exchange entry. Tool logs appear only
// on assistant turns.
type ConversationTurn struct {
	Role      llm.Role         `json:"role"`
	Content   string           `json:"content"`
	ToolLog   []ToolCallRecord `json:"tool_log,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func userTurn(content string) ConversationTurn {
	return ConversationTurn{Role: llm.RoleUser, Content: content, CreatedAt: time.Now()}
}

func assistantTurn(content string, log []ToolCallRecord) ConversationTurn {
	return ConversationTurn{Role: llm.RoleAssistant, Content: content, ToolLog: log, CreatedAt: time.Now()}
}

func errorTurn(content string, log []ToolCallRecord) ConversationTurn {
	return ConversationTurn{Role: llm.RoleAssistant, Content: content, ToolLog: log, IsError: true, CreatedAt: time.Now()}
}
