package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/turn"
)

// SessionStatus represents the current state of a session.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"   // Session is open/current
	StatusComplete SessionStatus = "complete" // Session finished normally
	StatusError    SessionStatus = "error"    // Session ended with an error
)

// Session represents a chat session stored in the database.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Summary   string    `json:"summary,omitempty"` // First user question
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Archived  bool      `json:"archived,omitempty"`

	// Session metrics
	UserTurns    int           `json:"user_turns,omitempty"`    // Number of user questions
	ToolCalls    int           `json:"tool_calls,omitempty"`    // Total query executions
	InputTokens  int           `json:"input_tokens,omitempty"`  // Total input tokens used
	OutputTokens int           `json:"output_tokens,omitempty"` // Total output tokens used
	Status       SessionStatus `json:"status,omitempty"`
}

// Message is one persisted conversation turn. Assistant turns carry
// their query log so past analyses can be reviewed with the SQL that
// produced them.
type Message struct {
	ID        int64                 `json:"id"`
	SessionID string                `json:"session_id"`
	Role      llm.Role              `json:"role"`
	Content   string                `json:"content"`
	ToolLog   []turn.ToolCallRecord `json:"tool_log,omitempty"`
	IsError   bool                  `json:"is_error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	Sequence  int                   `json:"sequence"`
}

// NewMessage converts a conversation turn for persistence. Sequence -1
// asks the store to allocate the next sequence number.
func NewMessage(sessionID string, t turn.ConversationTurn) *Message {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &Message{
		SessionID: sessionID,
		Role:      t.Role,
		Content:   t.Content,
		ToolLog:   t.ToolLog,
		IsError:   t.IsError,
		CreatedAt: created,
		Sequence:  -1,
	}
}

// ToTurn converts a persisted message back into a conversation turn.
func (m *Message) ToTurn() turn.ConversationTurn {
	return turn.ConversationTurn{
		Role:      m.Role,
		Content:   m.Content,
		ToolLog:   m.ToolLog,
		IsError:   m.IsError,
		CreatedAt: m.CreatedAt,
	}
}

// ToolLogJSON returns the query log serialized for database storage.
func (m *Message) ToolLogJSON() (string, error) {
	if len(m.ToolLog) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m.ToolLog)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetToolLogFromJSON deserializes JSON into the ToolLog field.
func (m *Message) SetToolLogFromJSON(data string) error {
	if data == "" {
		m.ToolLog = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.ToolLog)
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	MessageCount int           `json:"message_count"`
	UserTurns    int           `json:"user_turns,omitempty"`
	ToolCalls    int           `json:"tool_calls,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Status       SessionStatus `json:"status,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ListOptions configures session listing.
type ListOptions struct {
	Provider string        // Filter by provider
	Model    string        // Filter by model
	Status   SessionStatus // Filter by status
	Limit    int           // Max results (0 = use default)
	Offset   int           // Pagination offset
	Archived bool          // Include archived sessions
}

// SearchResult represents a full-text search match.
type SearchResult struct {
	SessionID   string    `json:"session_id"`
	MessageID   int64     `json:"message_id"`
	SessionName string    `json:"session_name"`
	Summary     string    `json:"summary"`
	Snippet     string    `json:"snippet"` // Matched text snippet
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewID returns a fresh session identifier.
func NewID() string {
	return llm.NewID()
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
