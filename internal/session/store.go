package session

import (
	"context"
	"os"
	"path/filepath"
)

// Store persists sessions and their transcripts. The SQLite store is the
// real implementation; NoopStore stands in when persistence is disabled
// so callers never branch.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, opts ListOptions) ([]SessionSummary, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	AddMessage(ctx context.Context, sessionID string, msg *Message) error
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)

	// Counters accumulate as a conversation progresses, so a session row
	// stays accurate even if the process dies mid-chat.
	UpdateMetrics(ctx context.Context, id string, toolCalls, inputTokens, outputTokens int) error
	UpdateStatus(ctx context.Context, id string, status SessionStatus) error
	IncrementUserTurns(ctx context.Context, id string) error

	// The current session backs `chat --resume`.
	SetCurrent(ctx context.Context, sessionID string) error
	GetCurrent(ctx context.Context) (*Session, error)
	ClearCurrent(ctx context.Context) error

	Close() error
}

// Config selects and locates the backing store.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // Override default database path
}

// defaultDBPath places sessions.db under the XDG data directory.
func defaultDBPath() (string, error) {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "costlens", "sessions.db"), nil
}

// NewStore opens the store selected by cfg.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}
