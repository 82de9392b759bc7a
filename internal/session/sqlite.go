package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a single SQLite file. WAL mode keeps
// the chat responsive while the TUI writes turns incrementally.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT,
    summary TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    archived BOOLEAN DEFAULT FALSE,
    user_turns INTEGER DEFAULT 0,
    tool_calls INTEGER DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    status TEXT DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL,
    tool_log TEXT,
    is_error BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);

-- key/value metadata; today only 'current_session' for chat --resume
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);

-- Full-text search over message content, kept in sync by triggers.
CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    content,
    content='messages',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO messages_fts(rowid, content) VALUES (new.id, new.content);
END;
`

// schemaVersion gates initSchema. Bump together with a migration when
// the schema changes.
const schemaVersion = 1

// sessionColumns is the scan order shared by Get and List.
const sessionColumns = `id, name, summary, provider, model, created_at, updated_at, archived,
       user_turns, tool_calls, input_tokens, output_tokens, status`

func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath := cfg.Path
	if dbPath == "" {
		var err error
		dbPath, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	// Fast path: an up-to-date database skips the DDL entirely.
	var current int
	if err := db.QueryRow("SELECT version FROM schema_version").Scan(&current); err == nil && current >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if _, err := db.Exec("DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("reset schema version: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// Create inserts a session, filling in ID, timestamps, and status.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Summary, sess.Provider, sess.Model,
		sess.CreatedAt, sess.UpdatedAt, sess.Archived,
		sess.UserTurns, sess.ToolCalls, sess.InputTokens, sess.OutputTokens,
		string(sess.Status))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a session by ID, or (nil, nil) when absent so prefix
// resolution can fall through without error handling.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	var sess Session
	var status sql.NullString
	err := row.Scan(&sess.ID, &sess.Name, &sess.Summary, &sess.Provider, &sess.Model,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.Archived,
		&sess.UserTurns, &sess.ToolCalls, &sess.InputTokens, &sess.OutputTokens,
		&status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if status.Valid {
		sess.Status = SessionStatus(status.String)
	}
	return &sess, nil
}

// Update rewrites a session row.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET name = ?, summary = ?, provider = ?, model = ?,
		       updated_at = ?, archived = ?,
		       user_turns = ?, tool_calls = ?, input_tokens = ?, output_tokens = ?, status = ?
		WHERE id = ?`,
		sess.Name, sess.Summary, sess.Provider, sess.Model,
		sess.UpdatedAt, sess.Archived,
		sess.UserTurns, sess.ToolCalls, sess.InputTokens, sess.OutputTokens,
		string(sess.Status), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("session not found: %s", sess.ID)
	}
	return nil
}

// UpdateMetrics adds to the counters. Additive so crash recovery never
// loses already-counted queries.
func (s *SQLiteStore) UpdateMetrics(ctx context.Context, id string, toolCalls, inputTokens, outputTokens int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
		       tool_calls = tool_calls + ?,
		       input_tokens = input_tokens + ?,
		       output_tokens = output_tokens + ?,
		       updated_at = ?
		WHERE id = ?`,
		toolCalls, inputTokens, outputTokens, time.Now(), id)
	return err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
	return err
}

func (s *SQLiteStore) IncrementUserTurns(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET user_turns = user_turns + 1, updated_at = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

// Delete removes a session; the foreign key cascade takes the messages
// and the delete trigger scrubs the FTS index.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("session not found: %s", id)
	}
	return nil
}

// List returns session summaries, most recently touched first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]SessionSummary, error) {
	where := []string{"1=1"}
	args := []any{}
	if opts.Provider != "" {
		where = append(where, "s.provider = ?")
		args = append(args, opts.Provider)
	}
	if opts.Model != "" {
		where = append(where, "s.model = ?")
		args = append(args, opts.Model)
	}
	if opts.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, string(opts.Status))
	}
	if !opts.Archived {
		where = append(where, "s.archived = FALSE")
	}

	limit := opts.Limit
	if limit == 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT s.id, s.name, s.summary, s.provider, s.model, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id) AS message_count,
		       s.user_turns, s.tool_calls, s.input_tokens, s.output_tokens, s.status
		FROM sessions s
		WHERE %s
		ORDER BY s.updated_at DESC
		LIMIT %d OFFSET %d`,
		strings.Join(where, " AND "), limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var results []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var status sql.NullString
		err := rows.Scan(&sum.ID, &sum.Name, &sum.Summary, &sum.Provider, &sum.Model,
			&sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount,
			&sum.UserTurns, &sum.ToolCalls, &sum.InputTokens, &sum.OutputTokens,
			&status)
		if err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		if status.Valid {
			sum.Status = SessionStatus(status.String)
		}
		results = append(results, sum)
	}
	return results, rows.Err()
}

// Search runs an FTS5 match over message content and returns highlighted
// snippets ordered by relevance.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit == 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.id, s.name, s.summary, snippet(messages_fts, 0, '**', '**', '...', 32),
		       s.provider, s.model, m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		err := rows.Scan(&r.SessionID, &r.MessageID, &r.SessionName, &r.Summary,
			&r.Snippet, &r.Provider, &r.Model, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// AddMessage appends a message. A negative Sequence requests the next
// slot; allocation happens inside the transaction so two writers cannot
// claim the same position (the unique index backstops this).
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg *Message) error {
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	toolLogJSON, err := msg.ToolLogJSON()
	if err != nil {
		return fmt.Errorf("serialize tool log: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if msg.Sequence < 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence) + 1, 0) FROM messages WHERE session_id = ?`,
			sessionID).Scan(&msg.Sequence)
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, tool_log, is_error, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, nullString(toolLogJSON), msg.IsError, msg.CreatedAt, msg.Sequence)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// GetMessages returns a session's transcript in sequence order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, session_id, role, content, tool_log, is_error, created_at, sequence
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var toolLogJSON sql.NullString
		err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
			&toolLogJSON, &msg.IsError, &msg.CreatedAt, &msg.Sequence)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolLogJSON.Valid {
			if err := msg.SetToolLogFromJSON(toolLogJSON.String); err != nil {
				return nil, fmt.Errorf("deserialize tool log: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) SetCurrent(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('current_session', ?)`, sessionID)
	return err
}

// GetCurrent resolves the current-session marker to a full session, or
// (nil, nil) when no marker is set.
func (s *SQLiteStore) GetCurrent(ctx context.Context) (*Session, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM metadata WHERE key = 'current_session'").Scan(&sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, sessionID)
}

func (s *SQLiteStore) ClearCurrent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM metadata WHERE key = 'current_session'")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString maps "" to NULL so user turns don't carry empty tool logs.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
