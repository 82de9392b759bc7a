package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger writes raw requests and stream events to a JSONL file, one
// file per run. Methods are nil-safe so call sites never guard.
type DebugLogger struct {
	runID  string
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

type debugEntry struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Type      string `json:"type"` // "request" or "event"
}

type debugRequestEntry struct {
	debugEntry
	Turn     int            `json:"turn"`
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Messages []debugMessage `json:"messages"`
	Tools    []string       `json:"tools,omitempty"`
}

type debugMessage struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type debugEventEntry struct {
	debugEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

const debugLogRetention = 7 * 24 * time.Hour

// NewDebugLogger opens a log file under baseDir. Files older than the
// retention window are removed opportunistically.
func NewDebugLogger(baseDir string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	cleanupOldLogs(baseDir, debugLogRetention)

	runID := time.Now().UTC().Format("20060102-150405") + "-" + NewID()[:8]
	file, err := os.OpenFile(filepath.Join(baseDir, runID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// LogRequest records the request sent to the provider for one loop turn.
func (l *DebugLogger) LogRequest(turn int, provider, model string, req Request) {
	if l == nil {
		return
	}
	entry := debugRequestEntry{
		debugEntry: l.entry("request"),
		Turn:       turn,
		Provider:   provider,
		Model:      model,
	}
	for _, m := range req.Messages {
		entry.Messages = append(entry.Messages, debugMessage{Role: string(m.Role), Parts: m.Parts})
	}
	for _, t := range req.Tools {
		entry.Tools = append(entry.Tools, t.Name)
	}
	l.write(entry)
}

// LogEvent records a stream event.
func (l *DebugLogger) LogEvent(event Event) {
	if l == nil {
		return
	}
	entry := debugEventEntry{
		debugEntry: l.entry("event"),
		EventType:  string(event.Type),
	}
	switch event.Type {
	case EventTextDelta:
		entry.Data = map[string]any{"text": event.Text}
	case EventToolCall:
		if event.Tool != nil {
			entry.Data = map[string]any{"id": event.Tool.ID, "name": event.Tool.Name, "arguments": event.Tool.Arguments}
		}
	case EventToolExecStart:
		entry.Data = map[string]any{"id": event.ToolCallID, "name": event.ToolName, "arguments": event.ToolArgs}
	case EventToolExecEnd:
		entry.Data = map[string]any{"id": event.ToolCallID, "name": event.ToolName, "success": event.ToolSuccess}
	case EventInterrupt:
		if event.Intr != nil {
			entry.Data = map[string]any{"id": event.Intr.ID, "reason": event.Intr.Reason}
		}
	case EventUsage:
		if event.Use != nil {
			entry.Data = map[string]any{"input_tokens": event.Use.InputTokens, "output_tokens": event.Use.OutputTokens}
		}
	case EventError:
		if event.Err != nil {
			entry.Data = map[string]any{"error": event.Err.Error()}
		}
	}
	l.write(entry)
}

// Close flushes and closes the log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	_ = l.writer.Flush()
	return l.file.Close()
}

func (l *DebugLogger) entry(kind string) debugEntry {
	return debugEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     l.runID,
		Type:      kind,
	}
}

func (l *DebugLogger) write(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.writer.Write(data)
	l.writer.WriteByte('\n')
	l.writer.Flush()
}

func cleanupOldLogs(baseDir string, retention time.Duration) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, e.Name()))
		}
	}
}
