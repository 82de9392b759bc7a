package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/costlens/costlens/internal/llm"
	"github.com/costlens/costlens/internal/turn"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "sessions.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{
		Summary:  "what drives our EC2 costs?",
		Provider: "bedrock",
		Model:    "anthropic.claude-sonnet-4-5-20250929-v1:0",
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for existing session")
	}
	if got.Summary != sess.Summary || got.Provider != "bedrock" {
		t.Errorf("Get() = %+v", got)
	}
	if got.Status != StatusActive {
		t.Errorf("new session status = %q, want active", got.Status)
	}

	got.Name = "cost deep dive"
	got.Status = StatusComplete
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	again, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Name != "cost deep dive" || again.Status != StatusComplete {
		t.Errorf("updated session = %+v", again)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	missing, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("Get() after delete should return nil")
	}
	if err := store.Delete(ctx, sess.ID); err == nil {
		t.Error("Delete() of missing session should fail")
	}
}

func TestMessageRoundTripPreservesToolLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "bedrock", Model: "m"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	log := []turn.ToolCallRecord{
		{
			ID:        "c1",
			Tool:      "redshift__execute_query",
			Payload:   json.RawMessage(`{"sql":"select 1"}`),
			Status:    turn.StatusCompleted,
			StartedAt: time.Now().Truncate(time.Second),
		},
	}
	turns := []turn.ConversationTurn{
		{Role: llm.RoleUser, Content: "how much did we spend?", CreatedAt: time.Now()},
		{Role: llm.RoleAssistant, Content: "About $42k.", ToolLog: log, CreatedAt: time.Now()},
	}
	for _, tn := range turns {
		if err := store.AddMessage(ctx, sess.ID, NewMessage(sess.ID, tn)); err != nil {
			t.Fatalf("AddMessage() error: %v", err)
		}
	}

	msgs, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("GetMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Sequence != 0 || msgs[1].Sequence != 1 {
		t.Errorf("sequences = %d, %d, want 0, 1", msgs[0].Sequence, msgs[1].Sequence)
	}
	if msgs[0].Role != llm.RoleUser || len(msgs[0].ToolLog) != 0 {
		t.Errorf("user message = %+v", msgs[0])
	}

	gotLog := msgs[1].ToolLog
	if len(gotLog) != 1 {
		t.Fatalf("assistant tool log has %d records, want 1", len(gotLog))
	}
	if gotLog[0].ID != "c1" || gotLog[0].Status != turn.StatusCompleted {
		t.Errorf("record = %+v", gotLog[0])
	}
	if gotLog[0].SQL() != "select 1" {
		t.Errorf("SQL() = %q after round trip", gotLog[0].SQL())
	}

	// Conversion back to turns for session resume.
	restored := msgs[1].ToTurn()
	if restored.Content != "About $42k." || len(restored.ToolLog) != 1 {
		t.Errorf("ToTurn() = %+v", restored)
	}
}

func TestErrorTurnPersisted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "anthropic", Model: "m"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	errTurn := turn.ConversationTurn{
		Role:      llm.RoleAssistant,
		Content:   "Error: rate limited",
		IsError:   true,
		CreatedAt: time.Now(),
	}
	if err := store.AddMessage(ctx, sess.ID, NewMessage(sess.ID, errTurn)); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.GetMessages(ctx, sess.ID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !msgs[0].IsError {
		t.Errorf("error flag lost: %+v", msgs)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := &Session{Provider: "bedrock", Model: "m1", Summary: "first"}
	b := &Session{Provider: "openai", Model: "m2", Summary: "second"}
	c := &Session{Provider: "bedrock", Model: "m1", Summary: "archived", Archived: true}
	for _, s := range []*Session{a, b, c} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List() returned %d sessions, want 2 non-archived", len(all))
	}

	bedrock, err := store.List(ctx, ListOptions{Provider: "bedrock"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bedrock) != 1 || bedrock[0].ID != a.ID {
		t.Errorf("provider filter returned %+v", bedrock)
	}

	withArchived, err := store.List(ctx, ListOptions{Archived: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(withArchived) != 3 {
		t.Errorf("List(archived) returned %d sessions, want 3", len(withArchived))
	}
}

func TestSearchFindsMessageContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "bedrock", Model: "m", Name: "sp review"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	msg := NewMessage(sess.ID, turn.ConversationTurn{
		Role:      llm.RoleAssistant,
		Content:   "Savings Plans coverage is 45% for compute workloads.",
		CreatedAt: time.Now(),
	})
	if err := store.AddMessage(ctx, sess.ID, msg); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "coverage", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}
	if results[0].SessionID != sess.ID {
		t.Errorf("result session = %q, want %q", results[0].SessionID, sess.ID)
	}
	if results[0].Snippet == "" {
		t.Error("Search() returned empty snippet")
	}

	none, err := store.Search(ctx, "kubernetes", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("Search() for absent term returned %d results", len(none))
	}
}

func TestMetricsAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{Provider: "bedrock", Model: "m"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateMetrics(ctx, sess.ID, 3, 1200, 400); err != nil {
		t.Fatalf("UpdateMetrics() error: %v", err)
	}
	if err := store.UpdateMetrics(ctx, sess.ID, 2, 800, 300); err != nil {
		t.Fatal(err)
	}
	if err := store.IncrementUserTurns(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ToolCalls != 5 || got.InputTokens != 2000 || got.OutputTokens != 700 {
		t.Errorf("metrics = %d calls, %d in, %d out", got.ToolCalls, got.InputTokens, got.OutputTokens)
	}
	if got.UserTurns != 1 {
		t.Errorf("user turns = %d, want 1", got.UserTurns)
	}
}

func TestCurrentSessionTracking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	none, err := store.GetCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Error("GetCurrent() on fresh store should return nil")
	}

	sess := &Session{Provider: "bedrock", Model: "m"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := store.SetCurrent(ctx, sess.ID); err != nil {
		t.Fatalf("SetCurrent() error: %v", err)
	}

	cur, err := store.GetCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cur == nil || cur.ID != sess.ID {
		t.Errorf("GetCurrent() = %+v, want session %s", cur, sess.ID)
	}

	if err := store.ClearCurrent(ctx); err != nil {
		t.Fatal(err)
	}
	cleared, err := store.GetCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleared != nil {
		t.Error("GetCurrent() after clear should return nil")
	}
}

func TestSchemaReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	sess := &Session{Provider: "bedrock", Model: "m"}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("session lost across reopen")
	}
}

func TestTruncateSummary(t *testing.T) {
	if got := TruncateSummary("  hello\nworld  "); got != "hello" {
		t.Errorf("TruncateSummary() = %q", got)
	}
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	if got := TruncateSummary(string(long)); len(got) != 100 {
		t.Errorf("truncated length = %d, want 100", len(got))
	}
}
