package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/usagelens/cursorusage/internal/core"
)

// Fixture state DBs mirror the editor's schema: conversation and turn
// records in cursorDiskKV, settings in ItemTable.

func newStateDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	return newStateDBAt(t, filepath.Join(t.TempDir(), "state.vscdb"))
}

func newStateDBAt(t *testing.T, path string) (string, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE cursorDiskKV (key TEXT PRIMARY KEY, value TEXT)`,
		`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture schema: %v", err)
		}
	}
	return path, db
}

func putKV(t *testing.T, db *sql.DB, key, value string) {
	t.Helper()
	if _, err := db.Exec(`INSERT OR REPLACE INTO cursorDiskKV (key, value) VALUES (?, ?)`, key, value); err != nil {
		t.Fatalf("insert %s: %v", key, err)
	}
}

func deleteKV(t *testing.T, db *sql.DB, key string) {
	t.Helper()
	if _, err := db.Exec(`DELETE FROM cursorDiskKV WHERE key = ?`, key); err != nil {
		t.Fatalf("delete %s: %v", key, err)
	}
}

func putComposer(t *testing.T, db *sql.DB, id, model string, createdAt, updatedAt int64, turnIDs ...string) {
	t.Helper()
	headers := make([]map[string]any, 0, len(turnIDs))
	for _, tid := range turnIDs {
		headers = append(headers, map[string]any{"bubbleId": tid, "type": 2})
	}
	rec := map[string]any{
		"composerId":                  id,
		"name":                        "conversation " + id,
		"createdAt":                   createdAt,
		"lastUpdatedAt":               updatedAt,
		"fullConversationHeadersOnly": headers,
	}
	if model != "" {
		rec["latestModel"] = model
	}
	raw, _ := json.Marshal(rec)
	putKV(t, db, composerKeyPrefix+id, string(raw))
}

type bubble struct {
	Type      int
	Text      string
	Model     string
	CreatedAt int64
	Input     int64
	Output    int64
}

func putBubble(t *testing.T, db *sql.DB, convID, turnID string, b bubble) {
	t.Helper()
	rec := map[string]any{
		"type": b.Type,
		"text": b.Text,
	}
	if b.Model != "" {
		rec["modelType"] = b.Model
	}
	if b.CreatedAt > 0 {
		rec["createdAt"] = b.CreatedAt
	}
	if b.Input > 0 || b.Output > 0 {
		rec["tokenCount"] = map[string]int64{
			"inputTokens":  b.Input,
			"outputTokens": b.Output,
		}
	}
	raw, _ := json.Marshal(rec)
	putKV(t, db, bubbleKey(convID, turnID), string(raw))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeFeed struct {
	mu      sync.Mutex
	records []core.EnrichmentRecord
	calls   int
}

func (f *fakeFeed) Records(context.Context) []core.EnrichmentRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]core.EnrichmentRecord(nil), f.records...)
}

func (f *fakeFeed) set(records []core.EnrichmentRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

type fakeProjects map[string]core.Project

func (f fakeProjects) Projects(context.Context) map[string]core.Project { return f }

// newTestEngine builds an engine whose background timers are parked so
// tests drive every scan and parse explicitly.
func newTestEngine(t *testing.T, storePath string, deps Deps, mut func(*Config)) (*Engine, *fakeClock) {
	t.Helper()
	cfg := Config{
		StorePath:              storePath,
		ForceReconcileInterval: time.Hour,
		PollInterval:           time.Hour,
		Debounce:               time.Hour,
		PendingInterval:        time.Hour,
	}
	if mut != nil {
		mut(&cfg)
	}
	e, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	clock := &fakeClock{t: time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)}
	e.now = clock.Now
	return e, clock
}

func outputs(rows []core.UsageRow) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Tokens.Output)
	}
	return out
}
