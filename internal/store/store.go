// Package store provides read-only access to the editor's embedded
// key-value database (state.vscdb). The editor process owns the file;
// everything here opens it in read-only mode and absorbs per-record
// failures into "absent" results.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Mode selects write visibility for a connection.
type Mode int

const (
	// Snapshot sees only durably checkpointed state. Safe default.
	Snapshot Mode = iota
	// Uncommitted additionally sees writes still sitting in the
	// write-ahead log, which real-time change detection needs.
	Uncommitted
)

// Store is a scoped handle on the editor database. Callers open it,
// read, and release it on every exit path.
type Store struct {
	db *sql.DB
}

// Row is one change-scan hit. RowID is SQLite's rowid, which is
// strictly increasing for this append-mostly table.
type Row struct {
	RowID int64
	Key   string
	Value string
}

func Open(path string, mode Mode) (*Store, error) {
	// The DSN must not set _journal_mode here: switching journal mode
	// is a write, and this connection is read-only. The editor's live
	// DB is in WAL mode already; a copy in rollback-journal mode reads
	// just as well.
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	if mode == Uncommitted {
		dsn += "&cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	if mode == Uncommitted {
		if _, err := db.Exec(`PRAGMA read_uncommitted = 1`); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enabling read_uncommitted on %s: %w", path, err)
		}
	}
	// Fail now if the file is missing or not a database, so callers can
	// treat an unusable store as "no data" up front.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key in the main KV table, or
// ok=false when the key is absent or unreadable.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cursorDiskKV WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[store] get %q: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// GetItem reads from the editor's secondary settings table (ItemTable),
// which holds auth and workspace bookkeeping keys.
func (s *Store) GetItem(ctx context.Context, key string) (string, bool) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ItemTable WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[store] get item %q: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// ScanKeys returns all keys under prefix in key order. A failed scan
// yields the keys read so far; individual bad rows are skipped.
func (s *Store) ScanKeys(ctx context.Context, prefix string) []string {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cursorDiskKV WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		log.Printf("[store] scan keys %q: %v", prefix, err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if rows.Scan(&k) != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ScanSince returns all rows under prefix with rowid strictly greater
// than cursor, in rowid order.
func (s *Store) ScanSince(ctx context.Context, prefix string, cursor int64) []Row {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, key, value FROM cursorDiskKV WHERE rowid > ? AND key LIKE ? ORDER BY rowid ASC`,
		cursor, prefix+"%")
	if err != nil {
		log.Printf("[store] scan since %d %q: %v", cursor, prefix, err)
		return nil
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if rows.Scan(&r.RowID, &r.Key, &r.Value) != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

// MaxRowID returns the highest rowid currently under prefix, or zero
// when the prefix is empty.
func (s *Store) MaxRowID(ctx context.Context, prefix string) int64 {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(rowid) FROM cursorDiskKV WHERE key LIKE ?`, prefix+"%").Scan(&max)
	if err != nil {
		log.Printf("[store] max rowid %q: %v", prefix, err)
		return 0
	}
	return max.Int64
}
