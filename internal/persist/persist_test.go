package persist

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteKV_RoundTrip(t *testing.T) {
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "cache", "enrichment.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer kv.Close()

	ctx := context.Background()
	if _, ok := kv.Get(ctx, "enriched:c1"); ok {
		t.Fatal("Get before Set should report absent")
	}

	if err := kv.Set(ctx, "enriched:c1", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := kv.Get(ctx, "enriched:c1"); !ok || v != "v1" {
		t.Errorf("Get after Set: got (%q, %v)", v, ok)
	}

	if err := kv.Set(ctx, "enriched:c1", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if v, _ := kv.Get(ctx, "enriched:c1"); v != "v2" {
		t.Errorf("Get after overwrite: got %q, want v2", v)
	}
}

func TestSQLiteKV_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrichment.db")
	ctx := context.Background()

	kv, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := kv.Set(ctx, "k", "durable"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	kv.Close()

	kv2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer kv2.Close()
	if v, ok := kv2.Get(ctx, "k"); !ok || v != "durable" {
		t.Errorf("Get after reopen: got (%q, %v)", v, ok)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatal("empty Memory should report absent")
	}
	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := m.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get: got (%q, %v)", v, ok)
	}
}
