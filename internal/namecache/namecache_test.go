package namecache

import (
	"path/filepath"
	"testing"
)

func TestRecordLookup(t *testing.T) {
	s := New()
	defer s.Close()

	s.Record("Actor.a1", "Strahd")
	if name, ok := s.Lookup("Actor.a1"); !ok || name != "Strahd" {
		t.Errorf("lookup = %q %v", name, ok)
	}
	if _, ok := s.Lookup("Actor.missing"); ok {
		t.Error("missing id should not resolve")
	}
}

func TestRecord_IgnoresEmpty(t *testing.T) {
	s := New()
	defer s.Close()

	s.Record("", "name")
	s.Record("id", "")
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestSQLitePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Record("Item.i1", "Sunsword")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the entry survives and warms the LRU on first lookup.
	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if name, ok := s2.Lookup("Item.i1"); !ok || name != "Sunsword" {
		t.Errorf("persisted lookup = %q %v", name, ok)
	}
	if name, ok := s2.Lookup("Item.i1"); !ok || name != "Sunsword" {
		t.Errorf("warmed lookup = %q %v", name, ok)
	}
}

func TestSQLiteUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Record("u1", "Old Name")
	s.Record("u1", "New Name")
	if name, _ := s.Lookup("u1"); name != "New Name" {
		t.Errorf("name = %q, want New Name", name)
	}
}
