package kvstore

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func exercise(t *testing.T, s Store) {
	t.Helper()

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}
	if err := s.Set("tags/secret/1", []byte("one")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("tags/secret/2", []byte("two")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("tags/regular/3", []byte("three")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, ok, err := s.Get("tags/secret/1")
	if err != nil || !ok || !bytes.Equal(v, []byte("one")) {
		t.Fatalf("Get = %q, %v, %v; want one, true, nil", v, ok, err)
	}
	// returned values are copies
	v[0] = 'X'
	v2, _, _ := s.Get("tags/secret/1")
	if !bytes.Equal(v2, []byte("one")) {
		t.Errorf("store value changed through returned slice: %q", v2)
	}

	keys, err := s.Keys("tags/secret/")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "tags/secret/1" || keys[1] != "tags/secret/2" {
		t.Errorf("Keys = %v; want both secret keys", keys)
	}

	if err := s.Delete("tags/secret/1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("tags/secret/1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("tags/secret/1"); ok {
		t.Error("deleted key still present")
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	s, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	exercise(t, s)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat store: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("store permissions = %o; want 600", perm)
	}

	reopened, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, ok, err := reopened.Get("tags/secret/2")
	if err != nil || !ok || string(v) != "two" {
		t.Errorf("after reopen Get = %q, %v, %v; want two", v, ok, err)
	}
	if _, ok, _ := reopened.Get("tags/secret/1"); ok {
		t.Error("deleted key came back after reopen")
	}
	if reopened.Path() != path {
		t.Errorf("Path = %q; want %q", reopened.Path(), path)
	}
}

func TestFileStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	keys, _ := s.Keys("")
	if len(keys) != 0 {
		t.Errorf("expected empty store, got keys %v", keys)
	}
	if !s.Corrupted() {
		t.Error("Corrupted() = false for an undecodable file")
	}
	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set after corruption failed: %v", err)
	}

	reopened, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Corrupted() {
		t.Error("Corrupted() = true after the store was rewritten")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(filepath.Join(dir, "store.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Set("k", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the store file, found %d entries", len(entries))
	}
}
