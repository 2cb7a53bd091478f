package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_GetPut(t *testing.T) {
	s := &Store{Dir: filepath.Join(t.TempDir(), "nested")}
	key := Key("metadata", "abc")
	if _, ok := s.Get(key); ok {
		t.Fatal("Get() hit on empty store")
	}
	if err := s.Put(key, []byte("payload")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	b, ok := s.Get(key)
	if !ok || string(b) != "payload" {
		t.Errorf("Get() = %q, %v", b, ok)
	}
	entries, _ := os.ReadDir(s.Dir)
	if len(entries) != 1 {
		t.Errorf("store has %d files, want 1 (no temp leftovers)", len(entries))
	}
}

func TestStore_Expiry(t *testing.T) {
	now := time.Now()
	s := &Store{Dir: t.TempDir(), MaxAge: time.Minute, now: func() time.Time { return now }}
	if err := s.Put("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("k"); !ok {
		t.Error("Get() missed a fresh entry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := s.Get("k"); ok {
		t.Error("Get() returned an expired entry")
	}
}

func TestDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	s, err := Default(0)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".scout-audit", "cache"); s.Dir != want {
		t.Errorf("Dir = %q, want %q", s.Dir, want)
	}
}

func TestKeySeparatesParts(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("Key() should not collide when parts shift")
	}
}

func TestFileKeyTracksContent(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Cargo.toml")
	if err := os.WriteFile(manifest, []byte("[package]\nname = \"a\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	first := FileKey("meta", manifest)
	if first != FileKey("meta", manifest) {
		t.Error("FileKey() not stable")
	}
	if err := os.WriteFile(manifest, []byte("[package]\nname = \"b\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if first == FileKey("meta", manifest) {
		t.Error("FileKey() should change with file content")
	}
}
