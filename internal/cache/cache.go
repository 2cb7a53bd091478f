// Package cache keeps small command outputs on disk between runs, keyed by
// content hashes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"
)

// Store is a directory of entries. Entries older than MaxAge are misses;
// a zero MaxAge never expires.
type Store struct {
	Dir    string
	MaxAge time.Duration
	now    func() time.Time
}

// Default is the per-user store under ~/.scout-audit/cache.
func Default(maxAge time.Duration) (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Store{Dir: filepath.Join(home, ".scout-audit", "cache"), MaxAge: maxAge}, nil
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// Get returns the entry for key if present and fresh.
func (s *Store) Get(key string) ([]byte, bool) {
	path := filepath.Join(s.Dir, key)
	if s.MaxAge > 0 {
		fi, err := os.Stat(path)
		if err != nil || s.clock().Sub(fi.ModTime()) > s.MaxAge {
			return nil, false
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Put writes the entry atomically so a concurrent reader never sees a
// partial file.
func (s *Store) Put(key string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.Dir, key))
}

// Key hashes parts into a file name. Parts are separated so shifting bytes
// between them changes the key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileKey hashes the contents of the given files together with tag. Missing
// files contribute their path only.
func FileKey(tag string, paths ...string) string {
	parts := []string{tag}
	for _, p := range paths {
		parts = append(parts, p)
		if b, err := os.ReadFile(p); err == nil {
			parts = append(parts, string(b))
		}
	}
	return Key(parts...)
}
