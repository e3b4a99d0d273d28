// Package diskstore provides content-hash-keyed on-disk persistence for
// corpus entries and crash artifacts, fronted by an in-memory LRU,
// generalized from "cached HTTP response bodies" to "fuzzing
// corpus/crash payloads".
package diskstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
)

// Store is a SHA-256-keyed on-disk blob store with an in-memory LRU
// front, trimmed to what the corpus and crash-artifact paths need:
// content is immutable once written (fuzzing inputs are never mutated
// in place), so there is no TTL or overwrite path.
type Store struct {
	baseDir string
	lru     *LRU

	mu    sync.RWMutex
	index map[string]string // hash -> file path
}

// Config configures a Store.
type Config struct {
	BaseDir     string
	LRUCapacity int64 // bytes held in the in-memory front
}

// DefaultConfig returns sensible defaults: a 100 MiB in-memory front
// and no TTL, since entries are immutable.
func DefaultConfig(baseDir string) *Config {
	return &Config{BaseDir: baseDir, LRUCapacity: 100 * 1024 * 1024}
}

// New creates a Store rooted at cfg.BaseDir, creating the directory if
// needed.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig(filepath.Join(os.TempDir(), "hfgo-store"))
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		baseDir: cfg.BaseDir,
		lru:     NewLRU(cfg.LRUCapacity),
		index:   make(map[string]string),
	}, nil
}

// Hash returns the content-addressed key for data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Put writes data under its content hash, returning the key. Writing
// the same content twice is a cheap no-op after the first call.
func (s *Store) Put(data []byte) (string, error) {
	key := Hash(data)

	s.mu.RLock()
	_, exists := s.index[key]
	s.mu.RUnlock()
	if exists {
		s.lru.Set(key, data)
		return key, nil
	}

	path := filepath.Join(s.baseDir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.index[key] = path
	s.mu.Unlock()

	s.lru.Set(key, data)
	return key, nil
}

// Get retrieves data by its content hash, checking the in-memory LRU
// before falling back to disk.
func (s *Store) Get(key string) ([]byte, bool) {
	if data, ok := s.lru.Get(key); ok {
		return data, true
	}

	s.mu.RLock()
	path, exists := s.index[key]
	s.mu.RUnlock()
	if !exists {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	s.lru.Set(key, data)
	return data, true
}

// Path returns the on-disk path for a previously Put key, if any.
func (s *Store) Path(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[key]
	return p, ok
}

// Keys returns all known content hashes, used by Corpus.LoadSeeds to
// build the in-memory seed list from the indexed blobs.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	return keys
}

// LoadDir scans dir for pre-existing blobs (e.g. a seed directory
// or a resumed run's queue directory) and indexes them without
// re-writing them.
func (s *Store) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		key := Hash(data)
		s.index[key] = path
	}
	return nil
}
