// Package namecache is the compendium name-lookup store: a map from
// document identifier to display name, used to enrich chat-log entries and
// actor references without a round trip. In-memory LRU, with optional
// SQLite persistence so repeated CLI invocations keep their lookups.
package namecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxEntries = 4096

// Store resolves document ids to display names. Construct with New or
// OpenSQLite and pass it explicitly; the bridge never reaches for a global.
type Store struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, string]
	backing *sqliteBacking // nil when purely in-memory
}

// New returns an in-memory store.
func New() *Store {
	l, _ := lru.New[string, string](maxEntries)
	return &Store{lru: l}
}

// Record remembers a document's display name.
func (s *Store) Record(id, name string) {
	if id == "" || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(id, name)
	if s.backing != nil {
		s.backing.put(id, name)
	}
}

// Lookup resolves a document id to its last known display name.
func (s *Store) Lookup(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.lru.Get(id); ok {
		return name, true
	}
	if s.backing != nil {
		if name, ok := s.backing.get(id); ok {
			s.lru.Add(id, name)
			return name, true
		}
	}
	return "", false
}

// Len reports the number of in-memory entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Close releases the persistence handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backing == nil {
		return nil
	}
	err := s.backing.close()
	s.backing = nil
	return err
}
