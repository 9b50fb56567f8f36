// Package worldcache caches per-server world metadata scraped from join
// pages and confirmed by world-ready observations. Keyed by base URL so
// multiple logical targets can share a process without collision.
package worldcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxEntries = 32

// Entry is the cached world metadata for one server.
type Entry struct {
	SystemID        string
	Title           string
	Version         string
	WorldTitle      string
	WorldBackground string
}

type record struct {
	entry     Entry
	confirmed bool
}

// Cache is an explicitly constructed, explicitly passed component — never a
// package-level singleton — so tests can substitute a fresh instance.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *record]
}

func New() *Cache {
	l, _ := lru.New[string, *record](maxEntries)
	return &Cache{lru: l}
}

// Put stores opportunistically scraped metadata, merging non-empty fields
// into any existing record. It does not confirm the entry.
func (c *Cache) Put(baseURL string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.lru.Get(baseURL)
	if !ok {
		rec = &record{}
		c.lru.Add(baseURL, rec)
	}
	merge(&rec.entry, e)
}

// Confirm marks the URL authoritative: worldReady has been observed since
// the cache was last cleared for it. Creates an empty record when none is
// cached yet, so metadata scraped shortly after the confirmation is served.
func (c *Cache) Confirm(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.lru.Get(baseURL)
	if !ok {
		rec = &record{}
		c.lru.Add(baseURL, rec)
	}
	rec.confirmed = true
}

// Get returns the entry only if it has been confirmed: an unconfirmed scrape
// is never served as authoritative.
func (c *Cache) Get(baseURL string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.lru.Get(baseURL)
	if !ok || !rec.confirmed {
		return Entry{}, false
	}
	return rec.entry, true
}

// Peek returns whatever is cached, confirmed or not. Used for partial data
// (e.g. a setup-mode handshake result).
func (c *Cache) Peek(baseURL string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.lru.Get(baseURL)
	if !ok {
		return Entry{}, false
	}
	return rec.entry, true
}

// Invalidate discards the entry for one server. Called on world shutdown and
// on new-launch detection, since a new world invalidates all cached titles.
func (c *Cache) Invalidate(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(baseURL)
}

func merge(dst *Entry, src Entry) {
	if src.SystemID != "" {
		dst.SystemID = src.SystemID
	}
	if src.Title != "" {
		dst.Title = src.Title
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.WorldTitle != "" {
		dst.WorldTitle = src.WorldTitle
	}
	if src.WorldBackground != "" {
		dst.WorldBackground = src.WorldBackground
	}
}
