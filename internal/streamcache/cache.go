// Package streamcache holds recently ranked stream lists in memory so a
// resolve request can walk alternates without re-running search and probing.
package streamcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"streambridge/models"
)

// DefaultCapacity bounds the number of content keys the store retains.
const DefaultCapacity = 256

// Entry is everything cached for one content key.
type Entry struct {
	Ranked    []models.RankedStream
	Fallbacks []models.FallbackEntry
	StoredAt  time.Time
}

// Store is a bounded in-memory map keyed by content cache key. When full it
// evicts the oldest entry by insertion order; re-storing an existing key
// replaces the entry in place without refreshing its eviction position.
type Store struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*Entry
	order    []string
}

// NewStore returns a Store bounded to capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[string]*Entry, capacity),
	}
}

// Put stores the ranked streams and fallback list for a content key.
func (s *Store) Put(key string, ranked []models.RankedStream, fallbacks []models.FallbackEntry) {
	entry := &Entry{
		Ranked:    append([]models.RankedStream(nil), ranked...),
		Fallbacks: append([]models.FallbackEntry(nil), fallbacks...),
		StoredAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		s.entries[key] = entry
		return
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}

	s.entries[key] = entry
	s.order = append(s.order, key)
}

// Get returns a copy of the entry for the key, or nil when absent. Lookups
// do not affect eviction order.
func (s *Store) Get(key string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	return &Entry{
		Ranked:    append([]models.RankedStream(nil), entry.Ranked...),
		Fallbacks: append([]models.FallbackEntry(nil), entry.Fallbacks...),
		StoredAt:  entry.StoredAt,
	}
}

// Len reports the number of cached content keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FileListMemo caches torrent file listings fetched from debrid providers,
// keyed by "{service}:{infohash}". Entries expire so stale listings from a
// provider-side delete do not linger.
type FileListMemo struct {
	lru *expirable.LRU[string, []models.FileEntry]
}

// NewFileListMemo returns a memo holding up to size listings for ttl.
func NewFileListMemo(size int, ttl time.Duration) *FileListMemo {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &FileListMemo{lru: expirable.NewLRU[string, []models.FileEntry](size, nil, ttl)}
}

// Get returns the cached listing and whether it was present.
func (m *FileListMemo) Get(service, infoHash string) ([]models.FileEntry, bool) {
	return m.lru.Get(service + ":" + infoHash)
}

// Put stores a listing.
func (m *FileListMemo) Put(service, infoHash string, files []models.FileEntry) {
	m.lru.Add(service+":"+infoHash, files)
}
