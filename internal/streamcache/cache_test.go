package streamcache

import (
	"fmt"
	"testing"
	"time"

	"streambridge/models"
)

func rankedFixture(hash string) []models.RankedStream {
	return []models.RankedStream{{
		Service: "alldebrid",
		StreamCandidate: models.StreamCandidate{
			InfoHash: hash,
			Quality:  "1080p",
		},
	}}
}

func TestStorePutGet(t *testing.T) {
	s := NewStore(4)
	s.Put("movie-tt0111161", rankedFixture("aaaa"), nil)

	entry := s.Get("movie-tt0111161")
	if entry == nil {
		t.Fatal("expected entry")
	}
	if len(entry.Ranked) != 1 || entry.Ranked[0].InfoHash != "aaaa" {
		t.Fatalf("unexpected entry: %+v", entry.Ranked)
	}
	if s.Get("movie-tt9999999") != nil {
		t.Fatal("expected nil for missing key")
	}
}

func TestStoreEvictsOldestAtCapacity(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 3; i++ {
		s.Put(fmt.Sprintf("movie-%d", i), rankedFixture("aaaa"), nil)
	}

	s.Put("movie-3", rankedFixture("bbbb"), nil)

	if s.Get("movie-0") != nil {
		t.Fatal("expected oldest key evicted")
	}
	if s.Get("movie-3") == nil {
		t.Fatal("expected newest key present")
	}
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
}

func TestStoreReplaceKeepsEvictionPosition(t *testing.T) {
	s := NewStore(2)
	s.Put("movie-old", rankedFixture("aaaa"), nil)
	s.Put("movie-mid", rankedFixture("bbbb"), nil)

	// Re-storing the oldest key must not move it to the back of the queue.
	s.Put("movie-old", rankedFixture("cccc"), nil)
	s.Put("movie-new", rankedFixture("dddd"), nil)

	if s.Get("movie-old") != nil {
		t.Fatal("expected re-stored key to keep its original insertion slot and be evicted first")
	}
	if s.Get("movie-mid") == nil || s.Get("movie-new") == nil {
		t.Fatal("expected the other keys to survive")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore(2)
	s.Put("movie-x", rankedFixture("aaaa"), []models.FallbackEntry{{InfoHash: "aaaa"}})

	entry := s.Get("movie-x")
	entry.Ranked[0].InfoHash = "mutated"
	entry.Fallbacks[0].InfoHash = "mutated"

	again := s.Get("movie-x")
	if again.Ranked[0].InfoHash != "aaaa" || again.Fallbacks[0].InfoHash != "aaaa" {
		t.Fatal("mutating a returned entry must not affect the store")
	}
}

func TestStoreDefaultCapacity(t *testing.T) {
	s := NewStore(0)
	if s.capacity != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, s.capacity)
	}
}

func TestFileListMemo(t *testing.T) {
	m := NewFileListMemo(8, time.Minute)

	if _, ok := m.Get("alldebrid", "aaaa"); ok {
		t.Fatal("expected miss")
	}

	m.Put("alldebrid", "aaaa", []models.FileEntry{{Path: "movie.mkv", SizeBytes: 1}})

	files, ok := m.Get("alldebrid", "aaaa")
	if !ok || len(files) != 1 || files[0].Path != "movie.mkv" {
		t.Fatalf("unexpected memo result: ok=%v files=%+v", ok, files)
	}

	// Same hash under a different service is a distinct key.
	if _, ok := m.Get("torbox", "aaaa"); ok {
		t.Fatal("expected miss for different service")
	}
}
