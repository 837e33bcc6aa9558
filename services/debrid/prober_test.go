package debrid

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"streambridge/models"
)

type fakeProvider struct {
	name       string
	cacheCheck bool
	cached     map[string]bool
	checkErr   error
	block      bool

	urls       map[string]string // magnet link -> resolved URL
	resolveErr error
	resolveLog []string
}

func (f *fakeProvider) Name() string             { return f.name }
func (f *fakeProvider) SupportsCacheCheck() bool { return f.cacheCheck }

func (f *fakeProvider) CheckCacheStatuses(ctx context.Context, hashes []string) (map[string]models.CacheResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	out := make(map[string]models.CacheResult)
	for _, h := range hashes {
		if f.cached[h] {
			out[h] = models.CacheResult{Hash: h, Cached: true, Service: f.name}
		}
	}
	return out, nil
}

func (f *fakeProvider) GetStreamURL(_ context.Context, magnetLink string, _, _ int) (string, error) {
	f.resolveLog = append(f.resolveLog, magnetLink)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if url, ok := f.urls[magnetLink]; ok {
		return url, nil
	}
	return "", fmt.Errorf("fake %s: %s: %w", f.name, magnetLink, ErrNotCached)
}

func testHash(seed byte) string {
	return strings.Repeat(string('a'+seed%6), 40)
}

func probeCandidate(hash, quality string, sizeMB int64) models.StreamCandidate {
	return models.StreamCandidate{
		InfoHash:   hash,
		MagnetLink: "magnet:?xt=urn:btih:" + hash,
		Quality:    quality,
		SizeBytes:  sizeMB * 1024 * 1024,
	}
}

func TestProbeKeepsOnlyCached(t *testing.T) {
	h1, h2 := testHash(0), testHash(1)
	p := NewProber([]Provider{
		&fakeProvider{name: "alldebrid", cacheCheck: true, cached: map[string]bool{h1: true}},
	})

	got, err := p.Probe(context.Background(), []models.StreamCandidate{
		probeCandidate(h1, "1080p", 4000),
		probeCandidate(h2, "1080p", 4000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].InfoHash != h1 {
		t.Fatalf("expected only %s cached, got %+v", h1, got)
	}
	if got[0].Service != "alldebrid" {
		t.Fatalf("expected service alldebrid, got %s", got[0].Service)
	}
}

func TestProbeProviderPrecedence(t *testing.T) {
	h := testHash(2)
	p := NewProber([]Provider{
		&fakeProvider{name: "first", cacheCheck: true, cached: map[string]bool{h: true}},
		&fakeProvider{name: "second", cacheCheck: true, cached: map[string]bool{h: true}},
	})

	got, err := p.Probe(context.Background(), []models.StreamCandidate{probeCandidate(h, "1080p", 4000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Service != "first" {
		t.Fatalf("expected the first configured provider to claim the hash, got %+v", got)
	}
}

func TestProbeToleratesProviderFailure(t *testing.T) {
	h := testHash(3)
	p := NewProber([]Provider{
		&fakeProvider{name: "broken", cacheCheck: true, checkErr: fmt.Errorf("api down")},
		&fakeProvider{name: "good", cacheCheck: true, cached: map[string]bool{h: true}},
	})

	got, err := p.Probe(context.Background(), []models.StreamCandidate{probeCandidate(h, "720p", 2000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Service != "good" {
		t.Fatalf("expected the healthy provider's result, got %+v", got)
	}
}

func TestProbeReturnsPartialOnSlowProvider(t *testing.T) {
	h := testHash(4)
	p := NewProber([]Provider{
		&fakeProvider{name: "slow", cacheCheck: true, block: true},
		&fakeProvider{name: "fast", cacheCheck: true, cached: map[string]bool{h: true}},
	})
	p.perProviderTimeout = 50 * time.Millisecond
	p.globalTimeout = 100 * time.Millisecond

	start := time.Now()
	got, err := p.Probe(context.Background(), []models.StreamCandidate{probeCandidate(h, "1080p", 4000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("probe did not respect its window, took %v", elapsed)
	}
	if len(got) != 1 || got[0].Service != "fast" {
		t.Fatalf("expected the fast provider's result, got %+v", got)
	}
}

func TestProbeNoProviders(t *testing.T) {
	p := NewProber(nil)
	if _, err := p.Probe(context.Background(), []models.StreamCandidate{probeCandidate(testHash(5), "1080p", 100)}); err == nil {
		t.Fatal("expected error with no providers")
	}
}

func TestProbeEmptyCandidates(t *testing.T) {
	p := NewProber([]Provider{&fakeProvider{name: "alldebrid", cacheCheck: true}})
	got, err := p.Probe(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no streams, got %d", len(got))
	}
}

func TestProbeAssumeCachedProvider(t *testing.T) {
	// A provider without a cache check reports everything cached; the
	// truth comes out at resolve time.
	h := testHash(0)
	rd := NewRealDebridClient("key")
	p := NewProber([]Provider{rd})

	got, err := p.Probe(context.Background(), []models.StreamCandidate{probeCandidate(h, "1080p", 4000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Service != "realdebrid" {
		t.Fatalf("expected assume-cached result, got %+v", got)
	}
}

func TestCheckCachedInChunksPartialSurvivesFailure(t *testing.T) {
	hashes := make([]string, 150)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%040d", i)
	}

	calls := 0
	results, err := checkCachedInChunks(context.Background(), "test", hashes, func(_ context.Context, chunk []string) (map[string]models.CacheResult, error) {
		calls++
		if calls == 2 {
			return nil, fmt.Errorf("rate limited")
		}
		out := make(map[string]models.CacheResult)
		for _, h := range chunk {
			out[h] = models.CacheResult{Hash: h, Cached: true}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("expected partial results to suppress the error, got %v", err)
	}
	if len(results) != 99 {
		t.Fatalf("expected the first chunk's 99 results, got %d", len(results))
	}
	if calls != 2 {
		t.Fatalf("expected 2 chunk calls, got %d", calls)
	}
}

func TestCheckCachedInChunksChunkSize(t *testing.T) {
	hashes := make([]string, 100)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("%040d", i)
	}

	var sizes []int
	_, err := checkCachedInChunks(context.Background(), "test", hashes, func(_ context.Context, chunk []string) (map[string]models.CacheResult, error) {
		sizes = append(sizes, len(chunk))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sizes) != 2 || sizes[0] != 99 || sizes[1] != 1 {
		t.Fatalf("expected chunks of 99 and 1, got %v", sizes)
	}
}
