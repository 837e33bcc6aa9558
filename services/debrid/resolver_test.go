package debrid

import (
	"context"
	"errors"
	"testing"

	"streambridge/internal/resolvetoken"
	"streambridge/internal/streamcache"
	"streambridge/models"
)

func magnetFor(hash string) string {
	return "magnet:?xt=urn:btih:" + hash
}

func tokenFor(t *testing.T, hash, cacheKey string) string {
	t.Helper()
	token, err := resolvetoken.Encode(resolvetoken.Payload{
		MagnetLink: magnetFor(hash),
		CacheKey:   cacheKey,
	})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	return token
}

func TestResolvePrimarySucceedsWithoutTouchingAlternates(t *testing.T) {
	primary := testHash(0)
	alt := testHash(1)

	p1 := &fakeProvider{name: "p1", urls: map[string]string{
		magnetFor(primary): "https://cdn.example/primary.mkv",
	}}

	store := streamcache.NewStore(4)
	store.Put("movie-tt0111161", nil, []models.FallbackEntry{
		{InfoHash: alt, MagnetLink: magnetFor(alt), Quality: "2160p"},
	})

	r := NewResolver([]Provider{p1}, store)
	url, err := r.Resolve(context.Background(), tokenFor(t, primary, "movie-tt0111161"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/primary.mkv" {
		t.Fatalf("unexpected url %q", url)
	}
	for _, m := range p1.resolveLog {
		if m == magnetFor(alt) {
			t.Fatal("alternate must not be attempted when the primary succeeds")
		}
	}
}

func TestResolveFallsBackToAlternateOnSecondProvider(t *testing.T) {
	primary := testHash(0)
	alt := testHash(1)

	p1 := &fakeProvider{name: "p1", resolveErr: ErrNotPremium}
	p2 := &fakeProvider{name: "p2", urls: map[string]string{
		magnetFor(alt): "https://cdn.example/alternate.mkv",
	}}
	p3 := &fakeProvider{name: "p3"}

	store := streamcache.NewStore(4)
	store.Put("movie-tt0111161", nil, []models.FallbackEntry{
		{InfoHash: primary, MagnetLink: magnetFor(primary), Quality: "2160p"},
		{InfoHash: alt, MagnetLink: magnetFor(alt), Quality: "1080p"},
	})

	r := NewResolver([]Provider{p1, p2, p3}, store)
	url, err := r.Resolve(context.Background(), tokenFor(t, primary, "movie-tt0111161"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/alternate.mkv" {
		t.Fatalf("unexpected url %q", url)
	}
	if len(p3.resolveLog) != 1 {
		// p3 sees only the primary attempt; the alternate stops at p2.
		t.Fatalf("expected p3 to be tried once (primary only), got %d attempts", len(p3.resolveLog))
	}
}

func TestResolveWalksAlternatesByQuality(t *testing.T) {
	primary := testHash(0)
	low := testHash(1)
	high := testHash(2)

	p1 := &fakeProvider{name: "p1", urls: map[string]string{
		magnetFor(low):  "https://cdn.example/low.mkv",
		magnetFor(high): "https://cdn.example/high.mkv",
	}}

	store := streamcache.NewStore(4)
	store.Put("movie-tt0111161", nil, []models.FallbackEntry{
		{InfoHash: low, MagnetLink: magnetFor(low), Quality: "480p"},
		{InfoHash: high, MagnetLink: magnetFor(high), Quality: "2160p"},
	})

	r := NewResolver([]Provider{p1}, store)
	url, err := r.Resolve(context.Background(), tokenFor(t, primary, "movie-tt0111161"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/high.mkv" {
		t.Fatalf("expected the higher-quality alternate first, got %q", url)
	}
}

func TestResolveExhaustionReturnsNoCachedStream(t *testing.T) {
	primary := testHash(0)

	p1 := &fakeProvider{name: "p1", resolveErr: ErrActiveLimit}
	store := streamcache.NewStore(4)
	store.Put("movie-tt0111161", nil, []models.FallbackEntry{
		{InfoHash: testHash(1), MagnetLink: magnetFor(testHash(1)), Quality: "1080p"},
	})

	r := NewResolver([]Provider{p1}, store)
	_, err := r.Resolve(context.Background(), tokenFor(t, primary, "movie-tt0111161"))
	if !errors.Is(err, ErrNoCachedStream) {
		t.Fatalf("expected ErrNoCachedStream, got %v", err)
	}
}

func TestResolveLegacyTokenHasNoFallback(t *testing.T) {
	primary := testHash(0)

	p1 := &fakeProvider{name: "p1"}
	store := streamcache.NewStore(4)

	token := tokenFor(t, primary, "")
	_, err := NewResolver([]Provider{p1}, store).Resolve(context.Background(), token)
	if !errors.Is(err, ErrNoCachedStream) {
		t.Fatalf("expected ErrNoCachedStream, got %v", err)
	}
	if len(p1.resolveLog) != 1 {
		t.Fatalf("expected exactly the primary attempt, got %d", len(p1.resolveLog))
	}
}

func TestResolveSkipsAlternateMatchingPrimaryHash(t *testing.T) {
	primary := testHash(0)

	p1 := &fakeProvider{name: "p1"}
	store := streamcache.NewStore(4)
	store.Put("movie-tt0111161", nil, []models.FallbackEntry{
		{InfoHash: primary, MagnetLink: magnetFor(primary), Quality: "1080p"},
	})

	r := NewResolver([]Provider{p1}, store)
	_, err := r.Resolve(context.Background(), tokenFor(t, primary, "movie-tt0111161"))
	if !errors.Is(err, ErrNoCachedStream) {
		t.Fatalf("expected ErrNoCachedStream, got %v", err)
	}
	if len(p1.resolveLog) != 1 {
		t.Fatalf("the already-tried hash must not be retried, got %d attempts", len(p1.resolveLog))
	}
}

func TestResolveRejectsNonHTTPURL(t *testing.T) {
	primary := testHash(0)

	p1 := &fakeProvider{name: "p1", urls: map[string]string{
		magnetFor(primary): "ftp://nope.example/file.mkv",
	}}

	r := NewResolver([]Provider{p1}, streamcache.NewStore(4))
	_, err := r.Resolve(context.Background(), tokenFor(t, primary, ""))
	if !errors.Is(err, ErrNoCachedStream) {
		t.Fatalf("expected ErrNoCachedStream for non-http url, got %v", err)
	}
}

func TestResolveBadToken(t *testing.T) {
	r := NewResolver([]Provider{&fakeProvider{name: "p1"}}, streamcache.NewStore(4))
	if _, err := r.Resolve(context.Background(), "%%%not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestParseCacheKey(t *testing.T) {
	cases := []struct {
		key             string
		season, episode int
	}{
		{"series-tt0944947-s1e5", 1, 5},
		{"series-tt0944947-s12e103", 12, 103},
		{"movie-tt0111161", 0, 0},
		{"", 0, 0},
	}
	for _, tc := range cases {
		s, e := parseCacheKey(tc.key)
		if s != tc.season || e != tc.episode {
			t.Errorf("parseCacheKey(%q) = s%de%d, want s%de%d", tc.key, s, e, tc.season, tc.episode)
		}
	}
}
