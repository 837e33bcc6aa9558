package debrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"streambridge/internal/resolvetoken"
	"streambridge/internal/streamcache"
	"streambridge/models"
	"streambridge/utils/magnet"
	"streambridge/utils/rank"
)

// ErrNoCachedStream means every provider and every alternate was tried and
// nothing yielded a playable URL.
var ErrNoCachedStream = errors.New("no cached stream available")

// Resolver turns a resolve token into a direct streaming URL, walking cached
// alternates across providers when the primary magnet fails.
type Resolver struct {
	providers []Provider
	store     *streamcache.Store
}

func NewResolver(providers []Provider, store *streamcache.Store) *Resolver {
	return &Resolver{providers: providers, store: store}
}

// Resolve decodes the token and tries the primary magnet against every
// provider in configured order. If that exhausts, the fallback list stored
// under the token's cache key is walked by quality, each alternate again
// against every provider. Soft provider failures move on; only exhaustion
// surfaces as ErrNoCachedStream.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	payload, err := resolvetoken.Decode(token)
	if err != nil {
		return "", err
	}

	season, episode := parseCacheKey(payload.CacheKey)
	primaryHash := magnet.InfoHash(payload.MagnetLink)

	if url, ok := r.tryProviders(ctx, payload.MagnetLink, season, episode); ok {
		return url, nil
	}

	if payload.CacheKey == "" {
		return "", ErrNoCachedStream
	}

	entry := r.store.Get(payload.CacheKey)
	if entry == nil {
		log.Printf("[resolver] no fallback list for %s", payload.CacheKey)
		return "", ErrNoCachedStream
	}

	alternates := rank.FallbackOrder(entry.Fallbacks)
	for _, alt := range alternates {
		if alt.InfoHash == primaryHash || alt.MagnetLink == "" {
			continue
		}
		log.Printf("[resolver] trying alternate %s (%s, %s)", alt.InfoHash, alt.Quality, alt.SourceName)
		if url, ok := r.tryProviders(ctx, alt.MagnetLink, season, episode); ok {
			return url, nil
		}
	}

	return "", ErrNoCachedStream
}

// tryProviders attempts one magnet on every provider in configured order and
// returns the first usable http(s) URL.
func (r *Resolver) tryProviders(ctx context.Context, magnetLink string, season, episode int) (string, bool) {
	for _, prov := range r.providers {
		if ctx.Err() != nil {
			return "", false
		}

		url, err := prov.GetStreamURL(ctx, magnetLink, season, episode)
		if err != nil {
			if IsSoftFailure(err) {
				log.Printf("[resolver] %s cannot serve this torrent: %v", prov.Name(), err)
			} else {
				log.Printf("[resolver] %s resolution failed: %v", prov.Name(), err)
			}
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			log.Printf("[resolver] %s returned non-http URL %q, skipping", prov.Name(), url)
			continue
		}
		return url, true
	}
	return "", false
}

var cacheKeyEpisodePattern = regexp.MustCompile(`-s(\d+)e(\d+)$`)

// parseCacheKey recovers season and episode from a content cache key like
// "series-tt0944947-s1e5". Movie keys yield zeros.
func parseCacheKey(key string) (season, episode int) {
	m := cacheKeyEpisodePattern.FindStringSubmatch(key)
	if len(m) != 3 {
		return 0, 0
	}
	season, _ = strconv.Atoi(m[1])
	episode, _ = strconv.Atoi(m[2])
	return season, episode
}

// BuildToken encodes the resolve token for one ranked stream.
func BuildToken(stream models.RankedStream, cacheKey string) (string, error) {
	if stream.MagnetLink == "" {
		return "", fmt.Errorf("stream %s has no magnet link", stream.InfoHash)
	}
	return resolvetoken.Encode(resolvetoken.Payload{
		MagnetLink: stream.MagnetLink,
		CacheKey:   cacheKey,
	})
}
