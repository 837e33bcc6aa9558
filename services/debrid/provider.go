// Package debrid talks to debrid services: bulk cache probing of torrent
// hashes and turning a magnet link into a direct streaming URL.
package debrid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"streambridge/models"
)

// Soft failures: the provider is reachable but cannot serve this request.
// The caller moves on to the next alternate instead of aborting.
var (
	ErrNotPremium  = errors.New("account is not premium")
	ErrActiveLimit = errors.New("too many active torrents")
	ErrNotCached   = errors.New("torrent is not cached")
)

// IsSoftFailure reports whether the error means "try the next alternate"
// rather than "the whole resolve is broken".
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrNotPremium) ||
		errors.Is(err, ErrActiveLimit) ||
		errors.Is(err, ErrNotCached)
}

// Provider is a single debrid service.
type Provider interface {
	// Name returns the provider identifier, e.g. "alldebrid".
	Name() string

	// SupportsCacheCheck reports whether the service exposes a bulk cache
	// availability endpoint. Providers without one are assumed cached and
	// verified at resolve time.
	SupportsCacheCheck() bool

	// CheckCacheStatuses looks up which of the hashes are cached. The
	// returned map is keyed by lowercase info hash; absent hashes are not
	// cached.
	CheckCacheStatuses(ctx context.Context, hashes []string) (map[string]models.CacheResult, error)

	// GetStreamURL turns a magnet link into a direct streaming URL for the
	// requested content. Season and episode are zero for movies. Returns a
	// soft-failure sentinel when the service cannot serve the torrent.
	GetStreamURL(ctx context.Context, magnetLink string, season, episode int) (string, error)
}

// ProviderFactory builds a provider from an API key.
type ProviderFactory func(apiKey string) Provider

var (
	providerMu        sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProvider makes a provider constructor available by name.
// Called from init() in each client file.
func RegisterProvider(name string, factory ProviderFactory) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerFactories[strings.ToLower(name)] = factory
}

// NewProvider constructs a registered provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	providerMu.RLock()
	factory, ok := providerFactories[strings.ToLower(name)]
	providerMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown debrid provider %q (registered: %s)", name, strings.Join(RegisteredProviders(), ", "))
	}
	return factory(apiKey), nil
}

// RegisteredProviders lists the known provider names, sorted.
func RegisteredProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const (
	// cacheCheckChunkSize bounds how many hashes go into one availability
	// request; debrid APIs reject oversized batches.
	cacheCheckChunkSize = 99
	// cacheCheckChunkDelay spaces consecutive chunk requests to stay under
	// provider rate limits.
	cacheCheckChunkDelay = 500 * time.Millisecond
)

// checkCachedInChunks splits hashes into batches and calls check for each,
// pausing between batches. Partial results survive a failing chunk.
func checkCachedInChunks(ctx context.Context, service string, hashes []string, check func(ctx context.Context, chunk []string) (map[string]models.CacheResult, error)) (map[string]models.CacheResult, error) {
	results := make(map[string]models.CacheResult)

	for i := 0; i < len(hashes); i += cacheCheckChunkSize {
		end := i + cacheCheckChunkSize
		if end > len(hashes) {
			end = len(hashes)
		}

		if i > 0 {
			select {
			case <-time.After(cacheCheckChunkDelay):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}

		chunk, err := check(ctx, hashes[i:end])
		if err != nil {
			log.Printf("[%s] cache check chunk %d-%d failed: %v", service, i, end, err)
			if len(results) > 0 {
				return results, nil
			}
			return results, err
		}
		for hash, res := range chunk {
			results[strings.ToLower(hash)] = res
		}
	}

	return results, nil
}
