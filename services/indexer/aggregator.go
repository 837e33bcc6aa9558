// Package indexer fans a search out to every configured torrent backend and
// merges the results into one deduplicated candidate list.
package indexer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"streambridge/models"
	"streambridge/utils/releaseparse"
)

const (
	// backendTimeout bounds each individual backend query.
	backendTimeout = 8 * time.Second
	// aggregateTimeout bounds the whole fan-out; slower backends are
	// abandoned and whatever has accumulated is returned.
	aggregateTimeout = 12 * time.Second
)

// Aggregator runs searches across a set of backends concurrently.
type Aggregator struct {
	backends []Backend

	perBackendTimeout time.Duration
	globalTimeout     time.Duration
}

func NewAggregator(backends []Backend) *Aggregator {
	return &Aggregator{
		backends:          backends,
		perBackendTimeout: backendTimeout,
		globalTimeout:     aggregateTimeout,
	}
}

// Search queries every backend in parallel and returns the merged candidate
// list, deduplicated by info hash (first seen wins). Series requests are
// filtered to the requested episode; season and episode must be positive.
// Backend failures are logged and skipped, never fatal.
func (a *Aggregator) Search(ctx context.Context, mediaType models.MediaType, id string, season, episode int) ([]models.StreamCandidate, error) {
	if mediaType == models.MediaTypeSeries && (season <= 0 || episode <= 0) {
		return nil, fmt.Errorf("series search requires season and episode, got s%de%d", season, episode)
	}
	if len(a.backends) == 0 {
		return nil, fmt.Errorf("no indexer backends configured")
	}

	query := id
	if mediaType == models.MediaTypeSeries {
		query = fmt.Sprintf("%s:%d:%d", id, season, episode)
	}

	ctx, cancel := context.WithTimeout(ctx, a.globalTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		all []models.StreamCandidate
	)

	var wg conc.WaitGroup
	for _, backend := range a.backends {
		b := backend
		wg.Go(func() {
			bctx, bcancel := context.WithTimeout(ctx, a.perBackendTimeout)
			defer bcancel()

			start := time.Now()
			results, err := b.Search(bctx, mediaType, query)
			if err != nil {
				log.Printf("[indexer] %s failed after %v: %v", b.Name(), time.Since(start).Round(time.Millisecond), err)
				return
			}
			log.Printf("[indexer] %s returned %d results in %v", b.Name(), len(results), time.Since(start).Round(time.Millisecond))

			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.WaitAndRecover()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[indexer] aggregation window closed, returning partial results")
	}

	mu.Lock()
	defer mu.Unlock()
	return a.merge(all, mediaType, season, episode), nil
}

// merge deduplicates by info hash and, for series, drops candidates whose
// release text does not match the requested episode.
func (a *Aggregator) merge(candidates []models.StreamCandidate, mediaType models.MediaType, season, episode int) []models.StreamCandidate {
	seen := make(map[string]struct{}, len(candidates))
	merged := make([]models.StreamCandidate, 0, len(candidates))

	for _, c := range candidates {
		if _, dup := seen[c.InfoHash]; dup {
			continue
		}
		if mediaType == models.MediaTypeSeries {
			text := c.DisplayTitle
			if c.Filename != "" {
				text = text + " " + c.Filename
			}
			if !releaseparse.MatchesEpisode(text, season, episode) {
				continue
			}
		}
		seen[c.InfoHash] = struct{}{}
		merged = append(merged, c)
	}

	log.Printf("[indexer] merged %d raw results into %d candidates", len(candidates), len(merged))
	return merged
}
