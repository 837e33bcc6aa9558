package debrid

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"streambridge/models"
	"streambridge/utils/rank"
)

const (
	// providerProbeTimeout bounds one provider's full cache check,
	// including its inter-chunk delays.
	providerProbeTimeout = 20 * time.Second
	// probeWindowTimeout bounds the whole probe; providers still working
	// when it closes are dropped from this response.
	probeWindowTimeout = 30 * time.Second
)

// Prober checks which candidates are cached across all configured providers.
// Provider order is the user's configured precedence: when a hash is cached
// on several services, the earliest provider claims it.
type Prober struct {
	providers []Provider

	perProviderTimeout time.Duration
	globalTimeout      time.Duration
}

func NewProber(providers []Provider) *Prober {
	return &Prober{
		providers:          providers,
		perProviderTimeout: providerProbeTimeout,
		globalTimeout:      probeWindowTimeout,
	}
}

// Probe triages the candidates, checks cache status on every provider in
// parallel, and returns the cached ones as ranked streams. A failing
// provider costs only its own results.
func (p *Prober) Probe(ctx context.Context, candidates []models.StreamCandidate) ([]models.RankedStream, error) {
	if len(p.providers) == 0 {
		return nil, fmt.Errorf("no debrid providers configured")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	triaged := rank.Triage(candidates)
	hashes := make([]string, 0, len(triaged))
	for _, c := range triaged {
		hashes = append(hashes, c.InfoHash)
	}

	ctx, cancel := context.WithTimeout(ctx, p.globalTimeout)
	defer cancel()

	var (
		mu        sync.Mutex
		byService = make(map[string]map[string]models.CacheResult, len(p.providers))
	)

	var wg conc.WaitGroup
	for _, provider := range p.providers {
		prov := provider
		wg.Go(func() {
			pctx, pcancel := context.WithTimeout(ctx, p.perProviderTimeout)
			defer pcancel()

			start := time.Now()
			results, err := prov.CheckCacheStatuses(pctx, hashes)
			if err != nil {
				log.Printf("[prober] %s cache check failed after %v: %v", prov.Name(), time.Since(start).Round(time.Millisecond), err)
				if len(results) == 0 {
					return
				}
				// Keep whatever chunks completed before the failure.
			}
			log.Printf("[prober] %s reported %d/%d cached in %v", prov.Name(), len(results), len(hashes), time.Since(start).Round(time.Millisecond))

			mu.Lock()
			byService[prov.Name()] = results
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
		log.Printf("[prober] probe window closed, merging partial results")
	}

	mu.Lock()
	defer mu.Unlock()
	return p.merge(triaged, byService), nil
}

// merge walks the triaged candidates and assigns each cached hash to the
// first provider in precedence order that holds it.
func (p *Prober) merge(triaged []models.StreamCandidate, byService map[string]map[string]models.CacheResult) []models.RankedStream {
	var streams []models.RankedStream
	for _, c := range triaged {
		for _, prov := range p.providers {
			results, ok := byService[prov.Name()]
			if !ok {
				continue
			}
			res, cached := results[c.InfoHash]
			if !cached || !res.Cached {
				continue
			}
			streams = append(streams, models.RankedStream{
				StreamCandidate: c,
				Service:         prov.Name(),
			})
			break
		}
	}
	log.Printf("[prober] %d of %d triaged candidates cached", len(streams), len(triaged))
	return streams
}
