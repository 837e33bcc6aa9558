package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"streambridge/internal/streamcache"
	"streambridge/models"
	"streambridge/services/debrid"
	"streambridge/utils/rank"
)

type aggregatorService interface {
	Search(ctx context.Context, mediaType models.MediaType, id string, season, episode int) ([]models.StreamCandidate, error)
}

type proberService interface {
	Probe(ctx context.Context, candidates []models.StreamCandidate) ([]models.RankedStream, error)
}

type resolverService interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StreamHandler serves the Stremio addon endpoints: manifest, stream lists
// and resolve redirects.
type StreamHandler struct {
	Aggregator aggregatorService
	Prober     proberService
	Resolver   resolverService
	Store      *streamcache.Store
	BaseURL    string
	Version    string
}

func NewStreamHandler(aggregator aggregatorService, prober proberService, resolver resolverService, store *streamcache.Store, baseURL, version string) *StreamHandler {
	return &StreamHandler{
		Aggregator: aggregator,
		Prober:     prober,
		Resolver:   resolver,
		Store:      store,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Version:    version,
	}
}

// Manifest serves the addon manifest.
func (h *StreamHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Manifest{
		ID:          "com.streambridge.addon",
		Version:     h.Version,
		Name:        "StreamBridge",
		Description: "Debrid-cached torrent streams from your own indexers",
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series"},
		Catalogs:    []models.Catalog{},
		IDPrefixes:  []string{"tt"},
	})
}

// GetStreams handles /stream/{type}/{id}.json: aggregate, probe, rank,
// tokenize, respond. The fallback list is written to the stream cache in the
// background so the response never waits on it.
func (h *StreamHandler) GetStreams(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()[:8]
	vars := mux.Vars(r)

	mediaType, id, season, episode, err := parseStreamRequest(vars["type"], vars["id"])
	if err != nil {
		log.Printf("[stream %s] bad request: %v", reqID, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	log.Printf("[stream %s] %s %s s%de%d", reqID, mediaType, id, season, episode)

	candidates, err := h.Aggregator.Search(r.Context(), mediaType, id, season, episode)
	if err != nil {
		log.Printf("[stream %s] aggregation failed: %v", reqID, err)
		writeJSON(w, http.StatusOK, models.StreamResponse{Streams: []models.StremioStream{}})
		return
	}

	probed, err := h.Prober.Probe(r.Context(), candidates)
	if err != nil {
		log.Printf("[stream %s] probing failed: %v", reqID, err)
		writeJSON(w, http.StatusOK, models.StreamResponse{Streams: []models.StremioStream{}})
		return
	}

	final := rank.Final(probed)
	cacheKey := models.ContentCacheKey(mediaType, id, season, episode)

	streams := make([]models.StremioStream, 0, len(final))
	for i := range final {
		token, err := debrid.BuildToken(final[i], cacheKey)
		if err != nil {
			log.Printf("[stream %s] skipping %s: %v", reqID, final[i].InfoHash, err)
			continue
		}
		final[i].Token = token
		streams = append(streams, h.toStremioStream(r, final[i]))
	}

	// Fire and forget: all probed (not just the top-ranked) candidates are
	// worth walking as alternates later.
	go h.writeFallbacks(cacheKey, final, probed)

	log.Printf("[stream %s] returning %d of %d cached streams", reqID, len(streams), len(probed))
	writeJSON(w, http.StatusOK, models.StreamResponse{Streams: streams})
}

// Resolve handles /resolve/{token}: redirect to a direct URL or report that
// nothing cached could serve it.
func (h *StreamHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()[:8]
	token := mux.Vars(r)["token"]

	url, err := h.Resolver.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, debrid.ErrNoCachedStream) {
			log.Printf("[resolve %s] exhausted all providers and alternates", reqID)
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no cached stream available"})
			return
		}
		log.Printf("[resolve %s] bad token: %v", reqID, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid resolve token"})
		return
	}

	log.Printf("[resolve %s] redirecting to direct URL", reqID)
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *StreamHandler) writeFallbacks(cacheKey string, final, probed []models.RankedStream) {
	// An empty list would only burn a FIFO slot and evict a useful one.
	if len(probed) == 0 {
		return
	}
	fallbacks := make([]models.FallbackEntry, 0, len(probed))
	for _, s := range probed {
		fallbacks = append(fallbacks, models.FallbackEntry{
			InfoHash:     s.InfoHash,
			MagnetLink:   s.MagnetLink,
			DisplayTitle: s.DisplayTitle,
			Quality:      s.Quality,
			SizeBytes:    s.SizeBytes,
			SourceName:   s.SourceName,
		})
	}
	h.Store.Put(cacheKey, final, fallbacks)
}

func (h *StreamHandler) toStremioStream(r *http.Request, s models.RankedStream) models.StremioStream {
	base := h.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}

	quality := s.Quality
	if quality == "" {
		quality = "SD"
	}

	desc := s.DisplayTitle
	if s.SizeBytes > 0 {
		desc += "\n💾 " + formatSize(s.SizeBytes)
	}
	if s.SourceName != "" {
		desc += " 🔍 " + s.SourceName
	}

	return models.StremioStream{
		URL:         base + "/resolve/" + s.Token,
		Name:        fmt.Sprintf("StreamBridge %s\n[%s]", quality, s.Service),
		Description: desc,
		BehaviorHints: &models.BehaviorHints{
			NotWebReady: true,
			BingeGroup:  "streambridge-" + quality,
			VideoSize:   s.SizeBytes,
			Filename:    s.Filename,
		},
	}
}

// parseStreamRequest validates the Stremio path segments. The id segment
// arrives with its ".json" suffix and, for series, ":season:episode" parts.
func parseStreamRequest(rawType, rawID string) (models.MediaType, string, int, int, error) {
	mediaType := models.MediaType(rawType)
	if mediaType != models.MediaTypeMovie && mediaType != models.MediaTypeSeries {
		return "", "", 0, 0, fmt.Errorf("unsupported type %q", rawType)
	}

	rawID = strings.TrimSuffix(rawID, ".json")
	parts := strings.Split(rawID, ":")
	id := strings.TrimSpace(parts[0])
	if !strings.HasPrefix(id, "tt") || len(id) <= 2 {
		return "", "", 0, 0, fmt.Errorf("malformed content id %q", rawID)
	}

	if mediaType == models.MediaTypeMovie {
		if len(parts) != 1 {
			return "", "", 0, 0, fmt.Errorf("movie id must not carry season/episode: %q", rawID)
		}
		return mediaType, id, 0, 0, nil
	}

	if len(parts) != 3 {
		return "", "", 0, 0, fmt.Errorf("series id must be id:season:episode, got %q", rawID)
	}
	season, err := strconv.Atoi(parts[1])
	if err != nil || season <= 0 {
		return "", "", 0, 0, fmt.Errorf("invalid season in %q", rawID)
	}
	episode, err := strconv.Atoi(parts[2])
	if err != nil || episode <= 0 {
		return "", "", 0, 0, fmt.Errorf("invalid episode in %q", rawID)
	}
	return mediaType, id, season, episode, nil
}

func formatSize(bytes int64) string {
	const gb = 1024 * 1024 * 1024
	const mb = 1024 * 1024
	if bytes >= gb {
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	}
	return fmt.Sprintf("%.0f MB", float64(bytes)/mb)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[handlers] failed to encode response: %v", err)
	}
}
