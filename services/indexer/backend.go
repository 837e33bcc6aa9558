package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streambridge/models"
	"streambridge/utils/magnet"
	"streambridge/utils/releaseparse"
)

// Backend is a single torrent search source.
type Backend interface {
	Name() string
	Search(ctx context.Context, mediaType models.MediaType, query string) ([]models.StreamCandidate, error)
}

// HTTPBackend queries a self-hosted indexer bridge over its JSON search API.
type HTTPBackend struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPBackend constructs a backend for the given base URL. The name is the
// user-configured display name shown in stream titles.
func NewHTTPBackend(name, baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{
		name:       strings.TrimSpace(name),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

func (b *HTTPBackend) Name() string {
	if b.name != "" {
		return b.name
	}
	return b.baseURL
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	MagnetLink string `json:"magnetLink"`
	Quality    string `json:"quality"`
	Size       int64  `json:"size"`
}

// Search queries the backend and maps its results to stream candidates.
// Results without a parseable info hash are dropped.
func (b *HTTPBackend) Search(ctx context.Context, mediaType models.MediaType, query string) ([]models.StreamCandidate, error) {
	params := url.Values{}
	params.Set("type", string(mediaType))
	params.Set("query", query)
	apiURL := fmt.Sprintf("%s/api/search?%s", b.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", b.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s returned status %d: %s", b.Name(), resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	candidates := make([]models.StreamCandidate, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.MagnetLink == "" {
			continue
		}
		hash := magnet.InfoHash(r.MagnetLink)
		if hash == "" {
			continue
		}

		quality := r.Quality
		if quality == "" {
			quality = releaseparse.QualityLabel(r.Title)
		}

		candidates = append(candidates, models.StreamCandidate{
			InfoHash:     hash,
			MagnetLink:   r.MagnetLink,
			Filename:     r.Filename,
			DisplayTitle: r.Title,
			Quality:      quality,
			SizeBytes:    r.Size,
			SourceName:   b.Name(),
		})
	}

	return candidates, nil
}
