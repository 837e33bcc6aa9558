package models

import "fmt"

// MediaType identifies the kind of content a request targets.
type MediaType string

const (
	MediaTypeMovie  MediaType = "movie"
	MediaTypeSeries MediaType = "series"
)

// StreamCandidate is the canonical record produced by the source aggregator.
// InfoHash is always 40 lowercase hex characters and serves as the dedup key
// within a single aggregation run.
type StreamCandidate struct {
	InfoHash     string `json:"infoHash"`
	MagnetLink   string `json:"magnetLink"`
	Filename     string `json:"filename,omitempty"`
	DisplayTitle string `json:"displayTitle"`
	Quality      string `json:"quality,omitempty"` // 4K, 1080p, 720p, 480p, SD
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
	SizeLabel    string `json:"sizeLabel,omitempty"` // e.g. "4.2 GB" as reported by the backend
	SourceName   string `json:"sourceName"`
}

// CacheResult reports one provider's availability verdict for one hash.
type CacheResult struct {
	Hash    string      `json:"hash"`
	Cached  bool        `json:"cached"`
	Files   []FileEntry `json:"files,omitempty"`
	Service string      `json:"service"`
}

// FileEntry describes a single file inside a torrent as reported by a
// debrid provider.
type FileEntry struct {
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes"`
	DownloadLink string `json:"downloadLink,omitempty"`
	IsVideo      bool   `json:"isVideo"`
	IsSubtitle   bool   `json:"isSubtitle"`
	Extension    string `json:"extension"`
}

// RankedStream is a cache-confirmed candidate ready to be returned to the
// client. Token is the opaque resolve handle embedded in the stream URL.
type RankedStream struct {
	StreamCandidate
	Service string `json:"service"`
	Token   string `json:"-"`
}

// FallbackEntry is the subset of a candidate persisted in the stream cache
// so a later resolve request can walk alternates without re-aggregating.
type FallbackEntry struct {
	InfoHash     string `json:"infoHash"`
	MagnetLink   string `json:"magnetLink"`
	DisplayTitle string `json:"displayTitle"`
	Quality      string `json:"quality,omitempty"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
	SourceName   string `json:"sourceName,omitempty"`
}

// ContentCacheKey builds the composite key identifying one logical piece of
// content: "{type}-{id}" for movies, "{type}-{id}-s{season}e{episode}" for
// series episodes.
func ContentCacheKey(mediaType MediaType, id string, season, episode int) string {
	if mediaType == MediaTypeSeries && season > 0 && episode > 0 {
		return fmt.Sprintf("%s-%s-s%de%d", mediaType, id, season, episode)
	}
	return fmt.Sprintf("%s-%s", mediaType, id)
}
