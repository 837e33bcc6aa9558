package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"streambridge/internal/mediaresolve"
	"streambridge/internal/streamcache"
	"streambridge/models"
	"streambridge/utils/magnet"
)

// TorBoxClient implements Provider against the TorBox v1 API.
type TorBoxClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	fileMemo   *streamcache.FileListMemo
}

var _ Provider = (*TorBoxClient)(nil)

func NewTorBoxClient(apiKey string) *TorBoxClient {
	return &TorBoxClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.torbox.app/v1",
		fileMemo:   streamcache.NewFileListMemo(512, 30*time.Minute),
	}
}

func (c *TorBoxClient) Name() string {
	return "torbox"
}

func (c *TorBoxClient) SupportsCacheCheck() bool {
	return true
}

func init() {
	RegisterProvider("torbox", func(apiKey string) Provider {
		return NewTorBoxClient(apiKey)
	})
}

// torBoxResponse is the generic API response wrapper.
type torBoxResponse[T any] struct {
	Success bool            `json:"success"`
	Error   json.RawMessage `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Data    T               `json:"data,omitempty"`
}

type torBoxCachedEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
}

type torBoxTorrent struct {
	ID       int          `json:"id"`
	Hash     string       `json:"hash"`
	Name     string       `json:"name"`
	Size     int64        `json:"size"`
	Cached   bool         `json:"cached"`
	Finished bool         `json:"download_finished"`
	Files    []torBoxFile `json:"files"`
}

type torBoxFile struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Size      int64  `json:"size"`
}

func (c *TorBoxClient) errorCode(raw json.RawMessage) string {
	var code string
	if json.Unmarshal(raw, &code) == nil {
		return code
	}
	return string(raw)
}

// do performs a request built fresh per attempt so retries can replay the
// body, with auth and the standard retry policy.
func (c *TorBoxClient) do(ctx context.Context, method, endpoint, contentType, body string, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("torbox API key not configured")
	}

	return retry.Do(
		func() error {
			var reader io.Reader
			if body != "" {
				reader = strings.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("torbox request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(fmt.Errorf("torbox authentication failed: invalid API key"))
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("torbox returned status %d: %s", resp.StatusCode, string(raw))
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w (body: %s)", err, string(raw)))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

// CheckCacheStatuses batches the hashes through /torrents/checkcached.
func (c *TorBoxClient) CheckCacheStatuses(ctx context.Context, hashes []string) (map[string]models.CacheResult, error) {
	return checkCachedInChunks(ctx, c.Name(), hashes, c.checkChunk)
}

func (c *TorBoxClient) checkChunk(ctx context.Context, chunk []string) (map[string]models.CacheResult, error) {
	lowered := make([]string, 0, len(chunk))
	for _, h := range chunk {
		if h != "" {
			lowered = append(lowered, strings.ToLower(h))
		}
	}
	if len(lowered) == 0 {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/api/torrents/checkcached?hash=%s&format=object&list_files=false",
		c.baseURL, strings.Join(lowered, ","))

	var result torBoxResponse[map[string]torBoxCachedEntry]
	if err := c.do(ctx, http.MethodGet, endpoint, "", "", &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("torbox checkcached failed: %s (%s)", result.Detail, c.errorCode(result.Error))
	}

	out := make(map[string]models.CacheResult, len(result.Data))
	for hash, entry := range result.Data {
		if entry.Size <= 0 {
			continue
		}
		hash = strings.ToLower(hash)
		out[hash] = models.CacheResult{Hash: hash, Cached: true, Service: c.Name()}
	}
	return out, nil
}

// GetStreamURL submits the magnet cached-only, picks the right file and
// requests its download link.
func (c *TorBoxClient) GetStreamURL(ctx context.Context, magnetLink string, season, episode int) (string, error) {
	files, err := c.torrentFiles(ctx, magnetLink)
	if err != nil {
		return "", err
	}

	var idx int
	var reason string
	if season > 0 && episode > 0 {
		idx, reason = mediaresolve.SelectEpisodeFile(files, season, episode)
	} else {
		idx, reason = mediaresolve.SelectMovieFile(files)
	}
	if idx == -1 {
		return "", fmt.Errorf("torbox: no playable file (%s): %w", reason, ErrNotCached)
	}
	log.Printf("[torbox] selected %q (%s)", files[idx].Path, reason)

	return c.requestDownloadLink(ctx, files[idx].DownloadLink)
}

// torrentFiles submits the magnet with add_only_if_cached and returns its
// files. DownloadLink on each entry carries "torrentID:fileID" for requestdl,
// not a URL. Listings are memoized by hash so alternate resolves within the
// TTL skip the createtorrent round trip.
func (c *TorBoxClient) torrentFiles(ctx context.Context, magnetLink string) ([]models.FileEntry, error) {
	hash := magnet.InfoHash(magnetLink)
	if hash != "" {
		if files, ok := c.fileMemo.Get(c.Name(), hash); ok {
			return files, nil
		}
	}

	payload := &strings.Builder{}
	writer := multipart.NewWriter(payload)
	if err := writer.WriteField("magnet", strings.TrimSpace(magnetLink)); err != nil {
		return nil, fmt.Errorf("write magnet field: %w", err)
	}
	if err := writer.WriteField("add_only_if_cached", "true"); err != nil {
		return nil, fmt.Errorf("write cached field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var created torBoxResponse[*torBoxTorrent]
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/torrents/createtorrent", writer.FormDataContentType(), payload.String(), &created); err != nil {
		return nil, err
	}
	if !created.Success || created.Data == nil {
		code := c.errorCode(created.Error)
		switch code {
		case "ACTIVE_LIMIT":
			return nil, fmt.Errorf("torbox: %s: %w", created.Detail, ErrActiveLimit)
		case "MONTHLY_LIMIT", "PLAN_RESTRICTED_FEATURE":
			return nil, fmt.Errorf("torbox: %s: %w", created.Detail, ErrNotPremium)
		}
		return nil, fmt.Errorf("torbox: magnet %s not cached (%s): %w", hash, code, ErrNotCached)
	}

	torrentID := strconv.Itoa(created.Data.ID)
	files := created.Data.Files
	if len(files) == 0 {
		listed, err := c.torrentByID(ctx, torrentID)
		if err != nil {
			return nil, err
		}
		files = listed.Files
	}

	entries := make([]models.FileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, models.FileEntry{
			Path:         f.Name,
			SizeBytes:    f.Size,
			DownloadLink: torrentID + ":" + strconv.Itoa(f.ID),
			IsVideo:      mediaresolve.IsVideo(f.Name),
			IsSubtitle:   mediaresolve.IsSubtitle(f.Name),
			Extension:    mediaresolve.Extension(f.Name),
		})
	}
	if hash != "" && len(entries) > 0 {
		c.fileMemo.Put(c.Name(), hash, entries)
	}
	return entries, nil
}

func (c *TorBoxClient) torrentByID(ctx context.Context, torrentID string) (*torBoxTorrent, error) {
	endpoint := fmt.Sprintf("%s/api/torrents/mylist/?id=%s", c.baseURL, url.QueryEscape(torrentID))

	var result torBoxResponse[*torBoxTorrent]
	if err := c.do(ctx, http.MethodGet, endpoint, "", "", &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Data == nil {
		return nil, fmt.Errorf("torbox: torrent %s not found (%s)", torrentID, c.errorCode(result.Error))
	}
	return result.Data, nil
}

// requestDownloadLink exchanges a "torrentID:fileID" ref for a direct URL.
func (c *TorBoxClient) requestDownloadLink(ctx context.Context, fileRef string) (string, error) {
	torrentID, fileID, ok := strings.Cut(fileRef, ":")
	if !ok {
		return "", fmt.Errorf("torbox: malformed file ref %q", fileRef)
	}

	query := url.Values{}
	query.Set("torrent_id", torrentID)
	query.Set("file_id", fileID)
	query.Set("token", c.apiKey)
	endpoint := fmt.Sprintf("%s/api/torrents/requestdl/?%s", c.baseURL, query.Encode())

	var result torBoxResponse[string]
	if err := c.do(ctx, http.MethodGet, endpoint, "", "", &result); err != nil {
		return "", err
	}
	if !result.Success || result.Data == "" {
		code := c.errorCode(result.Error)
		// DATABASE_ERROR means the torrent was deleted server-side.
		if code == "DATABASE_ERROR" {
			return "", fmt.Errorf("torbox: torrent %s gone: %w", torrentID, ErrNotCached)
		}
		return "", fmt.Errorf("torbox requestdl failed: %s (%s)", result.Detail, code)
	}
	return result.Data, nil
}
