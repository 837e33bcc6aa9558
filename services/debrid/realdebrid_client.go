package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"streambridge/internal/mediaresolve"
	"streambridge/models"
)

// RealDebridClient implements Provider against the Real-Debrid REST API.
// Real-Debrid removed its instant availability endpoint, so cache status
// cannot be probed up front; hashes are assumed cached and verified during
// resolve, where an uncached torrent surfaces as ErrNotCached.
type RealDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

var _ Provider = (*RealDebridClient)(nil)

func NewRealDebridClient(apiKey string) *RealDebridClient {
	return &RealDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.real-debrid.com/rest/1.0",
	}
}

func (c *RealDebridClient) Name() string {
	return "realdebrid"
}

func (c *RealDebridClient) SupportsCacheCheck() bool {
	return false
}

func init() {
	RegisterProvider("realdebrid", func(apiKey string) Provider {
		return NewRealDebridClient(apiKey)
	})
}

type realDebridError struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

type realDebridAddMagnet struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type realDebridTorrentInfo struct {
	ID       string           `json:"id"`
	Filename string           `json:"filename"`
	Hash     string           `json:"hash"`
	Bytes    int64            `json:"bytes"`
	Status   string           `json:"status"`
	Files    []realDebridFile `json:"files"`
	Links    []string         `json:"links"`
}

type realDebridFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type realDebridUnrestrict struct {
	Download string `json:"download"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// CheckCacheStatuses marks every hash cached. See the type comment: the API
// offers no bulk availability check, so the truth comes out at resolve time.
func (c *RealDebridClient) CheckCacheStatuses(_ context.Context, hashes []string) (map[string]models.CacheResult, error) {
	out := make(map[string]models.CacheResult, len(hashes))
	for _, hash := range hashes {
		hash = strings.ToLower(hash)
		out[hash] = models.CacheResult{Hash: hash, Cached: true, Service: c.Name()}
	}
	return out, nil
}

func (c *RealDebridClient) call(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("realdebrid API key not configured")
	}

	return retry.Do(
		func() error {
			var body io.Reader
			if form != nil {
				body = strings.NewReader(form.Encode())
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			if form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("realdebrid request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(fmt.Errorf("realdebrid authentication failed: invalid API key"))
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("realdebrid returned status %d: %s", resp.StatusCode, string(raw))
			}
			if resp.StatusCode >= http.StatusBadRequest {
				var apiErr realDebridError
				if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
					return retry.Unrecoverable(mapRealDebridError(apiErr))
				}
				return retry.Unrecoverable(fmt.Errorf("realdebrid returned status %d: %s", resp.StatusCode, string(raw)))
			}
			if out == nil || resp.StatusCode == http.StatusNoContent {
				return nil
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

func mapRealDebridError(apiErr realDebridError) error {
	switch apiErr.Error {
	case "permission_denied", "not_premium", "must_be_premium":
		return fmt.Errorf("realdebrid: %s: %w", apiErr.Error, ErrNotPremium)
	case "too_many_active_downloads", "active_limit_reached":
		return fmt.Errorf("realdebrid: %s: %w", apiErr.Error, ErrActiveLimit)
	case "infringing_file", "unavailable_file", "file_unavailable":
		return fmt.Errorf("realdebrid: %s: %w", apiErr.Error, ErrNotCached)
	}
	return fmt.Errorf("realdebrid: %s (code %d)", apiErr.Error, apiErr.ErrorCode)
}

// GetStreamURL adds the magnet, selects the wanted file and unrestricts its
// link. A torrent that is not instantly complete counts as uncached; the
// torrent is removed so it does not sit in the account downloading.
func (c *RealDebridClient) GetStreamURL(ctx context.Context, magnetLink string, season, episode int) (string, error) {
	form := url.Values{}
	form.Set("magnet", strings.TrimSpace(magnetLink))

	var added realDebridAddMagnet
	if err := c.call(ctx, http.MethodPost, "/torrents/addMagnet", form, &added); err != nil {
		return "", err
	}

	info, err := c.torrentInfo(ctx, added.ID)
	if err != nil {
		return "", err
	}

	files := make([]models.FileEntry, 0, len(info.Files))
	for _, f := range info.Files {
		files = append(files, models.FileEntry{
			Path:         strings.TrimPrefix(f.Path, "/"),
			SizeBytes:    f.Bytes,
			DownloadLink: strconv.Itoa(f.ID),
			IsVideo:      mediaresolve.IsVideo(f.Path),
			IsSubtitle:   mediaresolve.IsSubtitle(f.Path),
			Extension:    mediaresolve.Extension(f.Path),
		})
	}

	var idx int
	var reason string
	if season > 0 && episode > 0 {
		idx, reason = mediaresolve.SelectEpisodeFile(files, season, episode)
	} else {
		idx, reason = mediaresolve.SelectMovieFile(files)
	}
	if idx == -1 {
		c.deleteTorrent(ctx, added.ID)
		return "", fmt.Errorf("realdebrid: no playable file (%s): %w", reason, ErrNotCached)
	}
	log.Printf("[realdebrid] selected %q (%s)", files[idx].Path, reason)

	selectForm := url.Values{}
	selectForm.Set("files", files[idx].DownloadLink)
	if err := c.call(ctx, http.MethodPost, "/torrents/selectFiles/"+added.ID, selectForm, nil); err != nil {
		c.deleteTorrent(ctx, added.ID)
		return "", err
	}

	info, err = c.waitForDownloaded(ctx, added.ID)
	if err != nil {
		c.deleteTorrent(ctx, added.ID)
		return "", err
	}
	if len(info.Links) == 0 {
		c.deleteTorrent(ctx, added.ID)
		return "", fmt.Errorf("realdebrid: torrent %s has no links: %w", added.ID, ErrNotCached)
	}

	unrestrictForm := url.Values{}
	unrestrictForm.Set("link", info.Links[0])
	var unlocked realDebridUnrestrict
	if err := c.call(ctx, http.MethodPost, "/unrestrict/link", unrestrictForm, &unlocked); err != nil {
		return "", err
	}
	return unlocked.Download, nil
}

func (c *RealDebridClient) torrentInfo(ctx context.Context, id string) (*realDebridTorrentInfo, error) {
	var info realDebridTorrentInfo
	if err := c.call(ctx, http.MethodGet, "/torrents/info/"+id, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// waitForDownloaded polls briefly for the cached case, where the torrent
// flips to downloaded almost immediately after file selection. Anything that
// starts actually downloading is treated as uncached.
func (c *RealDebridClient) waitForDownloaded(ctx context.Context, id string) (*realDebridTorrentInfo, error) {
	for attempt := 0; attempt < 5; attempt++ {
		info, err := c.torrentInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		switch info.Status {
		case "downloaded":
			return info, nil
		case "queued", "downloading":
			return nil, fmt.Errorf("realdebrid: torrent %s is %s: %w", id, info.Status, ErrNotCached)
		case "magnet_error", "error", "virus", "dead":
			return nil, fmt.Errorf("realdebrid: torrent %s failed with status %s", id, info.Status)
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("realdebrid: torrent %s never became ready: %w", id, ErrNotCached)
}

func (c *RealDebridClient) deleteTorrent(ctx context.Context, id string) {
	if err := c.call(ctx, http.MethodDelete, "/torrents/delete/"+id, nil, nil); err != nil {
		log.Printf("[realdebrid] failed to delete torrent %s: %v", id, err)
	}
}
