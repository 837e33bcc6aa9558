package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"streambridge/internal/mediaresolve"
	"streambridge/internal/streamcache"
	"streambridge/models"
	"streambridge/utils/magnet"
)

// AllDebridClient implements Provider against the AllDebrid v4 API.
type AllDebridClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	agent      string
	fileMemo   *streamcache.FileListMemo
}

var _ Provider = (*AllDebridClient)(nil)

func NewAllDebridClient(apiKey string) *AllDebridClient {
	return &AllDebridClient{
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.alldebrid.com/v4",
		agent:      "streambridge",
		fileMemo:   streamcache.NewFileListMemo(512, 30*time.Minute),
	}
}

func (c *AllDebridClient) Name() string {
	return "alldebrid"
}

func (c *AllDebridClient) SupportsCacheCheck() bool {
	return true
}

func init() {
	RegisterProvider("alldebrid", func(apiKey string) Provider {
		return NewAllDebridClient(apiKey)
	})
}

// allDebridResponse is the generic API response wrapper.
type allDebridResponse[T any] struct {
	Status string `json:"status"` // "success" or "error"
	Data   T      `json:"data,omitempty"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type allDebridMagnet struct {
	Magnet string `json:"magnet,omitempty"`
	Name   string `json:"name,omitempty"`
	ID     int    `json:"id,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Ready  bool   `json:"ready,omitempty"`
}

type allDebridMagnetUploadData struct {
	Magnets []allDebridMagnet `json:"magnets"`
}

type allDebridStatus struct {
	ID         int                 `json:"id"`
	Filename   string              `json:"filename"`
	Size       int64               `json:"size"`
	Hash       string              `json:"hash,omitempty"`
	Status     string              `json:"status"`
	StatusCode int                 `json:"statusCode"`
	Links      []allDebridLink     `json:"links,omitempty"`
	Files      []allDebridFileNode `json:"files,omitempty"` // v4.1 nested file tree
}

type allDebridLink struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// allDebridFileNode is a file or directory in the v4.1 nested tree.
type allDebridFileNode struct {
	N string              `json:"n"`           // name
	S int64               `json:"s,omitempty"` // size
	L string              `json:"l,omitempty"` // link
	E []allDebridFileNode `json:"e,omitempty"` // entries, for directories
}

// allDebridStatusData uses json.RawMessage because the API returns an object
// when queried by ID and an array otherwise.
type allDebridStatusData struct {
	Magnets json.RawMessage `json:"magnets"`
}

type allDebridUnlock struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Delayed  int    `json:"delayed,omitempty"`
}

type allDebridInstantData struct {
	Magnets []struct {
		Magnet  string `json:"magnet"`
		Hash    string `json:"hash"`
		Instant bool   `json:"instant"`
		Files   []struct {
			N string `json:"n"`
			S int64  `json:"s"`
		} `json:"files,omitempty"`
	} `json:"magnets"`
}

const allDebridStatusReady = 4

// apiCall performs the request with auth and retries transport failures and
// 5xx responses, then decodes the standard response wrapper into out.
func (c *AllDebridClient) apiCall(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("alldebrid API key not configured")
	}

	return retry.Do(
		func() error {
			var body io.Reader
			if form != nil {
				body = strings.NewReader(form.Encode())
			}
			req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			if form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("alldebrid request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(fmt.Errorf("alldebrid authentication failed: invalid API key"))
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response body: %w", err)
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("alldebrid returned status %d: %s", resp.StatusCode, string(raw))
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

// apiError maps AllDebrid error codes to soft-failure sentinels.
func apiError(code, message string) error {
	switch code {
	case "MUST_BE_PREMIUM", "FREE_TRIAL_LIMIT_REACHED":
		return fmt.Errorf("alldebrid: %s: %w", message, ErrNotPremium)
	case "MAGNET_TOO_MANY_ACTIVE", "MAGNET_TOO_MANY":
		return fmt.Errorf("alldebrid: %s: %w", message, ErrActiveLimit)
	}
	return fmt.Errorf("alldebrid: %s (%s)", message, code)
}

// CheckCacheStatuses batches the hashes through the magnet/instant endpoint.
func (c *AllDebridClient) CheckCacheStatuses(ctx context.Context, hashes []string) (map[string]models.CacheResult, error) {
	return checkCachedInChunks(ctx, c.Name(), hashes, c.checkChunk)
}

func (c *AllDebridClient) checkChunk(ctx context.Context, chunk []string) (map[string]models.CacheResult, error) {
	params := url.Values{}
	params.Set("agent", c.agent)
	for _, hash := range chunk {
		params.Add("magnets[]", strings.ToLower(hash))
	}
	endpoint := fmt.Sprintf("%s/magnet/instant?%s", c.baseURL, params.Encode())

	var result allDebridResponse[allDebridInstantData]
	if err := c.apiCall(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return nil, apiError(result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("alldebrid instant check failed")
	}

	out := make(map[string]models.CacheResult, len(result.Data.Magnets))
	for _, m := range result.Data.Magnets {
		hash := strings.ToLower(m.Hash)
		if hash == "" {
			hash = magnet.InfoHash(m.Magnet)
		}
		if hash == "" || !m.Instant {
			continue
		}
		res := models.CacheResult{Hash: hash, Cached: true, Service: c.Name()}
		for _, f := range m.Files {
			res.Files = append(res.Files, models.FileEntry{
				Path:       f.N,
				SizeBytes:  f.S,
				IsVideo:    mediaresolve.IsVideo(f.N),
				IsSubtitle: mediaresolve.IsSubtitle(f.N),
				Extension:  mediaresolve.Extension(f.N),
			})
		}
		out[hash] = res
	}
	return out, nil
}

// GetStreamURL uploads the magnet, waits for it to be ready, picks the right
// file and unlocks its link.
func (c *AllDebridClient) GetStreamURL(ctx context.Context, magnetLink string, season, episode int) (string, error) {
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
		return "", fmt.Errorf("alldebrid: no playable file (%s): %w", reason, ErrNotCached)
	}
	log.Printf("[alldebrid] selected %q (%s)", files[idx].Path, reason)

	return c.unlockLink(ctx, files[idx].DownloadLink)
}

// torrentFiles uploads the magnet and returns the file listing with locked
// links. Listings are memoized by hash so alternate resolves within the TTL
// skip the upload round trip.
func (c *AllDebridClient) torrentFiles(ctx context.Context, magnetLink string) ([]models.FileEntry, error) {
	hash := magnet.InfoHash(magnetLink)
	if hash != "" {
		if files, ok := c.fileMemo.Get(c.Name(), hash); ok {
			return files, nil
		}
	}

	form := url.Values{}
	form.Set("agent", c.agent)
	form.Set("magnets[]", strings.TrimSpace(magnetLink))

	var uploaded allDebridResponse[allDebridMagnetUploadData]
	if err := c.apiCall(ctx, http.MethodPost, c.baseURL+"/magnet/upload", form, &uploaded); err != nil {
		return nil, err
	}
	if uploaded.Status != "success" {
		if uploaded.Error != nil {
			return nil, apiError(uploaded.Error.Code, uploaded.Error.Message)
		}
		return nil, fmt.Errorf("alldebrid magnet upload failed")
	}
	if len(uploaded.Data.Magnets) == 0 {
		return nil, fmt.Errorf("alldebrid returned no magnet data")
	}

	m := uploaded.Data.Magnets[0]
	if !m.Ready {
		return nil, fmt.Errorf("alldebrid: magnet %s not ready: %w", m.Hash, ErrNotCached)
	}

	status, err := c.magnetStatus(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if status.StatusCode != allDebridStatusReady {
		return nil, fmt.Errorf("alldebrid: magnet %d in status %q: %w", m.ID, status.Status, ErrNotCached)
	}

	var files []models.FileEntry
	if len(status.Files) > 0 {
		files = flattenFileTree(status.Files, "")
	} else {
		for _, link := range status.Links {
			files = append(files, models.FileEntry{
				Path:         link.Filename,
				SizeBytes:    link.Size,
				DownloadLink: link.Link,
				IsVideo:      mediaresolve.IsVideo(link.Filename),
				IsSubtitle:   mediaresolve.IsSubtitle(link.Filename),
				Extension:    mediaresolve.Extension(link.Filename),
			})
		}
	}

	if hash != "" && len(files) > 0 {
		c.fileMemo.Put(c.Name(), hash, files)
	}
	return files, nil
}

func (c *AllDebridClient) magnetStatus(ctx context.Context, id int) (*allDebridStatus, error) {
	// The v4.1 endpoint includes the nested file tree.
	endpoint := fmt.Sprintf("%s/magnet/status?agent=%s&id=%d",
		strings.Replace(c.baseURL, "/v4", "/v4.1", 1), url.QueryEscape(c.agent), id)

	var result allDebridResponse[allDebridStatusData]
	if err := c.apiCall(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return nil, apiError(result.Error.Code, result.Error.Message)
		}
		return nil, fmt.Errorf("alldebrid status check failed")
	}
	if len(result.Data.Magnets) == 0 {
		return nil, fmt.Errorf("alldebrid: magnet %d not found", id)
	}

	// Object when queried by ID, array otherwise.
	var status allDebridStatus
	if result.Data.Magnets[0] == '{' {
		if err := json.Unmarshal(result.Data.Magnets, &status); err != nil {
			return nil, fmt.Errorf("decode magnet status: %w", err)
		}
		return &status, nil
	}
	var statuses []allDebridStatus
	if err := json.Unmarshal(result.Data.Magnets, &statuses); err != nil {
		return nil, fmt.Errorf("decode magnet statuses: %w", err)
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("alldebrid: magnet %d not found", id)
	}
	return &statuses[0], nil
}

func (c *AllDebridClient) unlockLink(ctx context.Context, link string) (string, error) {
	if strings.TrimSpace(link) == "" {
		return "", fmt.Errorf("alldebrid: selected file has no link")
	}

	form := url.Values{}
	form.Set("agent", c.agent)
	form.Set("link", link)

	var result allDebridResponse[allDebridUnlock]
	if err := c.apiCall(ctx, http.MethodPost, c.baseURL+"/link/unlock", form, &result); err != nil {
		return "", err
	}
	if result.Status != "success" {
		if result.Error != nil {
			return "", apiError(result.Error.Code, result.Error.Message)
		}
		return "", fmt.Errorf("alldebrid unlock failed")
	}
	if result.Data.Delayed > 0 {
		return "", fmt.Errorf("alldebrid: link is being processed, retry in %ds: %w", result.Data.Delayed, ErrNotCached)
	}
	return result.Data.Link, nil
}

func flattenFileTree(nodes []allDebridFileNode, basePath string) []models.FileEntry {
	var files []models.FileEntry
	for _, node := range nodes {
		path := node.N
		if basePath != "" {
			path = basePath + "/" + node.N
		}
		if len(node.E) > 0 {
			files = append(files, flattenFileTree(node.E, path)...)
			continue
		}
		if node.L == "" {
			continue
		}
		files = append(files, models.FileEntry{
			Path:         path,
			SizeBytes:    node.S,
			DownloadLink: node.L,
			IsVideo:      mediaresolve.IsVideo(path),
			IsSubtitle:   mediaresolve.IsSubtitle(path),
			Extension:    mediaresolve.Extension(path),
		})
	}
	return files
}
