// Package config loads and persists the addon's settings as a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Indexers  []IndexerConfig   `json:"indexers"`
	Streaming StreamingSettings `json:"streaming"`
	Cache     CacheSettings     `json:"cache"`
	Log       LogConfig         `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// BaseURL is the externally reachable address embedded in stream URLs,
	// e.g. "https://addon.example.com". Empty falls back to the request host.
	BaseURL string `json:"baseUrl"`
}

// IndexerConfig describes one torrent search backend.
type IndexerConfig struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// DebridProviderSettings describes one debrid account. Order in the
// Streaming.DebridProviders slice is provider precedence.
type DebridProviderSettings struct {
	Provider string `json:"provider"` // "alldebrid", "torbox", "realdebrid"
	APIKey   string `json:"apiKey"`
	Enabled  bool   `json:"enabled"`
}

type StreamingSettings struct {
	DebridProviders []DebridProviderSettings `json:"debridProviders"`
	// StreamCacheSize bounds how many content keys keep a fallback list in
	// memory. Zero uses the built-in default.
	StreamCacheSize int `json:"streamCacheSize"`
}

type CacheSettings struct {
	Directory string `json:"directory"`
}

// LogConfig controls file logging and rotation.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// EnabledIndexers filters the configured indexers down to usable ones.
func (s Settings) EnabledIndexers() []IndexerConfig {
	var out []IndexerConfig
	for _, ix := range s.Indexers {
		if ix.Enabled && strings.TrimSpace(ix.URL) != "" {
			out = append(out, ix)
		}
	}
	return out
}

// EnabledProviders filters the configured debrid providers down to usable
// ones, preserving configured precedence order.
func (s Settings) EnabledProviders() []DebridProviderSettings {
	var out []DebridProviderSettings
	for _, p := range s.Streaming.DebridProviders {
		if p.Enabled && strings.TrimSpace(p.APIKey) != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7000},
		Indexers: []IndexerConfig{},
		Streaming: StreamingSettings{
			DebridProviders: []DebridProviderSettings{},
		},
		Cache: CacheSettings{Directory: "cache"},
		Log: LogConfig{
			File:       "cache/logs/streambridge.log",
			Level:      "info",
			MaxSize:    50, // MB per file
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var raw map[string]interface{}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&raw); err != nil {
		return Settings{}, err
	}
	migrateLegacyDebridKey(raw)

	data, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// migrateLegacyDebridKey converts the old single apiKey/provider pair under
// streaming into the providers array format.
func migrateLegacyDebridKey(raw map[string]interface{}) {
	streaming, ok := raw["streaming"].(map[string]interface{})
	if !ok {
		return
	}
	if _, hasList := streaming["debridProviders"]; hasList {
		return
	}
	apiKey, _ := streaming["debridApiKey"].(string)
	if strings.TrimSpace(apiKey) == "" {
		return
	}
	provider, _ := streaming["debridProvider"].(string)
	if provider == "" {
		provider = "alldebrid"
	}
	streaming["debridProviders"] = []interface{}{
		map[string]interface{}{
			"provider": provider,
			"apiKey":   apiKey,
			"enabled":  true,
		},
	}
	delete(streaming, "debridApiKey")
	delete(streaming, "debridProvider")
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
