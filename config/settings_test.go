package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	m := NewManager(path)

	s, err := m.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Server.Port != 7000 {
		t.Fatalf("unexpected default port %d", s.Server.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file to be created: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	m := NewManager(path)

	s := DefaultSettings()
	s.Server.BaseURL = "https://addon.example.com"
	s.Indexers = []IndexerConfig{{Name: "primary", URL: "http://indexer:9000", Enabled: true}}
	s.Streaming.DebridProviders = []DebridProviderSettings{
		{Provider: "alldebrid", APIKey: "key1", Enabled: true},
		{Provider: "torbox", APIKey: "key2", Enabled: false},
	}

	if err := m.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Server.BaseURL != s.Server.BaseURL {
		t.Fatalf("base url not persisted: %q", got.Server.BaseURL)
	}
	if len(got.Streaming.DebridProviders) != 2 {
		t.Fatalf("providers not persisted: %+v", got.Streaming.DebridProviders)
	}
}

func TestLoadMigratesLegacyDebridKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	legacy := `{"server":{"host":"0.0.0.0","port":7000},"streaming":{"debridApiKey":"abc123","debridProvider":"alldebrid"}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Streaming.DebridProviders) != 1 {
		t.Fatalf("expected migrated provider, got %+v", got.Streaming.DebridProviders)
	}
	p := got.Streaming.DebridProviders[0]
	if p.Provider != "alldebrid" || p.APIKey != "abc123" || !p.Enabled {
		t.Fatalf("unexpected migrated provider: %+v", p)
	}
}

func TestEnabledProvidersFiltersAndKeepsOrder(t *testing.T) {
	s := Settings{Streaming: StreamingSettings{DebridProviders: []DebridProviderSettings{
		{Provider: "torbox", APIKey: "k1", Enabled: true},
		{Provider: "alldebrid", APIKey: "", Enabled: true},
		{Provider: "realdebrid", APIKey: "k3", Enabled: false},
		{Provider: "alldebrid", APIKey: "k4", Enabled: true},
	}}}

	got := s.EnabledProviders()
	if len(got) != 2 || got[0].Provider != "torbox" || got[1].Provider != "alldebrid" {
		t.Fatalf("unexpected enabled providers: %+v", got)
	}
}
