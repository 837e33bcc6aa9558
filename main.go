package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"streambridge/api"
	"streambridge/config"
	"streambridge/handlers"
	"streambridge/internal/streamcache"
	"streambridge/services/debrid"
	"streambridge/services/indexer"
	"streambridge/utils"
)

const version = "1.0.0"

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	// .env is optional; real deployments configure via settings.json.
	_ = godotenv.Load()

	fmt.Println("🚀 StreamBridge Starting...")

	configPath := os.Getenv("STREAMBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Indexer backends
	var backends []indexer.Backend
	for _, ix := range settings.EnabledIndexers() {
		backends = append(backends, indexer.NewHTTPBackend(ix.Name, ix.URL, nil))
		log.Printf("indexer backend %q -> %s", ix.Name, ix.URL)
	}
	if len(backends) == 0 {
		log.Printf("warning: no indexer backends configured; stream requests will return empty lists")
	}
	aggregator := indexer.NewAggregator(backends)

	// Debrid providers, in configured precedence order
	var providers []debrid.Provider
	for _, p := range settings.EnabledProviders() {
		provider, err := debrid.NewProvider(p.Provider, p.APIKey)
		if err != nil {
			log.Printf("warning: skipping provider: %v", err)
			continue
		}
		providers = append(providers, provider)
		log.Printf("debrid provider %q enabled (cache check: %v)", provider.Name(), provider.SupportsCacheCheck())
	}
	if len(providers) == 0 {
		log.Printf("warning: no debrid providers configured; nothing will resolve")
	}

	store := streamcache.NewStore(settings.Streaming.StreamCacheSize)
	prober := debrid.NewProber(providers)
	resolver := debrid.NewResolver(providers, store)

	streamHandler := handlers.NewStreamHandler(aggregator, prober, resolver, store, settings.Server.BaseURL, version)

	r := utils.NewRouter()
	api.Register(r, streamHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
