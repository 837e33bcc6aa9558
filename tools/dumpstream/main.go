// dumpstream queries a running StreamBridge instance and prints the stream
// list for a given content ID. Useful when tuning indexer and ranking
// behavior without a Stremio client attached.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"streambridge/models"
)

func main() {
	var (
		addr      = flag.String("addr", "http://localhost:7000", "base URL of a running StreamBridge server")
		mediaType = flag.String("type", "movie", "content type: movie or series")
		id        = flag.String("id", "", "IMDb ID, e.g. tt0133093 or tt0903747:2:7")
	)
	flag.Parse()

	if *id == "" {
		log.Fatal("missing -id")
	}

	client := &http.Client{Timeout: 60 * time.Second}
	url := fmt.Sprintf("%s/stream/%s/%s.json", *addr, *mediaType, *id)

	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var streams models.StreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&streams); err != nil {
		log.Fatalf("decode response: %v", err)
	}

	fmt.Printf("%d streams for %s\n\n", len(streams.Streams), *id)
	for i, s := range streams.Streams {
		fmt.Printf("%3d. %s\n", i+1, s.Name)
		if s.Description != "" {
			fmt.Printf("     %s\n", s.Description)
		}
		fmt.Printf("     %s\n", s.URL)
	}
}
