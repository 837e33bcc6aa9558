package api

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"streambridge/handlers"

	"github.com/gorilla/mux"
)

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		// Strip port if present
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		// Allow localhost, 127.0.0.1, ::1
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register mounts the addon endpoints onto the provided router.
func Register(r *mux.Router, streamHandler *handlers.StreamHandler) {
	r.HandleFunc("/manifest.json", streamHandler.Manifest).Methods(http.MethodGet)
	r.HandleFunc("/stream/{type}/{id}", streamHandler.GetStreams).Methods(http.MethodGet)
	r.HandleFunc("/resolve/{token}", streamHandler.Resolve).Methods(http.MethodGet)

	r.HandleFunc("/health", handleHealth(streamHandler)).Methods(http.MethodGet)

	// Debug endpoints, localhost only
	debug := r.PathPrefix("/debug").Subrouter()
	debug.Use(localhostOnlyMiddleware)
	debug.HandleFunc("/pprof/", pprof.Index)
	debug.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	debug.HandleFunc("/pprof/profile", pprof.Profile)
	debug.HandleFunc("/pprof/symbol", pprof.Symbol)
	debug.HandleFunc("/pprof/trace", pprof.Trace)
	debug.PathPrefix("/pprof/").Handler(http.HandlerFunc(pprof.Index))
}

func handleHealth(streamHandler *handlers.StreamHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"version":        streamHandler.Version,
			"cachedContent":  streamHandler.Store.Len(),
			"goroutines":     runtime.NumGoroutine(),
			"heapAllocBytes": mem.HeapAlloc,
		})
	}
}
