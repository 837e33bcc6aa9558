package debrid

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAllDebrid(t *testing.T, handler http.HandlerFunc) *AllDebridClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewAllDebridClient("test-key")
	c.baseURL = srv.URL
	c.httpClient = srv.Client()
	return c
}

func TestAllDebridCheckCacheStatuses(t *testing.T) {
	cached := testHash(0)
	uncached := testHash(1)

	c := newTestAllDebrid(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/magnet/instant") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"status":"success","data":{"magnets":[
			{"hash":%q,"instant":true,"files":[{"n":"movie.mkv","s":1000}]},
			{"hash":%q,"instant":false}
		]}}`, cached, uncached)
	})

	got, err := c.CheckCacheStatuses(context.Background(), []string{cached, uncached})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 cached hash, got %d", len(got))
	}
	res, ok := got[cached]
	if !ok || !res.Cached || res.Service != "alldebrid" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Files) != 1 || !res.Files[0].IsVideo {
		t.Fatalf("expected the file listing to come through: %+v", res.Files)
	}
}

func TestAllDebridGetStreamURL(t *testing.T) {
	c := newTestAllDebrid(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/magnet/upload"):
			fmt.Fprint(w, `{"status":"success","data":{"magnets":[{"id":42,"hash":"abc","ready":true}]}}`)
		case strings.HasPrefix(r.URL.Path, "/magnet/status"):
			fmt.Fprint(w, `{"status":"success","data":{"magnets":{"id":42,"statusCode":4,"status":"Ready","files":[
				{"n":"Movie.2020.1080p","e":[
					{"n":"Movie.2020.1080p.mkv","s":8000000000,"l":"https://alldebrid.example/lock/1"},
					{"n":"sample.mkv","s":50000000,"l":"https://alldebrid.example/lock/2"}
				]}
			]}}}`)
		case strings.HasPrefix(r.URL.Path, "/link/unlock"):
			if err := r.ParseForm(); err != nil {
				t.Fatal(err)
			}
			if link := r.PostForm.Get("link"); link != "https://alldebrid.example/lock/1" {
				t.Errorf("unlocked wrong link %q", link)
			}
			fmt.Fprint(w, `{"status":"success","data":{"link":"https://cdn.alldebrid.example/movie.mkv"}}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	url, err := c.GetStreamURL(context.Background(), "magnet:?xt=urn:btih:"+testHash(2), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.alldebrid.example/movie.mkv" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestAllDebridNotReadyIsNotCached(t *testing.T) {
	c := newTestAllDebrid(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"magnets":[{"id":7,"hash":"abc","ready":false}]}}`)
	})

	_, err := c.GetStreamURL(context.Background(), "magnet:?xt=urn:btih:"+testHash(3), 0, 0)
	if !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
}

func TestAllDebridPremiumErrorIsSoft(t *testing.T) {
	c := newTestAllDebrid(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":{"code":"MUST_BE_PREMIUM","message":"You must be premium"}}`)
	})

	_, err := c.GetStreamURL(context.Background(), "magnet:?xt=urn:btih:"+testHash(4), 0, 0)
	if !errors.Is(err, ErrNotPremium) {
		t.Fatalf("expected ErrNotPremium, got %v", err)
	}
	if !IsSoftFailure(err) {
		t.Fatal("premium errors must be soft failures")
	}
}

func TestAllDebridActiveLimitIsSoft(t *testing.T) {
	c := newTestAllDebrid(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":{"code":"MAGNET_TOO_MANY_ACTIVE","message":"Too many active magnets"}}`)
	})

	_, err := c.GetStreamURL(context.Background(), "magnet:?xt=urn:btih:"+testHash(5), 0, 0)
	if !errors.Is(err, ErrActiveLimit) {
		t.Fatalf("expected ErrActiveLimit, got %v", err)
	}
}
