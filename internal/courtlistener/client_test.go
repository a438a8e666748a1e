package courtlistener

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/judgefinder/judge-sync/internal/config"
	"github.com/judgefinder/judge-sync/pkg/logger"
)

func newClientAgainst(t *testing.T, url string, cacheSize int) *HTTPClient {
	t.Helper()
	log, err := logger.NewLogger("error", "json")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	cfg := &config.Config{
		APIBaseURL:     url,
		APIToken:       "test-token",
		RequestTimeout: 5 * time.Second,
		CacheSize:      cacheSize,
		CacheTTL:       time.Minute,
	}
	return NewClient(cfg, log)
}

func TestGetOpinionDetailCachesResponses(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("Authorization = %q, want the configured token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42, "plain_text": "opinion body", "type": "majority"}`))
	}))
	defer srv.Close()

	c := newClientAgainst(t, srv.URL, 10)

	first, err := c.GetOpinionDetail(context.Background(), "42")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if first.PlainText != "opinion body" {
		t.Errorf("plain text = %q, want the upstream body", first.PlainText)
	}

	if _, err := c.GetOpinionDetail(context.Background(), "42"); err != nil {
		t.Fatalf("cached fetch failed: %v", err)
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("upstream hits = %d, want 1: second fetch must come from cache", n)
	}
}

func TestOpinionCacheRespectsSizeBound(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 1, "plain_text": "text"}`))
	}))
	defer srv.Close()

	c := newClientAgainst(t, srv.URL, 1)

	// First opinion fills the cache; the second cannot be admitted.
	if _, err := c.GetOpinionDetail(context.Background(), "1"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := c.GetOpinionDetail(context.Background(), "2"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := c.GetOpinionDetail(context.Background(), "2"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if n := atomic.LoadInt64(&hits); n != 3 {
		t.Errorf("upstream hits = %d, want 3: the bound must keep opinion 2 uncached", n)
	}
	if stats := c.CacheStats(); stats["opinion_items"] != 1 {
		t.Errorf("cached items = %d, want 1", stats["opinion_items"])
	}
}

func TestGetJSONTransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		c := newClientAgainst(t, srv.URL, 10)

		_, err := c.GetOpinionDetail(context.Background(), "9")
		if !errors.Is(err, ErrTransient) {
			t.Errorf("status %d: err = %v, want ErrTransient", status, err)
		}
		srv.Close()
	}
}
