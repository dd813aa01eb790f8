package remotecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/groundframe/client/internal/testutil"
)

func TestGetCacheHit(t *testing.T) {
	server := testutil.NewCacheServer(map[string]testutil.CacheEntry{
		"chunk_0_0": {S3Path: "http://assets.example/chunk_0_0.glb", Version: 2, Scale: "1.5"},
	})
	defer server.Close()

	client := NewClient(Options{CacheBaseURL: server.URL})
	value, source, err := client.Get(context.Background(), "chunk_0_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != SourceCache {
		t.Fatalf("expected cache source, got %v", source)
	}
	if value == nil || value.S3Path != "http://assets.example/chunk_0_0.glb" {
		t.Fatalf("unexpected value: %#v", value)
	}
	if value.Scale != "1.5" {
		t.Fatalf("expected scale override to survive, got %q", value.Scale)
	}
}

func TestGetMissWithoutOrigin(t *testing.T) {
	server := testutil.NewCacheServer(nil)
	defer server.Close()

	client := NewClient(Options{CacheBaseURL: server.URL})
	value, source, err := client.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("miss must not be an error, got %v", err)
	}
	if source != SourceNone || value != nil {
		t.Fatalf("expected none result, got %v %#v", source, value)
	}
}

func TestGetFallsBackToOriginAndRepopulates(t *testing.T) {
	primary := testutil.NewCacheServer(nil)
	defer primary.Close()
	origin := testutil.NewCacheServer(map[string]testutil.CacheEntry{
		"chunk_1_1": {S3Path: "http://assets.example/chunk_1_1.glb", Version: 1},
	})
	defer origin.Close()

	client := NewClient(Options{
		CacheBaseURL:  primary.URL,
		OriginBaseURL: origin.URL,
	})
	value, source, err := client.Get(context.Background(), "chunk_1_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != SourceOrigin {
		t.Fatalf("expected origin source, got %v", source)
	}
	if value == nil || value.S3Path != "http://assets.example/chunk_1_1.glb" {
		t.Fatalf("unexpected value: %#v", value)
	}

	// Repopulation is asynchronous; poll for the Set to land.
	deadline := time.Now().Add(2 * time.Second)
	for primary.Sets.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected asynchronous cache repopulation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetBothFailReturnsNone(t *testing.T) {
	brokenCache := testutil.NewBrokenCacheServer()
	defer brokenCache.Close()
	brokenOrigin := testutil.NewBrokenCacheServer()
	defer brokenOrigin.Close()

	client := NewClient(Options{
		CacheBaseURL:  brokenCache.URL,
		OriginBaseURL: brokenOrigin.URL,
	})
	value, source, err := client.Get(context.Background(), "chunk_2_2")
	if err != nil {
		t.Fatalf("total failure must not surface as an error, got %v", err)
	}
	if source != SourceNone || value != nil {
		t.Fatalf("expected none result, got %v %#v", source, value)
	}
}

func TestSetReportsOutcomeViaCallback(t *testing.T) {
	server := testutil.NewCacheServer(nil)
	defer server.Close()

	client := NewClient(Options{CacheBaseURL: server.URL})
	var callbackErr error
	called := false
	client.Set(context.Background(), "k", &Value{S3Path: "http://assets.example/k.glb"}, time.Minute, func(err error) {
		called = true
		callbackErr = err
	})
	if !called {
		t.Fatalf("expected done callback to run")
	}
	if callbackErr != nil {
		t.Fatalf("unexpected callback error: %v", callbackErr)
	}
	if server.Sets.Load() != 1 {
		t.Fatalf("expected one set round trip, got %d", server.Sets.Load())
	}

	broken := testutil.NewBrokenCacheServer()
	defer broken.Close()
	failing := NewClient(Options{CacheBaseURL: broken.URL})
	failing.Set(context.Background(), "k", &Value{}, time.Minute, func(err error) {
		callbackErr = err
	})
	if callbackErr == nil {
		t.Fatalf("expected callback to report failure")
	}
}

func TestAPIKeyHeaderIsSent(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	client := NewClient(Options{CacheBaseURL: server.URL, APIKey: "secret-key"})
	_, _, _ = client.Get(context.Background(), "k")
	if gotKey != "secret-key" {
		t.Fatalf("expected X-API-Key header, got %q", gotKey)
	}
}

func TestGetTimeoutFallsThrough(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer slow.Close()
	origin := testutil.NewCacheServer(map[string]testutil.CacheEntry{
		"k": {S3Path: "http://assets.example/k.glb"},
	})
	defer origin.Close()

	client := NewClient(Options{
		CacheBaseURL:  slow.URL,
		OriginBaseURL: origin.URL,
		CacheTimeout:  50 * time.Millisecond,
	})
	value, source, err := client.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != SourceOrigin || value == nil {
		t.Fatalf("expected origin fallback on timeout, got %v %#v", source, value)
	}
}

func TestHealth(t *testing.T) {
	server := testutil.NewCacheServer(nil)
	defer server.Close()
	client := NewClient(Options{CacheBaseURL: server.URL})
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("unexpected health error: %v", err)
	}

	broken := testutil.NewBrokenCacheServer()
	defer broken.Close()
	failing := NewClient(Options{CacheBaseURL: broken.URL})
	if err := failing.Health(context.Background()); err == nil {
		t.Fatalf("expected health check failure")
	}
}
