package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
)

// CacheEntry is one key the fake remote cache will answer for.
type CacheEntry struct {
	S3Path   string `json:"s3_path"`
	Version  int    `json:"version"`
	Scale    string `json:"scale,omitempty"`
	Rotation string `json:"rotation,omitempty"`
}

// CacheServer is an httptest server speaking the remote cache protocol:
// GET /get/{key}, POST /set, GET /health. Counters record traffic so tests
// can assert exactly which round trips happened.
type CacheServer struct {
	*httptest.Server

	Gets    atomic.Int64
	Sets    atomic.Int64
	entries map[string]CacheEntry
}

// NewCacheServer starts a fake cache answering for the given entries.
// Unknown keys return the protocol's unsuccessful envelope.
func NewCacheServer(entries map[string]CacheEntry) *CacheServer {
	cs := &CacheServer{entries: entries}
	if cs.entries == nil {
		cs.entries = make(map[string]CacheEntry)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "service": "fake-cache"})
	})
	mux.HandleFunc("/get/", func(w http.ResponseWriter, r *http.Request) {
		cs.Gets.Add(1)
		key := strings.TrimPrefix(r.URL.Path, "/get/")
		entry, ok := cs.entries[key]
		if !ok {
			writeJSON(w, map[string]interface{}{"success": false, "key": key})
			return
		}
		writeJSON(w, map[string]interface{}{"success": true, "key": key, "value": entry})
	})
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		cs.Sets.Add(1)
		var body struct {
			Key   string     `json:"key"`
			Value CacheEntry `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		cs.entries[body.Key] = body.Value
		writeJSON(w, map[string]bool{"success": true})
	})

	cs.Server = httptest.NewServer(mux)
	return cs
}

// NewBrokenCacheServer starts a server that fails every request, for
// exercising fallback paths.
func NewBrokenCacheServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

// AssetServer serves a fixed binary payload and counts downloads.
type AssetServer struct {
	*httptest.Server
	Downloads atomic.Int64
}

// NewAssetServer starts a server returning payload for every GET.
func NewAssetServer(payload []byte) *AssetServer {
	as := &AssetServer{}
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.Downloads.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))
	return as
}

// GLTFPayload returns a minimal byte slice carrying the binary glTF
// signature, enough to pass structural validation.
func GLTFPayload() []byte {
	return append([]byte("glTF"), 0x02, 0x00, 0x00, 0x00, 0x0c, 0x00, 0x00, 0x00)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
