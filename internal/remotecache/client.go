package remotecache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Source identifies where a Get result came from.
type Source int

const (
	// SourceNone means neither the cache nor the origin produced a value.
	// Callers must treat this as "no data", never as a fatal condition.
	SourceNone Source = iota
	// SourceCache means the primary cache answered.
	SourceCache
	// SourceOrigin means the cache missed and the origin store answered.
	SourceOrigin
)

// String returns the log form of the source tag.
func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceOrigin:
		return "origin"
	default:
		return "none"
	}
}

// Value is the metadata payload stored against a content key.
type Value struct {
	S3Path      string `json:"s3_path"`
	Version     int    `json:"version"`
	Scale       string `json:"scale,omitempty"`
	Rotation    string `json:"rotation,omitempty"`
	Description string `json:"description,omitempty"`
}

// Options configures a Client.
type Options struct {
	CacheBaseURL  string
	OriginBaseURL string // optional secondary store; empty disables fallback
	APIKey        string // optional X-API-Key header
	CacheTimeout  time.Duration
	OriginTimeout time.Duration
	RepopulateTTL time.Duration
}

// Client talks to the remote key-value cache with fallback to a secondary
// origin store. Concurrent calls for different keys do not serialize behind
// one another; the shared http.Client is safe for concurrent use.
type Client struct {
	opts   Options
	client *http.Client
}

// NewClient builds a remote cache client. Per-call timeouts come from
// Options, so the underlying http.Client carries no global deadline.
func NewClient(opts Options) *Client {
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = 12 * time.Second
	}
	if opts.OriginTimeout <= 0 {
		opts.OriginTimeout = 15 * time.Second
	}
	if opts.RepopulateTTL <= 0 {
		opts.RepopulateTTL = 30 * time.Minute
	}
	return &Client{
		opts:   opts,
		client: &http.Client{},
	}
}

type getResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	Value   *Value `json:"value"`
}

type setRequest struct {
	Key   string `json:"key"`
	Value *Value `json:"value"`
	TTL   int64  `json:"ttl"` // seconds
}

// Get fetches the value for a key. The primary cache is tried first with its
// own timeout; on miss, timeout, or transport error the origin store is tried
// once if configured. An origin hit asynchronously repopulates the cache with
// a short TTL. When both fail the result is (nil, SourceNone, nil).
func (c *Client) Get(ctx context.Context, key string) (*Value, Source, error) {
	value, err := c.fetch(ctx, c.opts.CacheBaseURL, key, c.opts.CacheTimeout)
	if err == nil && value != nil {
		return value, SourceCache, nil
	}
	if err != nil {
		log.Printf("[RemoteCache] cache get %s failed: %v", key, err)
	}

	if c.opts.OriginBaseURL == "" {
		return nil, SourceNone, nil
	}

	value, err = c.fetch(ctx, c.opts.OriginBaseURL, key, c.opts.OriginTimeout)
	if err != nil {
		log.Printf("[RemoteCache] origin get %s failed: %v", key, err)
		return nil, SourceNone, nil
	}
	if value == nil {
		return nil, SourceNone, nil
	}

	// Repopulate the cache off the caller's path. The result only matters
	// for logs; a failed repopulation just means the next Get misses again.
	repop := *value
	go c.Set(context.Background(), key, &repop, c.opts.RepopulateTTL, func(err error) {
		if err != nil {
			log.Printf("[RemoteCache] repopulate %s failed: %v", key, err)
		}
	})

	return value, SourceOrigin, nil
}

// fetch performs one GET {base}/get/{key} round trip.
func (c *Client) fetch(ctx context.Context, baseURL, key string, timeout time.Duration) (*Value, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("%s/get/%s", baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get failed with status %d", resp.StatusCode)
	}

	var envelope getResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success || envelope.Value == nil {
		return nil, nil
	}
	return envelope.Value, nil
}

// Set stores a value with the given TTL. It is fire-and-forget from the
// caller's perspective: the outcome is delivered to done (which may be nil)
// and failures are logged, never retried here. Retry policy belongs to the
// caller.
func (c *Client) Set(ctx context.Context, key string, value *Value, ttl time.Duration, done func(error)) {
	err := c.set(ctx, key, value, ttl)
	if err != nil {
		log.Printf("[RemoteCache] set %s failed: %v", key, err)
	}
	if done != nil {
		done(err)
	}
}

func (c *Client) set(ctx context.Context, key string, value *Value, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CacheTimeout)
	defer cancel()

	body, err := json.Marshal(setRequest{Key: key, Value: value, TTL: int64(ttl.Seconds())})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/set", c.opts.CacheBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("set failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// HealthResponse represents a health check response from the cache service.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Health checks whether the primary cache service is reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CacheTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/health", c.opts.CacheBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		log.Printf("[RemoteCache] failed to close response body: %v", err)
	}
}
