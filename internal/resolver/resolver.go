package resolver

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/groundframe/client/internal/pose"
	"github.com/groundframe/client/internal/remotecache"
)

// gltfMagic is the 4-byte ASCII signature every valid binary asset starts with.
var gltfMagic = []byte("glTF")

// ErrBadSignature marks a payload that is not a glTF binary.
var ErrBadSignature = fmt.Errorf("payload missing glTF signature")

// State names a step of the per-key resolution state machine.
type State int

const (
	StateRequested State = iota
	StateMetadataFetching
	StateAssetDownloading
	StateValidating
	StateReady
	StateFallback
)

// Fallback reasons recorded on handles for diagnostics. CacheMiss is a valid
// negative result, not an error; it still degrades to a placeholder because
// every requested key must yield visible content.
const (
	ReasonNone        = ""
	ReasonCacheMiss   = "cache_miss"
	ReasonMetadata    = "metadata_parse"
	ReasonRateLimited = "rate_limited"
	ReasonDownload    = "download_failed"
	ReasonSignature   = "bad_signature"
	ReasonImport      = "import_failed"
)

// Model is an opaque reference produced by the external asset importer.
type Model interface{}

// Importer is the external 3D-asset importer collaborator. Load must return
// within the deadline on ctx; any fault is treated like a validation failure.
type Importer interface {
	Load(ctx context.Context, data []byte) (Model, error)
}

// Handle is the terminal outcome of one resolution: either a ready model or
// a deterministic placeholder. It is never nil-equivalent; callers can always
// place it.
type Handle struct {
	Key              string
	State            State
	Model            Model
	Placeholder      bool
	PlaceholderIndex int
	FallbackReason   string
	Scale            float64
	Rotation         pose.Quat
	Description      string
}

// Stats counts the remote work performed for one key.
type Stats struct {
	MetadataFetches int
	Downloads       int
	Fallbacks       int
}

// Options configures a Resolver.
type Options struct {
	DownloadTimeout time.Duration
	DownloadsPerMin int64
	DefaultScale    float64
	PlaceholderPool int
}

// Resolver turns a logical content key into a placed content handle,
// degrading to a placeholder on every failure path.
type Resolver struct {
	cache    *remotecache.Client
	importer Importer
	opts     Options
	client   *http.Client
	limiter  *limiter.Limiter

	mu    sync.Mutex
	stats map[string]*Stats
}

// New builds a Resolver. The limiter caps origin downloads per minute so a
// burst of chunk loads cannot saturate the uplink.
func New(cache *remotecache.Client, importer Importer, opts Options) *Resolver {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 45 * time.Second
	}
	if opts.DownloadsPerMin <= 0 {
		opts.DownloadsPerMin = 30
	}
	if opts.DefaultScale <= 0 {
		opts.DefaultScale = 1.0
	}
	rate := limiter.Rate{Period: time.Minute, Limit: opts.DownloadsPerMin}
	return &Resolver{
		cache:    cache,
		importer: importer,
		opts:     opts,
		client:   &http.Client{},
		limiter:  limiter.New(memory.NewStore(), rate),
		stats:    make(map[string]*Stats),
	}
}

// Resolve runs the full state machine for one key and always returns a
// usable handle. It is safe for concurrent use; each in-flight key runs
// independently.
func (r *Resolver) Resolve(ctx context.Context, key string) Handle {
	r.bump(key, func(s *Stats) { s.MetadataFetches++ })

	value, source, err := r.cache.Get(ctx, key)
	if err != nil || source == remotecache.SourceNone || value == nil {
		return r.fallback(key, ReasonCacheMiss)
	}
	if value.S3Path == "" {
		return r.fallback(key, ReasonMetadata)
	}

	scale, rotation := r.parseOverrides(key, value)

	lctx, err := r.limiter.Get(ctx, "origin-download")
	if err != nil || lctx.Reached {
		log.Printf("[Resolver] download rate limit reached, falling back for %s", key)
		return r.fallback(key, ReasonRateLimited)
	}

	data, err := r.download(ctx, key, value.S3Path)
	if err != nil {
		log.Printf("[Resolver] download for %s failed: %v", key, err)
		return r.fallback(key, ReasonDownload)
	}

	if err := ValidateSignature(data); err != nil {
		log.Printf("[Resolver] %s: %v", key, err)
		return r.fallback(key, ReasonSignature)
	}

	importCtx, cancel := context.WithTimeout(ctx, r.opts.DownloadTimeout)
	defer cancel()
	model, err := r.importer.Load(importCtx, data)
	if err != nil {
		log.Printf("[Resolver] import for %s failed: %v", key, err)
		return r.fallback(key, ReasonImport)
	}

	return Handle{
		Key:         key,
		State:       StateReady,
		Model:       model,
		Scale:       scale,
		Rotation:    rotation,
		Description: value.Description,
	}
}

// ValidateSignature checks the minimal structural signature of an asset
// payload before it is handed to the importer.
func ValidateSignature(data []byte) error {
	if len(data) < len(gltfMagic) || !bytes.Equal(data[:len(gltfMagic)], gltfMagic) {
		return ErrBadSignature
	}
	return nil
}

// Stats returns the remote-work counters recorded for a key.
func (r *Resolver) Stats(key string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[key]; ok {
		return *s
	}
	return Stats{}
}

func (r *Resolver) download(ctx context.Context, key, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.DownloadTimeout)
	defer cancel()

	r.bump(key, func(s *Stats) { s.Downloads++ })

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("[Resolver] failed to close download body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// parseOverrides extracts scale and rotation from metadata strings. Field
// level parse failures fall back to the defaults without failing resolution.
func (r *Resolver) parseOverrides(key string, value *remotecache.Value) (float64, pose.Quat) {
	scale := r.opts.DefaultScale
	if value.Scale != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value.Scale), 64)
		if err != nil || parsed <= 0 {
			log.Printf("[Resolver] invalid scale %q for %s, using default %f", value.Scale, key, scale)
		} else {
			scale = parsed
		}
	}

	rotation := pose.Identity()
	if value.Rotation != "" {
		parts := strings.Split(value.Rotation, ",")
		if len(parts) != 3 {
			log.Printf("[Resolver] invalid rotation %q for %s, using identity", value.Rotation, key)
		} else {
			var angles [3]float64
			ok := true
			for i, part := range parts {
				parsed, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
				if err != nil {
					ok = false
					break
				}
				angles[i] = parsed
			}
			if ok {
				rotation = pose.FromEuler(angles[0], angles[1], angles[2])
			} else {
				log.Printf("[Resolver] invalid rotation %q for %s, using identity", value.Rotation, key)
			}
		}
	}
	return scale, rotation
}

// fallback produces the deterministic placeholder for a key: the same key
// always maps to the same slot of the configured pool.
func (r *Resolver) fallback(key, reason string) Handle {
	r.bump(key, func(s *Stats) { s.Fallbacks++ })
	return Handle{
		Key:              key,
		State:            StateFallback,
		Placeholder:      true,
		PlaceholderIndex: PlaceholderIndex(key, r.opts.PlaceholderPool),
		FallbackReason:   reason,
		Scale:            r.opts.DefaultScale,
		Rotation:         pose.Identity(),
	}
}

// PlaceholderIndex maps a key onto a placeholder pool slot.
func PlaceholderIndex(key string, poolSize int) int {
	if poolSize <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(poolSize))
}

func (r *Resolver) bump(key string, f func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[key]
	if !ok {
		s = &Stats{}
		r.stats[key] = s
	}
	f(s)
}
