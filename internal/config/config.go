package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable for the Groundframe client core. It is built
// once at startup and never mutated afterwards; runtime state lives in the
// components, not here.
type Config struct {
	Chunks   ChunkConfig
	Anchor   AnchorConfig
	Movement MovementConfig
	Remote   RemoteConfig
	Resolver ResolverConfig
	Session  SessionConfig
	PoseFeed PoseFeedConfig
	Engine   EngineConfig
}

// ChunkConfig controls the spatial chunk cache.
type ChunkConfig struct {
	Size             float64 `validate:"gt=0"` // chunk edge length in meters
	Radius           float64 `validate:"gt=0"` // load radius in chunk units
	PriorityRadius   float64 `validate:"gte=0"`
	HysteresisMargin float64 `validate:"gte=0"`
	MaxLoaded        int     `validate:"gt=0"`
	CacheCapacity    int     `validate:"gte=0"`
	MaxOpsPerTick    int     `validate:"gt=0"`
}

// AnchorConfig controls drift correction and pose smoothing.
type AnchorConfig struct {
	StabilityThreshold float64 `validate:"gt=0"` // meters
	RotationThreshold  float64 `validate:"gt=0"` // degrees
	UpdateFrames       int     `validate:"gt=0"` // anchor resync cadence in ticks
	SmoothTime         float64 `validate:"gt=0"` // seconds
	MaxSmoothSpeed     float64 `validate:"gt=0"` // meters per second
	AttachRadius       float64 `validate:"gt=0"` // placement ring for pre-anchor items
}

// MovementConfig controls the movement predictor.
type MovementConfig struct {
	SampleInterval time.Duration `validate:"gt=0"`
	MoveThreshold  float64       `validate:"gt=0"` // meters per sample
	PrefetchDepth  int           `validate:"gte=0"`
}

// RemoteConfig describes the remote cache and origin store endpoints.
type RemoteConfig struct {
	CacheBaseURL  string `validate:"required,url"`
	OriginBaseURL string `validate:"omitempty,url"`
	APIKey        string
	CacheTimeout  time.Duration `validate:"gt=0"`
	OriginTimeout time.Duration `validate:"gt=0"`
	RepopulateTTL time.Duration `validate:"gt=0"`
}

// ResolverConfig controls asset download and fallback behaviour.
type ResolverConfig struct {
	DownloadTimeout time.Duration `validate:"gt=0"`
	DownloadsPerMin int64         `validate:"gt=0"`
	DefaultScale    float64       `validate:"gt=0"`
	PlaceholderPool int           `validate:"gte=0"`
}

// SessionConfig controls local session persistence.
type SessionConfig struct {
	FilePath     string
	SaveInterval time.Duration `validate:"gt=0"`
	KeepOnExit   bool
}

// PoseFeedConfig describes the external reference-pose provider.
type PoseFeedConfig struct {
	URL              string        `validate:"omitempty,uri"`
	ReconnectBackoff time.Duration `validate:"gt=0"`
}

// EngineConfig controls the tick driver.
type EngineConfig struct {
	TickRate        int `validate:"gt=0"` // ticks per second
	HealthAddr      string
	ProfilerEnabled bool
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .env file not found (this is OK if using environment variables): %v", err)
	}

	cfg := &Config{
		Chunks: ChunkConfig{
			Size:             getFloatEnv("CHUNK_SIZE", 6.0),
			Radius:           getFloatEnv("CHUNK_RADIUS", 5.0),
			PriorityRadius:   getFloatEnv("CHUNK_PRIORITY_RADIUS", 3.0),
			HysteresisMargin: getFloatEnv("CHUNK_HYSTERESIS_MARGIN", 1.0),
			MaxLoaded:        getIntEnv("CHUNK_MAX_LOADED", 150),
			CacheCapacity:    getIntEnv("CHUNK_CACHE_CAPACITY", 20),
			MaxOpsPerTick:    getIntEnv("CHUNK_MAX_OPS_PER_TICK", 4),
		},
		Anchor: AnchorConfig{
			StabilityThreshold: getFloatEnv("ANCHOR_STABILITY_THRESHOLD", 0.05),
			RotationThreshold:  getFloatEnv("ANCHOR_ROTATION_THRESHOLD", 5.0),
			UpdateFrames:       getIntEnv("ANCHOR_UPDATE_FRAMES", 30),
			SmoothTime:         getFloatEnv("ANCHOR_SMOOTH_TIME", 0.25),
			MaxSmoothSpeed:     getFloatEnv("ANCHOR_MAX_SMOOTH_SPEED", 2.0),
			AttachRadius:       getFloatEnv("ANCHOR_ATTACH_RADIUS", 1.5),
		},
		Movement: MovementConfig{
			SampleInterval: getDurationEnv("MOVEMENT_SAMPLE_INTERVAL", 500*time.Millisecond),
			MoveThreshold:  getFloatEnv("MOVEMENT_THRESHOLD", 0.3),
			PrefetchDepth:  getIntEnv("MOVEMENT_PREFETCH_DEPTH", 3),
		},
		Remote: RemoteConfig{
			CacheBaseURL:  getEnv("REMOTE_CACHE_BASE_URL", "http://127.0.0.1:8090"),
			OriginBaseURL: getEnv("REMOTE_ORIGIN_BASE_URL", ""),
			APIKey:        getEnv("REMOTE_API_KEY", ""),
			CacheTimeout:  getDurationEnv("REMOTE_CACHE_TIMEOUT", 12*time.Second),
			OriginTimeout: getDurationEnv("REMOTE_ORIGIN_TIMEOUT", 15*time.Second),
			RepopulateTTL: getDurationEnv("REMOTE_REPOPULATE_TTL", 30*time.Minute),
		},
		Resolver: ResolverConfig{
			DownloadTimeout: getDurationEnv("RESOLVER_DOWNLOAD_TIMEOUT", 45*time.Second),
			DownloadsPerMin: int64(getIntEnv("RESOLVER_DOWNLOADS_PER_MIN", 30)),
			DefaultScale:    getFloatEnv("RESOLVER_DEFAULT_SCALE", 1.0),
			PlaceholderPool: getIntEnv("RESOLVER_PLACEHOLDER_POOL", 4),
		},
		Session: SessionConfig{
			FilePath:     getEnv("SESSION_FILE_PATH", "groundframe-session.json"),
			SaveInterval: getDurationEnv("SESSION_SAVE_INTERVAL", 10*time.Second),
			KeepOnExit:   getBoolEnv("SESSION_KEEP_ON_EXIT", false),
		},
		PoseFeed: PoseFeedConfig{
			URL:              getEnv("POSE_FEED_URL", "ws://127.0.0.1:8091/pose"),
			ReconnectBackoff: getDurationEnv("POSE_FEED_RECONNECT_BACKOFF", 2*time.Second),
		},
		Engine: EngineConfig{
			TickRate:        getIntEnv("ENGINE_TICK_RATE", 30),
			HealthAddr:      getEnv("ENGINE_HEALTH_ADDR", ""),
			ProfilerEnabled: getBoolEnv("ENGINE_PROFILER_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Chunks.PriorityRadius > c.Chunks.Radius {
		return fmt.Errorf("CHUNK_PRIORITY_RADIUS (%f) must not exceed CHUNK_RADIUS (%f)",
			c.Chunks.PriorityRadius, c.Chunks.Radius)
	}
	return nil
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Config] invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[Config] invalid float value for %s: %s, using default: %f", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[Config] invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Config] invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}
