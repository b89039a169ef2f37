package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Extractor ExtractorConfig
	Audio     AudioConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Browser   BrowserConfig
	Alert     AlertConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// ExtractorConfig controls the extraction engine and the retry loop.
type ExtractorConfig struct {
	// YtDlpBin is the yt-dlp executable.
	YtDlpBin string // default: "yt-dlp"

	// FFmpegLocation is passed to yt-dlp as --ffmpeg-location when set.
	FFmpegLocation string

	// CookiesFile is the durable credential artifact. Empty means
	// unauthenticated strategies only.
	CookiesFile string

	// ScratchDir holds per-attempt scopes and credential working copies.
	ScratchDir string // default: $TMPDIR/soundgrab

	// AttemptTimeout bounds one download attempt.
	AttemptTimeout time.Duration // default: 90s

	// MetadataTimeout bounds one metadata attempt.
	MetadataTimeout time.Duration // default: 20s

	// MaxConcurrent caps in-flight extraction requests.
	MaxConcurrent int // default: 4

	// StrategiesFile is an optional YAML catalog replacing the built-in one.
	StrategiesFile string
}

// AudioConfig controls the transcoding target.
type AudioConfig struct {
	Codec           string // default: "mp3"
	Bitrate         string // default: "320"
	DefaultFilename string // default: "audio"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key or client IP.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per identity.
	Burst int // default: 5
}

// CacheConfig controls the metadata cache. Audio is never cached.
type CacheConfig struct {
	TTL        time.Duration // default: 10m, 0 disables
	MaxEntries int           // default: 1000
}

// BrowserConfig controls the optional headless browser metadata engine.
type BrowserConfig struct {
	Enabled    bool // default: false
	BrowserBin string
	NoSandbox  bool
}

// AlertConfig controls the operator webhook fired on AUTH_EXPIRED.
type AlertConfig struct {
	WebhookURL string
	Secret     string
	Interval   time.Duration // default: 15m
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// .env.local and .env in the working directory are loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("SOUNDGRAB_HOST", "0.0.0.0"),
			Port: envIntOr("SOUNDGRAB_PORT", 8080),
			Mode: envOr("SOUNDGRAB_MODE", "release"),
		},
		Extractor: ExtractorConfig{
			YtDlpBin:        envOr("SOUNDGRAB_YTDLP_BIN", "yt-dlp"),
			FFmpegLocation:  os.Getenv("SOUNDGRAB_FFMPEG_LOCATION"),
			CookiesFile:     os.Getenv("SOUNDGRAB_COOKIES_FILE"),
			ScratchDir:      envOr("SOUNDGRAB_SCRATCH_DIR", filepath.Join(os.TempDir(), "soundgrab")),
			AttemptTimeout:  envDurationOr("SOUNDGRAB_ATTEMPT_TIMEOUT", 90*time.Second),
			MetadataTimeout: envDurationOr("SOUNDGRAB_METADATA_TIMEOUT", 20*time.Second),
			MaxConcurrent:   envIntOr("SOUNDGRAB_MAX_CONCURRENT", 4),
			StrategiesFile:  os.Getenv("SOUNDGRAB_STRATEGIES_FILE"),
		},
		Audio: AudioConfig{
			Codec:           envOr("SOUNDGRAB_AUDIO_CODEC", "mp3"),
			Bitrate:         envOr("SOUNDGRAB_AUDIO_BITRATE", "320"),
			DefaultFilename: envOr("SOUNDGRAB_DEFAULT_FILENAME", "audio"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SOUNDGRAB_AUTH_ENABLED", false),
			APIKeys: envSliceOr("SOUNDGRAB_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SOUNDGRAB_RATE_RPS", 1.0),
			Burst:             envIntOr("SOUNDGRAB_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			TTL:        envDurationOr("SOUNDGRAB_METADATA_CACHE_TTL", 10*time.Minute),
			MaxEntries: envIntOr("SOUNDGRAB_METADATA_CACHE_MAX", 1000),
		},
		Browser: BrowserConfig{
			Enabled:    envBoolOr("SOUNDGRAB_BROWSER_ENABLED", false),
			BrowserBin: os.Getenv("SOUNDGRAB_BROWSER_BIN"),
			NoSandbox:  envBoolOr("SOUNDGRAB_NO_SANDBOX", false),
		},
		Alert: AlertConfig{
			WebhookURL: os.Getenv("SOUNDGRAB_ALERT_WEBHOOK_URL"),
			Secret:     os.Getenv("SOUNDGRAB_ALERT_WEBHOOK_SECRET"),
			Interval:   envDurationOr("SOUNDGRAB_ALERT_INTERVAL", 15*time.Minute),
		},
		Log: LogConfig{
			Level:  envOr("SOUNDGRAB_LOG_LEVEL", "info"),
			Format: envOr("SOUNDGRAB_LOG_FORMAT", "json"),
		},
	}, nil
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// Missing files are not an error.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
