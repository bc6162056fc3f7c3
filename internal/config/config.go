// Package config loads daemon configuration from an optional YAML file
// with NEXA_* environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen"`

	// DataDir holds the part registry and keyframe cache.
	DataDir string `yaml:"data_dir"`

	// HLSRoot holds materialized session directories.
	HLSRoot string `yaml:"hls_root"`

	FFmpegBin  string `yaml:"ffmpeg_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`

	Redis RedisConfig `yaml:"redis"`

	// TranscodeSlots is the cluster-wide concurrent transcode ceiling.
	TranscodeSlots int           `yaml:"transcode_slots"`
	ThrottleWait   time.Duration `yaml:"throttle_wait"`

	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	SegmentWait    time.Duration `yaml:"segment_wait"`

	LogLevel string `yaml:"log_level"`

	// RateLimitPerMinute bounds requests per client IP; zero disables.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// OTLPEndpoint enables trace export when set, e.g. "localhost:4317".
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type RedisConfig struct {
	// Addr empty disables Redis-backed throttling.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func defaults() Config {
	return Config{
		Listen:         ":8080",
		DataDir:        "/var/lib/nexa",
		HLSRoot:        "/var/lib/nexa/hls",
		FFmpegBin:      "ffmpeg",
		FFprobeBin:     "ffprobe",
		TranscodeSlots: 2,
		ThrottleWait:   10 * time.Second,
		SessionIdleTTL: 2 * time.Minute,
		SegmentWait:    30 * time.Second,
		LogLevel:       "info",
	}
}

// Load builds the configuration: defaults, then the YAML file at path when
// non-empty, then NEXA_* environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("NEXA_LISTEN", &cfg.Listen)
	envStr("NEXA_DATA_DIR", &cfg.DataDir)
	envStr("NEXA_HLS_ROOT", &cfg.HLSRoot)
	envStr("NEXA_FFMPEG_BIN", &cfg.FFmpegBin)
	envStr("NEXA_FFPROBE_BIN", &cfg.FFprobeBin)
	envStr("NEXA_REDIS_ADDR", &cfg.Redis.Addr)
	envStr("NEXA_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("NEXA_REDIS_DB", &cfg.Redis.DB)
	envInt("NEXA_TRANSCODE_SLOTS", &cfg.TranscodeSlots)
	envDur("NEXA_THROTTLE_WAIT", &cfg.ThrottleWait)
	envDur("NEXA_SESSION_IDLE_TTL", &cfg.SessionIdleTTL)
	envDur("NEXA_SEGMENT_WAIT", &cfg.SegmentWait)
	envStr("NEXA_LOG_LEVEL", &cfg.LogLevel)
	envInt("NEXA_RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute)
	envStr("NEXA_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir must be set")
	}
	if c.HLSRoot == "" {
		return fmt.Errorf("config: hls root must be set")
	}
	if c.TranscodeSlots <= 0 {
		return fmt.Errorf("config: transcode slots must be positive, got %d", c.TranscodeSlots)
	}
	if c.SegmentWait <= 0 {
		return fmt.Errorf("config: segment wait must be positive")
	}
	return nil
}
