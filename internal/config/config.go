// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Archive backends.
const (
	BackendNone   = ""
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Render    RenderConfig    `mapstructure:"render"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Thumb     ThumbConfig     `mapstructure:"thumb"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Hostname is the address the browser uses to reach the template
	// routes. Empty means http://host:port.
	Hostname               string `mapstructure:"hostname"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
	CacheMaxAgeSeconds     int    `mapstructure:"cache_max_age_seconds"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// RenderConfig configures the headless browser renderer.
type RenderConfig struct {
	ExecPath             string `mapstructure:"exec_path"`
	MaxParallel          int    `mapstructure:"max_parallel"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	ReadyTimeoutSeconds  int    `mapstructure:"ready_timeout_seconds"`
	LaunchTimeoutSeconds int    `mapstructure:"launch_timeout_seconds"`
	NoSandbox            bool   `mapstructure:"no_sandbox"`
}

// WorkerConfig sizes the blocking-work pool.
type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// TelemetryConfig points at a Plausible-compatible event API. Reporting is
// off unless both Endpoint and Domain are set.
type TelemetryConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Domain         string `mapstructure:"domain"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig selects where finished artifacts are copied.
type ArchiveConfig struct {
	Backend        string `mapstructure:"backend"`
	Prefix         string `mapstructure:"prefix"`
	LocalDir       string `mapstructure:"local_dir"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	UsePathStyle   bool   `mapstructure:"use_path_style"`
	CacheControl   string `mapstructure:"cache_control"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DatabaseConfig controls the render ledger. Empty DSN disables it.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for render notifications. Empty ProjectID
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig bounds renders per client. Zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ThumbConfig configures the music thumbnail routes.
type ThumbConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Unprefixed environment names kept for existing deployments.
var legacyEnv = map[string]string{
	"server.hostname":    "SERVER_HOSTNAME",
	"server.host":        "HOST",
	"server.port":        "PORT",
	"telemetry.endpoint": "PLAUSIBLE_URL",
	"telemetry.domain":   "PLAUSIBLE_DOMAIN",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NAOTIMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := "NAOTIMES_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 12460)
	v.SetDefault("server.hostname", "")
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.cache_max_age_seconds", 600)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.timeout_seconds", 30)
	v.SetDefault("render.ready_timeout_seconds", 10)
	v.SetDefault("render.launch_timeout_seconds", 20)
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 16)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.domain", "")
	v.SetDefault("telemetry.timeout_seconds", 10)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "renders")
	v.SetDefault("archive.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("archive.timeout_seconds", 30)
	v.SetDefault("database.table", "renders")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("pubsub.topic_name", "og-renders")
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("thumb.enabled", true)
	v.SetDefault("thumb.timeout_seconds", 15)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "naotimes-og")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0")
	}
	if c.Render.TimeoutSeconds <= 0 || c.Render.ReadyTimeoutSeconds <= 0 {
		return fmt.Errorf("render timeouts must be > 0")
	}
	if c.Render.ReadyTimeoutSeconds > c.Render.TimeoutSeconds {
		return fmt.Errorf("render.ready_timeout_seconds must not exceed render.timeout_seconds")
	}
	if c.Worker.Workers <= 0 {
		return fmt.Errorf("worker.workers must be > 0")
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local backend")
		}
	case BackendGCS, BackendS3:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the %s backend", c.Archive.Backend)
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Address is the listen address of the HTTP server.
func (c Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GeneratorHost returns the base URL the browser loads templates from. The
// second result is false when it was derived from the listen address.
func (c Config) GeneratorHost() (string, bool) {
	if h := strings.TrimRight(strings.TrimSpace(c.Server.Hostname), "/"); h != "" {
		return h, true
	}
	return "http://" + c.Address(), false
}

// Seconds converts a whole-second knob into a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
