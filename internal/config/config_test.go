package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 12460, cfg.Server.Port)
	require.Equal(t, 30, cfg.Render.TimeoutSeconds)
	require.Equal(t, 10, cfg.Render.ReadyTimeoutSeconds)
	require.Equal(t, 600, cfg.Server.CacheMaxAgeSeconds)
	require.Equal(t, BackendNone, cfg.Archive.Backend)
	require.True(t, cfg.Thumb.Enabled)
	require.Equal(t, "127.0.0.1:12460", cfg.Address())

	host, explicit := cfg.GeneratorHost()
	require.Equal(t, "http://127.0.0.1:12460", host)
	require.False(t, explicit)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 0.0.0.0
  port: 9090
  hostname: https://og.naoti.me/
render:
  max_parallel: 3
  timeout_seconds: 20
  ready_timeout_seconds: 5
  no_sandbox: true
worker:
  workers: 8
telemetry:
  endpoint: https://plausible.io
  domain: naoti.me
archive:
  backend: gcs
  bucket: og-archive
database:
  dsn: postgres://localhost/og
pubsub:
  project_id: naotimes
ratelimit:
  rps: 2.5
  burst: 10
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 3, cfg.Render.MaxParallel)
	require.True(t, cfg.Render.NoSandbox)
	require.Equal(t, 8, cfg.Worker.Workers)
	require.Equal(t, "naoti.me", cfg.Telemetry.Domain)
	require.Equal(t, BackendGCS, cfg.Archive.Backend)
	require.Equal(t, "og-renders", cfg.PubSub.TopicName)
	require.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
	require.False(t, cfg.Logging.Development)

	host, explicit := cfg.GeneratorHost()
	require.Equal(t, "https://og.naoti.me", host)
	require.True(t, explicit)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NAOTIMES_RENDER_MAX_PARALLEL", "6")
	t.Setenv("PORT", "8181")
	t.Setenv("PLAUSIBLE_URL", "https://stats.example")
	t.Setenv("PLAUSIBLE_DOMAIN", "og.example")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Render.MaxParallel)
	require.Equal(t, 8181, cfg.Server.Port)
	require.Equal(t, "https://stats.example", cfg.Telemetry.Endpoint)
	require.Equal(t, "og.example", cfg.Telemetry.Domain)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("NAOTIMES_SERVER_PORT", "7000")
	t.Setenv("PORT", "8000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Server.Port = 0 },
		"parallel":      func(c *Config) { c.Render.MaxParallel = 0 },
		"ready timeout": func(c *Config) { c.Render.ReadyTimeoutSeconds = 60 },
		"workers":       func(c *Config) { c.Worker.Workers = 0 },
		"backend":       func(c *Config) { c.Archive.Backend = "ftp" },
		"local dir":     func(c *Config) { c.Archive.Backend = BackendLocal },
		"bucket":        func(c *Config) { c.Archive.Backend = BackendS3 },
		"rps":           func(c *Config) { c.RateLimit.RPS = -1 },
		"sample ratio":  func(c *Config) { c.Tracing.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
