package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://kolesa.kz", cfg.Site.BaseURL)
	require.NotEmpty(t, cfg.Site.UserAgent)
	require.Equal(t, 50, cfg.Scan.MaxPages)
	require.Equal(t, 200, cfg.Fetch.BatchSize)
	require.Equal(t, 3, cfg.Fetch.Concurrency)
	require.Equal(t, 15*time.Second, cfg.Fetch.NavTimeout())
	require.Equal(t, 8*time.Second, cfg.Fetch.ContentTimeout())
	require.Equal(t, 3*time.Second, cfg.Fetch.IdleTimeout())
	require.True(t, cfg.Fetch.ArchiveRaw)
	require.Equal(t, 800, cfg.Politeness.MinMs)
	require.Equal(t, 2200, cfg.Politeness.MaxMs)
	require.Equal(t, "noop", cfg.Archive.Provider)
	require.Equal(t, "noop", cfg.Events.Provider)
	require.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
site:
  base_url: https://staging.kolesa.kz
fetch:
  concurrency: 5
archive:
  provider: local
  base_dir: /tmp/archive
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://staging.kolesa.kz", cfg.Site.BaseURL)
	require.Equal(t, 5, cfg.Fetch.Concurrency)
	require.Equal(t, "local", cfg.Archive.Provider)
	require.Equal(t, "/tmp/archive", cfg.Archive.BaseDir)
	// Unset keys keep their defaults.
	require.Equal(t, 200, cfg.Fetch.BatchSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KOLESA_FETCH_CONCURRENCY", "7")
	t.Setenv("KOLESA_SITE_BASE_URL", "https://mirror.kolesa.kz")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Fetch.Concurrency)
	require.Equal(t, "https://mirror.kolesa.kz", cfg.Site.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"empty base url":          func(c *Config) { c.Site.BaseURL = "" },
		"empty user agent":        func(c *Config) { c.Site.UserAgent = "" },
		"zero max pages":          func(c *Config) { c.Scan.MaxPages = 0 },
		"zero batch size":         func(c *Config) { c.Fetch.BatchSize = 0 },
		"zero concurrency":        func(c *Config) { c.Fetch.Concurrency = 0 },
		"negative min delay":      func(c *Config) { c.Politeness.MinMs = -1 },
		"max below min delay":     func(c *Config) { c.Politeness.MinMs = 500; c.Politeness.MaxMs = 100 },
		"gcs without bucket":      func(c *Config) { c.Archive.Provider = "gcs"; c.Archive.Bucket = "" },
		"local without base dir":  func(c *Config) { c.Archive.Provider = "local"; c.Archive.BaseDir = "" },
		"unknown archive":         func(c *Config) { c.Archive.Provider = "s3" },
		"pubsub without project":  func(c *Config) { c.Events.Provider = "pubsub" },
		"unknown events provider": func(c *Config) { c.Events.Provider = "kafka" },
		"zero port":               func(c *Config) { c.Server.Port = 0 },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
