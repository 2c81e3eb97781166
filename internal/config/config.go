// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig       `mapstructure:"site"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	DB         DBConfig         `mapstructure:"db"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Events     EventsConfig     `mapstructure:"events"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SiteConfig identifies the source site.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// ScanConfig governs the discovery scanner.
type ScanConfig struct {
	MaxPages         int `mapstructure:"max_pages"`
	PromoteThreshold int `mapstructure:"promote_threshold"`
}

// FetchConfig governs the fetch worker pool.
type FetchConfig struct {
	BatchSize         int  `mapstructure:"batch_size"`
	Concurrency       int  `mapstructure:"concurrency"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	ContentTimeoutSec int  `mapstructure:"content_timeout_seconds"`
	IdleTimeoutSec    int  `mapstructure:"idle_timeout_seconds"`
	ViewsEnrichBatch  int  `mapstructure:"views_enrich_batch"`
	ArchiveRaw        bool `mapstructure:"archive_raw"`
}

// PolitenessConfig bounds the randomized delays between requests.
type PolitenessConfig struct {
	MinMs int `mapstructure:"min_ms"`
	MaxMs int `mapstructure:"max_ms"`
}

// DBConfig controls access to the warehouse database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArchiveConfig selects the bronze blob store.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
}

// EventsConfig selects the price-event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ServerConfig controls the ops HTTP endpoint (metrics, health).
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Every key can be overridden
// via KOLESA_-prefixed environment variables (dots become underscores).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KOLESA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("site.base_url", "https://kolesa.kz")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("scan.max_pages", 50)
	v.SetDefault("scan.promote_threshold", 2048)
	v.SetDefault("fetch.batch_size", 200)
	v.SetDefault("fetch.concurrency", 3)
	v.SetDefault("fetch.nav_timeout_seconds", 15)
	v.SetDefault("fetch.content_timeout_seconds", 8)
	v.SetDefault("fetch.idle_timeout_seconds", 3)
	v.SetDefault("fetch.views_enrich_batch", 50)
	v.SetDefault("fetch.archive_raw", true)
	v.SetDefault("politeness.min_ms", 800)
	v.SetDefault("politeness.max_ms", 2200)
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("events.provider", "noop")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Site.UserAgent == "" {
		return fmt.Errorf("site.user_agent must be set")
	}
	if c.Scan.MaxPages <= 0 {
		return fmt.Errorf("scan.max_pages must be > 0")
	}
	if c.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.NavTimeoutSec <= 0 {
		return fmt.Errorf("fetch.nav_timeout_seconds must be > 0")
	}
	if c.Politeness.MinMs < 0 {
		return fmt.Errorf("politeness.min_ms must be >= 0")
	}
	if c.Politeness.MaxMs < c.Politeness.MinMs {
		return fmt.Errorf("politeness.max_ms must be >= politeness.min_ms")
	}
	switch c.Archive.Provider {
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.provider is gcs")
		}
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.provider is local")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	switch c.Events.Provider {
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.TopicID == "" {
			return fmt.Errorf("events.project_id and events.topic_id must be set when events.provider is pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown events provider: %s", c.Events.Provider)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// NavTimeout converts the navigation timeout to a duration.
func (c FetchConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// ContentTimeout converts the content-marker wait timeout to a duration.
func (c FetchConfig) ContentTimeout() time.Duration {
	return time.Duration(c.ContentTimeoutSec) * time.Second
}

// IdleTimeout converts the network-idle fallback timeout to a duration.
func (c FetchConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}
