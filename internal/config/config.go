// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRACKER_DATABASE_DSN.
const EnvPrefix = "TRACKER"

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	History   HistoryConfig   `mapstructure:"history"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory repository.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// FetcherConfig governs requests to the profile site.
type FetcherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CacheSize      int           `mapstructure:"cache_size"`
	UserAgent      string        `mapstructure:"user_agent"`
	Accept         string        `mapstructure:"accept"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	TLSBypass      bool          `mapstructure:"tls_bypass"`
}

// ExtractorConfig holds the phrases the extractor keys on.
type ExtractorConfig struct {
	World              string   `mapstructure:"world"`
	ProfileMarkers     []string `mapstructure:"profile_markers"`
	NotFoundMarkers    []string `mapstructure:"not_found_markers"`
	InfoTableClasses   []string `mapstructure:"info_table_classes"`
	InfoTableHeadings  []string `mapstructure:"info_table_headings"`
	ExperienceHeadings []string `mapstructure:"experience_headings"`
	DeathHeadings      []string `mapstructure:"death_headings"`
}

// SweepConfig controls bulk scraping.
type SweepConfig struct {
	Pause time.Duration `mapstructure:"pause"`
}

// SchedulerConfig controls the daily sweep trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
}

// ArchiveConfig selects where raw profile pages are kept.
type ArchiveConfig struct {
	Backend      string `mapstructure:"backend"`
	FailuresOnly bool   `mapstructure:"failures_only"`
	Prefix       string `mapstructure:"prefix"`
	BaseDir      string `mapstructure:"base_dir"`
	Bucket       string `mapstructure:"bucket"`
}

// PubSubConfig holds the snapshot event topic. Empty values select the
// in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HistoryConfig controls the history endpoint.
type HistoryConfig struct {
	DefaultDays int `mapstructure:"default_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 0)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "0s")
	v.SetDefault("database.migrate", true)
	v.SetDefault("fetcher.base_url", "https://san.taleon.online")
	v.SetDefault("fetcher.timeout", "10s")
	v.SetDefault("fetcher.cache_ttl", "5m")
	v.SetDefault("fetcher.cache_size", 1024)
	v.SetDefault("fetcher.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("fetcher.accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	v.SetDefault("fetcher.accept_language", "en-US,en;q=0.9")
	v.SetDefault("fetcher.rate_limit_rps", 0)
	v.SetDefault("fetcher.rate_limit_burst", 1)
	v.SetDefault("fetcher.tls_bypass", false)
	v.SetDefault("extractor.world", "San")
	v.SetDefault("extractor.profile_markers", []string{"Character Information", "Vocation"})
	v.SetDefault("extractor.not_found_markers", []string{"does not exist", "character not found"})
	v.SetDefault("extractor.info_table_classes", []string{"TableContent", "table"})
	v.SetDefault("extractor.info_table_headings", []string{"Character Information"})
	v.SetDefault("extractor.experience_headings", []string{"Experience History"})
	v.SetDefault("extractor.death_headings", []string{"Death List", "Deaths"})
	v.SetDefault("sweep.pause", "2s")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "1 0 * * *")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.failures_only", true)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("history.default_days", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Fetcher.BaseURL) == "" {
		return fmt.Errorf("fetcher.base_url is required")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.CacheTTL <= 0 {
		return fmt.Errorf("fetcher.cache_ttl must be > 0")
	}
	if c.Fetcher.CacheSize <= 0 {
		return fmt.Errorf("fetcher.cache_size must be > 0")
	}
	if c.Fetcher.RateLimitRPS < 0 {
		return fmt.Errorf("fetcher.rate_limit_rps must be >= 0")
	}
	if strings.TrimSpace(c.Extractor.World) == "" {
		return fmt.Errorf("extractor.world is required")
	}
	if c.Sweep.Pause < 0 {
		return fmt.Errorf("sweep.pause must be >= 0")
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Spec) == "" {
		return fmt.Errorf("scheduler.spec is required when the scheduler is enabled")
	}
	if c.History.DefaultDays <= 0 {
		return fmt.Errorf("history.default_days must be > 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Location resolves the scheduler timezone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Scheduler.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
