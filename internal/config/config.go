// Package config loads and validates tiler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/terrain-tiler/internal/dsf"
	"github.com/JakeFAU/terrain-tiler/internal/geometry"
	"github.com/JakeFAU/terrain-tiler/internal/logging"
	"github.com/JakeFAU/terrain-tiler/internal/policy/ratelimit"
	"github.com/JakeFAU/terrain-tiler/internal/telemetry"
)

// Output providers.
const (
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Build      BuildConfig      `mapstructure:"build"`
	Output     OutputConfig     `mapstructure:"output"`
	Sources    []SourceConfig   `mapstructure:"sources"`
	Categories geometry.Rules   `mapstructure:"categories"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    logging.Config   `mapstructure:"logging"`
	Telemetry  telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit throttles tile submissions per client; zero RPS disables it.
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BuildConfig governs tile extraction and the server's build dispatcher.
type BuildConfig struct {
	// Workers is the extraction pool size of a single tile build.
	Workers       int `mapstructure:"workers"`
	ChunksPerSide int `mapstructure:"chunks_per_side"`
	Decimals      int `mapstructure:"decimals"`
	// Builders is the number of tiles the server builds concurrently.
	Builders int `mapstructure:"builders"`
	// Exclusions lists the default scenery kinds ("obj", "for", "pol", ...)
	// excluded over every written tile.
	Exclusions    []string `mapstructure:"exclusions"`
	IndexComments bool     `mapstructure:"index_comments"`
}

// OutputConfig selects where tile text is stored.
type OutputConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// SourceConfig names a GeoJSON vector source on disk.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// DBConfig controls access to the run database. An empty DSN keeps runs in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for build notifications. Publishing is off
// unless both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether build notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TILER")
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
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit.rps", 0)
	v.SetDefault("server.rate_limit.burst", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("build.workers", 4)
	v.SetDefault("build.chunks_per_side", 4)
	v.SetDefault("build.decimals", dsf.MinDecimals)
	v.SetDefault("build.builders", 1)
	v.SetDefault("output.provider", ProviderLocal)
	v.SetDefault("output.base_dir", "data/tiles")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 7)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "terrain-tiler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Server.RateLimit.RPS < 0 {
		return fmt.Errorf("server.rate_limit.rps must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Build.Workers <= 0 {
		return fmt.Errorf("build.workers must be > 0")
	}
	if c.Build.ChunksPerSide <= 0 {
		return fmt.Errorf("build.chunks_per_side must be > 0")
	}
	if c.Build.Decimals < dsf.MinDecimals {
		return fmt.Errorf("build.decimals must be >= %d", dsf.MinDecimals)
	}
	if c.Build.Builders <= 0 {
		return fmt.Errorf("build.builders must be > 0")
	}
	for i, kind := range c.Build.Exclusions {
		if kind == "" || strings.ContainsAny(kind, " \t/") {
			return fmt.Errorf("build.exclusions[%d] must be a single non-empty word", i)
		}
	}
	switch c.Output.Provider {
	case ProviderLocal:
		if c.Output.BaseDir == "" {
			return fmt.Errorf("output.base_dir must be set for the local provider")
		}
	case ProviderGCS:
		if c.Output.Bucket == "" {
			return fmt.Errorf("output.bucket must be set for the gcs provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("output.provider %q is not supported", c.Output.Provider)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must list at least one vector source")
	}
	for i, s := range c.Sources {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("sources[%d]: name and path are required", i)
		}
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories must list at least one rule")
	}
	if err := c.Categories.Validate(); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Address returns the HTTP listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
