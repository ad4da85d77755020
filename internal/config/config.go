// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store kinds accepted by store.kind.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	AutoUpdate  AutoUpdateConfig  `mapstructure:"auto_update"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Extensions  ExtensionsConfig  `mapstructure:"extensions"`
	Filesystem  FilesystemConfig  `mapstructure:"filesystem"`
	Store       StoreConfig       `mapstructure:"store"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior. A non-empty APIKey is
// required on every /v1 request.
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
	APIKey          string `mapstructure:"api_key"`
}

// CacheConfig sizes the calendar cache.
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	MaxSize         int           `mapstructure:"max_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// HTTPConfig configures outbound fetches shared by the network handlers.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRedirects   int     `mapstructure:"max_redirects"`
	MaxBodyBytes   int64   `mapstructure:"max_body_bytes"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AutoUpdateConfig drives the background update loop.
type AutoUpdateConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// EnvironmentConfig feeds the environment classifier.
//   - HostURL: public URL of the host application.
//   - DevMode: always bypass the cache.
//   - DebugFlags: host debug switches counted as development signals.
type EnvironmentConfig struct {
	HostURL    string          `mapstructure:"host_url"`
	DevMode    bool            `mapstructure:"dev_mode"`
	DebugFlags map[string]bool `mapstructure:"debug_flags"`
}

// GitHubConfig configures the code-hosting handler.
type GitHubConfig struct {
	APIBase string `mapstructure:"api_base"`
	Token   string `mapstructure:"token"`
}

// ExtensionsConfig locates installed sibling extensions.
type ExtensionsConfig struct {
	Dir     string `mapstructure:"dir"`
	HostURL string `mapstructure:"host_url"`
}

// FilesystemConfig sets the root for relative file locations.
type FilesystemConfig struct {
	Root string `mapstructure:"root"`
}

// StoreConfig selects where configured sources are persisted.
type StoreConfig struct {
	Kind     string          `mapstructure:"kind"`
	File     FileStoreConfig `mapstructure:"file"`
	Postgres PostgresConfig  `mapstructure:"postgres"`
}

// FileStoreConfig places the sources file.
type FileStoreConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	FileName string `mapstructure:"file_name"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CALSOURCES")
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("server.api_key", "")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cache.cleanup_interval", 5*time.Minute)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("http.user_agent", "calendar-sources/0.1")
	v.SetDefault("http.rate_limit_rps", 5.0)
	v.SetDefault("http.rate_limit_burst", 5)
	v.SetDefault("auto_update.enabled", false)
	v.SetDefault("auto_update.interval", time.Hour)
	v.SetDefault("environment.host_url", "")
	v.SetDefault("environment.dev_mode", false)
	v.SetDefault("github.api_base", "https://api.github.com")
	v.SetDefault("github.token", "")
	v.SetDefault("extensions.dir", "")
	v.SetDefault("extensions.host_url", "")
	v.SetDefault("filesystem.root", ".")
	v.SetDefault("store.kind", StoreMemory)
	v.SetDefault("store.file.base_dir", ".calsources")
	v.SetDefault("store.file.file_name", "sources.json")
	v.SetDefault("store.postgres.table", "calendar_sources")
	v.SetDefault("store.postgres.ensure_schema", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects <= 0 {
		return fmt.Errorf("http.max_redirects must be > 0")
	}
	if c.AutoUpdate.Enabled && c.AutoUpdate.Interval <= 0 {
		return fmt.Errorf("auto_update.interval must be > 0 when auto update is enabled")
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.Store.File.BaseDir) == "" {
			return fmt.Errorf("store.file.base_dir must be set for the file store")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres store")
		}
	default:
		return fmt.Errorf("store.kind %q is not one of memory, file, postgres", c.Store.Kind)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ExtensionsHostURL falls back to the environment host URL.
func (c Config) ExtensionsHostURL() string {
	if c.Extensions.HostURL != "" {
		return c.Extensions.HostURL
	}
	return c.Environment.HostURL
}
