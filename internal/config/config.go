// ABOUTME: Configuration loading and parsing for seance-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete seance-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Engine    EngineConfig    `yaml:"engine"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout time.Duration `yaml:"-"`
	PingInterval    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
	PingIntervalRaw    string `yaml:"ping_interval"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`

	// HTTPS serves on :443 with Tailscale-provisioned certs. Funnel exposes
	// the node publicly and implies HTTPS.
	HTTPS  bool `yaml:"https"`
	Funnel bool `yaml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`

	Retention time.Duration `yaml:"-"`

	// PurgeSchedule is a cron expression for the retention sweep.
	PurgeSchedule string `yaml:"purge_schedule"`
	RetentionRaw  string `yaml:"retention"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

// EngineConfig holds agent engine process configuration
type EngineConfig struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	DefaultWorkDir string   `yaml:"default_work_dir"`
	ProfilePath    string   `yaml:"profile_path"`

	// AllowBypass gates the per-request flag that disables approvals and
	// sandboxing. When false, requests asking for bypass are rejected.
	AllowBypass bool `yaml:"allow_bypass"`
}

// SessionsConfig holds session bookkeeping configuration
type SessionsConfig struct {
	RecentTTL time.Duration `yaml:"-"`
	RecentMax int           `yaml:"recent_max"`

	// MaxDuration is a wall-clock cap per turn. Zero means no cap; exceeding
	// it cancels the session the same way a client disconnect does.
	MaxDuration time.Duration `yaml:"-"`

	RecentTTLRaw   string `yaml:"recent_ttl"`
	MaxDurationRaw string `yaml:"max_duration"`
}

// LimitsConfig holds request limit configuration
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxMessageBytes   int64   `yaml:"max_message_bytes"`
	MaxSessions       int     `yaml:"max_sessions"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when fields are absent from the file.
const (
	DefaultShutdownTimeout = 15 * time.Second
	DefaultPingInterval    = 15 * time.Second
	DefaultRecentTTL       = 10 * time.Minute
	DefaultRecentMax       = 512
	DefaultPurgeSchedule   = "0 3 * * *"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields that have defaults.
func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Sessions.RecentTTL == 0 {
		c.Sessions.RecentTTL = DefaultRecentTTL
	}
	if c.Sessions.RecentMax == 0 {
		c.Sessions.RecentMax = DefaultRecentMax
	}
	if c.Database.PurgeSchedule == "" {
		c.Database.PurgeSchedule = DefaultPurgeSchedule
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}

	if c.Limits.RequestsPerSecond < 0 || c.Limits.Burst < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout, "shutdown_timeout"},
		{cfg.Server.PingIntervalRaw, &cfg.Server.PingInterval, "ping_interval"},
		{cfg.Database.RetentionRaw, &cfg.Database.Retention, "retention"},
		{cfg.Sessions.RecentTTLRaw, &cfg.Sessions.RecentTTL, "recent_ttl"},
		{cfg.Sessions.MaxDurationRaw, &cfg.Sessions.MaxDuration, "max_duration"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
