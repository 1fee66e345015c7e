// ABOUTME: Configuration loading and parsing for mcpz
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/mcpz/internal/guard"
	"github.com/2389/mcpz/internal/tlsutil"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "MCPZ_CONFIG"

// Config represents the complete mcpz configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Shell      ShellConfig      `yaml:"shell" toml:"shell"`
	Filesystem FilesystemConfig `yaml:"filesystem" toml:"filesystem"`
	SQL        SQLConfig        `yaml:"sql" toml:"sql"`
}

// ServerConfig holds the HTTP transport configuration
type ServerConfig struct {
	Addr           string    `yaml:"addr" toml:"addr"`
	TLS            TLSConfig `yaml:"tls" toml:"tls"`
	AllowedOrigins []string  `yaml:"allowed_origins" toml:"allowed_origins"`

	SessionTTL        time.Duration `yaml:"-" toml:"-"`
	SweepInterval     time.Duration `yaml:"-" toml:"-"`
	KeepAliveInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SessionTTLRaw        string `yaml:"session_ttl" toml:"session_ttl"`
	SweepIntervalRaw     string `yaml:"sweep_interval" toml:"sweep_interval"`
	KeepAliveIntervalRaw string `yaml:"keepalive_interval" toml:"keepalive_interval"`
}

// TLSConfig holds HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	CacheDir string `yaml:"cache_dir" toml:"cache_dir"` // self-signed cache, default <user cache>/mcpz/tls
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// ShellConfig holds the shell backend configuration
type ShellConfig struct {
	WorkingDir    string   `yaml:"working_dir" toml:"working_dir"`
	Shell         string   `yaml:"shell" toml:"shell"`
	Allow         []string `yaml:"allow" toml:"allow"`
	Deny          []string `yaml:"deny" toml:"deny"`
	IncludeStderr bool     `yaml:"include_stderr" toml:"include_stderr"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// FilesystemConfig holds the filesystem backend configuration
type FilesystemConfig struct {
	AllowedDirectories []string `yaml:"allowed_directories" toml:"allowed_directories"`
}

// SQLConfig holds the SQL backend configuration
type SQLConfig struct {
	Connection string `yaml:"connection" toml:"connection"`
	Mode       string `yaml:"mode" toml:"mode"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:3000",
			SessionTTL:        time.Hour,
			SweepInterval:     60 * time.Second,
			KeepAliveInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: "/metrics"},
		Shell: ShellConfig{
			Shell:         "/bin/sh",
			IncludeStderr: true,
			Timeout:       30 * time.Second,
		},
		SQL: SQLConfig{
			Mode:    "readonly",
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields the file leaves out keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the file named by explicit, else $MCPZ_CONFIG, else the
// XDG default path. Only a missing XDG default falls back to Default(); an
// explicitly named file must exist. The returned path is empty when defaults are used.
func LoadOrDefault(explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit)
		return cfg, explicit, err
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		cfg, err := Load(envPath)
		return cfg, envPath, err
	}

	path := DefaultPath()
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), "", nil
	}
	return cfg, path, err
}

// DefaultPath returns the default config file location.
// Priority: XDG_CONFIG_HOME/mcpz/config.yaml > ~/.config/mcpz/config.yaml
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "mcpz.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "mcpz", "config.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"server.session_ttl", c.Server.SessionTTL},
		{"server.sweep_interval", c.Server.SweepInterval},
		{"server.keepalive_interval", c.Server.KeepAliveInterval},
		{"shell.timeout", c.Shell.Timeout},
		{"sql.timeout", c.SQL.Timeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls: %w", tlsutil.ErrIncompletePair)
	}

	if _, err := guard.ParseAccessMode(c.SQL.Mode); err != nil {
		return fmt.Errorf("sql.mode: %w", err)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ParseLevel maps a logging.level value onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", level)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_ttl", cfg.Server.SessionTTLRaw, &cfg.Server.SessionTTL},
		{"sweep_interval", cfg.Server.SweepIntervalRaw, &cfg.Server.SweepInterval},
		{"keepalive_interval", cfg.Server.KeepAliveIntervalRaw, &cfg.Server.KeepAliveInterval},
		{"shell.timeout", cfg.Shell.TimeoutRaw, &cfg.Shell.Timeout},
		{"sql.timeout", cfg.SQL.TimeoutRaw, &cfg.SQL.Timeout},
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
