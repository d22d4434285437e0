// Package config loads server configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by StorageConfig.Backend.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig selects and configures the license store backend.
type StorageConfig struct {
	Backend     string      `yaml:"backend" envconfig:"BACKEND"`
	JSONPath    string      `yaml:"json_path" envconfig:"JSON_PATH"`
	SQLitePath  string      `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	PostgresDSN string      `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	Cache       CacheConfig `yaml:"cache" envconfig:"CACHE"`
}

// CacheConfig configures the optional Redis read-through license cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Addr     string        `yaml:"addr" envconfig:"ADDR"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// SecurityConfig contains the admin credential and token material.
// AdminPasswordHash is the hex SHA-256 of the admin password.
type SecurityConfig struct {
	AdminUsername     string        `yaml:"admin_username" envconfig:"ADMIN_USERNAME"`
	AdminPasswordHash string        `yaml:"admin_password_hash" envconfig:"ADMIN_PASSWORD_HASH"`
	APIKey            string        `yaml:"api_key" envconfig:"API_KEY"`
	SecretKey         string        `yaml:"secret_key" envconfig:"SECRET_KEY"`
	TokenTTL          time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
}

// LicenseConfig controls generated license keys.
type LicenseConfig struct {
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	KeyLength int    `yaml:"key_length" envconfig:"KEY_LENGTH"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    BackendJSON,
			JSONPath:   "data/licenses.json",
			SQLitePath: "data/licenses.db",
			Cache: CacheConfig{
				Addr: "localhost:6379",
				TTL:  time.Minute,
			},
		},
		Security: SecurityConfig{
			AdminUsername: "admin",
			TokenTTL:      30 * time.Minute,
		},
		License: LicenseConfig{
			KeyPrefix: "LS",
			KeyLength: 16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if it exists), then LUMINA_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("LUMINA", cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var hexHashRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires storage.postgres_dsn")
	}

	if len(c.Security.SecretKey) < 32 {
		return fmt.Errorf("security.secret_key must be at least 32 bytes")
	}
	if c.Security.AdminPasswordHash == "" {
		return fmt.Errorf("security.admin_password_hash is required")
	}
	if !hexHashRegex.MatchString(c.Security.AdminPasswordHash) {
		return fmt.Errorf("security.admin_password_hash must be a hex SHA-256 digest")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.License.KeyLength < 8 || c.License.KeyLength > 64 {
		return fmt.Errorf("license.key_length %d out of range", c.License.KeyLength)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
