package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Research Portal Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServiceConfig contains service-level identification settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Timezone    string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	TwoFactor TwoFactorConfig `yaml:"two_factor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains token signing settings.
//
// Access and refresh tokens are signed with separate secrets so a leaked
// access secret cannot be used to mint long-lived refresh tokens.
type JWTConfig struct {
	AccessSecret  string `yaml:"access_secret"`
	RefreshSecret string `yaml:"refresh_secret"`
	Issuer        string `yaml:"issuer"`

	// AccessTokenTTL is the access token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`

	// RefreshTokenTTL is the refresh token lifetime in minutes.
	RefreshTokenTTL int `yaml:"refresh_token_ttl"`
}

// TwoFactorConfig contains TOTP second-factor settings.
type TwoFactorConfig struct {
	// Issuer is the name shown in authenticator apps next to the account.
	Issuer string `yaml:"issuer"`
}

// RateLimitConfig contains login rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	Burst             int  `yaml:"burst"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RESEARCHPORTAL_SECTION_KEY
// For example: RESEARCHPORTAL_DATABASE_PATH, RESEARCHPORTAL_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default TTLs: 15-minute access tokens, 7-day refresh tokens.
const (
	defaultAccessTTLMinutes  = 15
	defaultRefreshTTLMinutes = 7 * 24 * 60
)

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "researchportal",
			Environment: "development",
			Timezone:    "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/researchportal.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "researchportal",
				AccessTokenTTL:  defaultAccessTTLMinutes,
				RefreshTokenTTL: defaultRefreshTTLMinutes,
			},
			TwoFactor: TwoFactorConfig{
				Issuer: "Research Portal",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				Burst:             10,
				RequestsPerMinute: 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RESEARCHPORTAL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("RESEARCHPORTAL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("RESEARCHPORTAL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RESEARCHPORTAL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("RESEARCHPORTAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - token secrets (IMPORTANT: always set these in production)
	if v := os.Getenv("RESEARCHPORTAL_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("RESEARCHPORTAL_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
}

// minSecretLength is the minimum accepted length for token signing secrets.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - token secrets are REQUIRED.
	// The portal gates every business record behind these tokens; an empty
	// or short secret would let an attacker forge a principal of any role.
	if c.Security.JWT.AccessSecret == "" {
		errs = append(errs, "security.jwt.access_secret is required (set RESEARCHPORTAL_ACCESS_SECRET environment variable)")
	} else if len(c.Security.JWT.AccessSecret) < minSecretLength {
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	if c.Security.JWT.RefreshSecret == "" {
		errs = append(errs, "security.jwt.refresh_secret is required (set RESEARCHPORTAL_REFRESH_SECRET environment variable)")
	} else if len(c.Security.JWT.RefreshSecret) < minSecretLength {
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if c.Security.JWT.AccessSecret != "" && c.Security.JWT.AccessSecret == c.Security.JWT.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and refresh_secret must differ")
	}

	if c.Security.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, "security.jwt.access_token_ttl must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt.refresh_token_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AccessTTL returns the access token lifetime as a Duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a Duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Security.JWT.RefreshTokenTTL) * time.Minute
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
