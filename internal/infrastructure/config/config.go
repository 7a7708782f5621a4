package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the session core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Deployment DeploymentConfig `yaml:"deployment"`
	Database   DatabaseConfig   `yaml:"database"`
	Backend    BackendConfig    `yaml:"backend"`
	Session    SessionConfig    `yaml:"session"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// DeploymentConfig identifies this deployment of the console.
type DeploymentConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BackendConfig describes the external identity/document backend.
type BackendConfig struct {
	// AdminAPIURL is the base URL of the privileged admin API used for
	// user creation/deletion. Requests carry a bearer token plus the
	// CSRF header.
	AdminAPIURL string `yaml:"admin_api_url"`

	// TimeoutSeconds bounds each admin API request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Breaker tunes the circuit breaker around the admin API.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains circuit breaker settings for backend calls.
type BreakerConfig struct {
	MaxFailures     int `yaml:"max_failures"`
	OpenSeconds     int `yaml:"open_seconds"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

// SessionConfig contains session engine settings.
type SessionConfig struct {
	// IdleTimeoutMinutes is the inactivity period before forced sign-out.
	// Values below the 5-minute floor are clamped.
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`

	// PersistDemo keeps demo sessions in the local store so they survive
	// a restart.
	PersistDemo bool `yaml:"persist_demo"`

	// AuditCacheSize bounds the per-user local audit ring buffer.
	AuditCacheSize int `yaml:"audit_cache_size"`

	// OrganizationCacheSize bounds the organization LRU cache.
	OrganizationCacheSize int `yaml:"organization_cache_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket peer-link settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// TrustedOrigins are origins allowed to open a peer link in addition
	// to the API's own origin. Sourceless origins ("null", "") are always
	// trusted; they indicate a sandboxed same-origin frame.
	TrustedOrigins []string `yaml:"trusted_origins"`
}

// AnalyticsConfig contains InfluxDB usage-telemetry settings.
type AnalyticsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
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
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Password  PasswordConfig  `yaml:"password"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// StoreConfig contains secure local store settings.
//
// The store obfuscates values with a keystream derived from the deployment
// secret and a client fingerprint. This is protection against casual
// inspection of the database file, not a cryptographic boundary.
type StoreConfig struct {
	Secret      string `yaml:"secret"`
	Fingerprint string `yaml:"fingerprint"`
}

// RateLimitConfig contains sliding-window rate limit settings for
// sensitive operations (login, password reset, admin actions).
type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxCalls      int  `yaml:"max_calls"`
	WindowSeconds int  `yaml:"window_seconds"`
}

// PasswordConfig contains password acceptance rules.
type PasswordConfig struct {
	MinLength int `yaml:"min_length"`
	// MinScore is the minimum zxcvbn strength score (0-4).
	MinScore int `yaml:"min_score"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CONSOLE_SECTION_KEY
// For example: CONSOLE_DATABASE_PATH, CONSOLE_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Deployment: DeploymentConfig{
			ID:       "console-001",
			Name:     "Gestión Sostenible",
			Timezone: "America/Montevideo",
		},
		Database: DatabaseConfig{
			Path:        "./data/console.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Backend: BackendConfig{
			TimeoutSeconds: 10,
			Breaker: BreakerConfig{
				MaxFailures:     5,
				OpenSeconds:     30,
				IntervalSeconds: 60,
			},
		},
		Session: SessionConfig{
			IdleTimeoutMinutes:    45,
			PersistDemo:           true,
			AuditCacheSize:        40,
			OrganizationCacheSize: 200,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "console-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				MaxCalls:      5,
				WindowSeconds: 60,
			},
			Password: PasswordConfig{
				MinLength: 8,
				MinScore:  2,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CONSOLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("CONSOLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Backend
	if v := os.Getenv("CONSOLE_BACKEND_ADMIN_API_URL"); v != "" {
		cfg.Backend.AdminAPIURL = v
	}

	// MQTT
	if v := os.Getenv("CONSOLE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CONSOLE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CONSOLE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("CONSOLE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("CONSOLE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Analytics
	if v := os.Getenv("CONSOLE_ANALYTICS_TOKEN"); v != "" {
		cfg.Analytics.Token = v
	}

	// Security secrets (always override these in production)
	if v := os.Getenv("CONSOLE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("CONSOLE_STORE_SECRET"); v != "" {
		cfg.Security.Store.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Deployment.ID == "" {
		errs = append(errs, "deployment.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// JWT secret is REQUIRED: an empty or weak secret would allow forged
	// bearer tokens against the privileged API surface.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set CONSOLE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.Store.Secret == "" {
		errs = append(errs, "security.store.secret is required (set CONSOLE_STORE_SECRET environment variable)")
	}

	if c.Security.Password.MinScore < 0 || c.Security.Password.MinScore > 4 {
		errs = append(errs, "security.password.min_score must be between 0 and 4")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IdleTimeout returns the session idle timeout as a Duration, clamped to
// the 5-minute floor.
func (c *Config) IdleTimeout() time.Duration {
	const floorMinutes = 5
	minutes := c.Session.IdleTimeoutMinutes
	if minutes < floorMinutes {
		minutes = floorMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// RateLimitWindow returns the sliding-window duration for rate limiting.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Security.RateLimit.WindowSeconds) * time.Second
}

// BackendTimeout returns the admin API request timeout as a Duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
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
