package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Matterverse Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	ChipTool  ChipToolConfig  `yaml:"chiptool"`
	Polling   PollingConfig   `yaml:"polling"`
	DataModel DataModelConfig `yaml:"datamodel"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the attribute_history journal.
	// Zero disables pruning.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendQueueSize  int    `yaml:"send_queue_size"`
}

// InfluxDBConfig contains InfluxDB connection settings for attribute history.
type InfluxDBConfig struct {
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

// ChipToolConfig contains settings for the chip-tool subprocess gateway.
type ChipToolConfig struct {
	// Binary is the path to the chip-tool executable.
	// Default: "chip-tool" (resolved via PATH)
	Binary string `yaml:"binary"`

	// PAATrustStorePath is passed to chip-tool as --paa-trust-store-path.
	PAATrustStorePath string `yaml:"paa_trust_store_path"`

	// StorageDirectory holds chip-tool's fabric storage.
	StorageDirectory string `yaml:"storage_directory"`

	// CommandTimeout is the per-command deadline in seconds.
	// Default: 30
	CommandTimeout int `yaml:"command_timeout"`

	// MaxConcurrent caps the number of chip-tool processes running at once.
	// Default: 5
	MaxConcurrent int `yaml:"max_concurrent"`
}

// PollingConfig contains attribute polling scheduler settings.
type PollingConfig struct {
	// Interval is the seconds between polling sweeps. Default: 30
	Interval int `yaml:"interval"`

	// MaxConcurrentDevices caps devices polled per sweep. Default: 5
	MaxConcurrentDevices int `yaml:"max_concurrent_devices"`

	// FailureThreshold is the consecutive failure count before a device
	// enters backoff. Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// BackoffMax caps the exponential backoff in seconds. Default: 960
	BackoffMax int `yaml:"backoff_max"`

	// DiscoveryInterval is the seconds between structural rescans. Default: 300
	DiscoveryInterval int `yaml:"discovery_interval"`
}

// DataModelConfig contains Matter data model dictionary settings.
type DataModelConfig struct {
	// ClusterDir holds the cluster definition XML files.
	ClusterDir string `yaml:"cluster_dir"`

	// DeviceTypeDir holds the device type definition XML files.
	DeviceTypeDir string `yaml:"device_type_dir"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MATTERVERSE_SECTION_KEY
// For example: MATTERVERSE_DATABASE_PATH, MATTERVERSE_MQTT_HOST
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Matterverse",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:                 "./data/matterverse.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "matterverse-core",
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendQueueSize:  256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		ChipTool: ChipToolConfig{
			Binary:           "chip-tool",
			StorageDirectory: "./data/chip-tool",
			CommandTimeout:   30,
			MaxConcurrent:    5,
		},
		Polling: PollingConfig{
			Interval:             30,
			MaxConcurrentDevices: 5,
			FailureThreshold:     3,
			BackoffMax:           960,
			DiscoveryInterval:    300,
		},
		DataModel: DataModelConfig{
			ClusterDir:    "./datamodel/clusters",
			DeviceTypeDir: "./datamodel/device_types",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 1440,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MATTERVERSE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MATTERVERSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MATTERVERSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MATTERVERSE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MATTERVERSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MATTERVERSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MATTERVERSE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MATTERVERSE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("MATTERVERSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// chip-tool
	if v := os.Getenv("MATTERVERSE_CHIPTOOL_BINARY"); v != "" {
		cfg.ChipTool.Binary = v
	}
	if v := os.Getenv("MATTERVERSE_CHIPTOOL_PAA_TRUST_STORE_PATH"); v != "" {
		cfg.ChipTool.PAATrustStorePath = v
	}
	if v := os.Getenv("MATTERVERSE_CHIPTOOL_STORAGE_DIRECTORY"); v != "" {
		cfg.ChipTool.StorageDirectory = v
	}

	// Data model
	if v := os.Getenv("MATTERVERSE_DATAMODEL_CLUSTER_DIR"); v != "" {
		cfg.DataModel.ClusterDir = v
	}
	if v := os.Getenv("MATTERVERSE_DATAMODEL_DEVICE_TYPE_DIR"); v != "" {
		cfg.DataModel.DeviceTypeDir = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("MATTERVERSE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// chip-tool validation
	if c.ChipTool.Binary == "" {
		errs = append(errs, "chiptool.binary is required")
	}
	if c.ChipTool.CommandTimeout < 1 {
		errs = append(errs, "chiptool.command_timeout must be at least 1 second")
	}
	if c.ChipTool.MaxConcurrent < 1 {
		errs = append(errs, "chiptool.max_concurrent must be at least 1")
	}

	// Polling validation
	if c.Polling.Interval < 1 {
		errs = append(errs, "polling.interval must be at least 1 second")
	}
	if c.Polling.MaxConcurrentDevices < 1 {
		errs = append(errs, "polling.max_concurrent_devices must be at least 1")
	}
	if c.Polling.FailureThreshold < 1 {
		errs = append(errs, "polling.failure_threshold must be at least 1")
	}

	// Data model validation
	if c.DataModel.ClusterDir == "" {
		errs = append(errs, "datamodel.cluster_dir is required")
	}
	if c.DataModel.DeviceTypeDir == "" {
		errs = append(errs, "datamodel.device_type_dir is required")
	}

	// Security validation - JWT secret is REQUIRED
	// Empty or weak secrets could allow attackers to forge tokens and
	// gain unauthorised access to commissioned devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MATTERVERSE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetCommandTimeout returns the chip-tool command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.ChipTool.CommandTimeout) * time.Second
}

// GetPollingInterval returns the polling sweep interval as a Duration.
func (c *Config) GetPollingInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetDiscoveryInterval returns the structural rescan interval as a Duration.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Polling.DiscoveryInterval) * time.Second
}
