package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bridge configuration
type Config struct {
	Device       DeviceConfig   `yaml:"device"`
	Endpoint     EndpointConfig `yaml:"endpoint"`
	Transmission *bool          `yaml:"transmission"`
	Log          LogConfig      `yaml:"log"`
	Retry        RetryConfig    `yaml:"retry"`
	API          APIConfig      `yaml:"api"`
	NATS         NATSConfig     `yaml:"nats"`
	Database     DatabaseConfig `yaml:"database"`
}

// DeviceConfig represents terminal connection configuration
type DeviceConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	MachineID    int           `yaml:"machine_id"`
	CommKey      uint32        `yaml:"comm_key"`
	Timeout      time.Duration `yaml:"timeout"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// EndpointConfig represents the remote ingestion API configuration
type EndpointConfig struct {
	BaseURL    string        `yaml:"base_url"`
	AuthPath   string        `yaml:"auth_path"`
	IngestPath string        `yaml:"ingest_path"`
	Login      string        `yaml:"login"`
	Password   string        `yaml:"password"`
	DB         string        `yaml:"db"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Filename string `yaml:"filename"`
	Split    bool   `yaml:"split"`
	Level    string `yaml:"level"`
}

// RetryConfig exposes the connect/send retry extension points. The defaults
// preserve the single-attempt behavior of the original client.
type RetryConfig struct {
	ConnectAttempts uint          `yaml:"connect_attempts"`
	SendAttempts    uint          `yaml:"send_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

// APIConfig represents the status API configuration
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"`
}

// NATSConfig represents the optional event bus configuration
type NATSConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

// DatabaseConfig represents the optional punch archive configuration
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// TransmissionEnabled reports whether punches are forwarded to the remote
// API. Absent means enabled.
func (c *Config) TransmissionEnabled() bool {
	return c.Transmission == nil || *c.Transmission
}

// LogFileName determines the log file for this run: with split enabled each
// day gets its own file, which is why the process restarts at the day
// boundary.
func (c *Config) LogFileName(now time.Time) string {
	name := c.Log.Filename
	if name == "" {
		return "transactions.log"
	}
	if c.Log.Split {
		return fmt.Sprintf("%s-%s.log", name, now.Format("2006-01-02"))
	}
	return name + ".log"
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("MACHINE_IP"); host != "" {
		c.Device.Host = host
	}

	if port := os.Getenv("MACHINE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Device.Port = p
		}
	}

	if endpoint := os.Getenv("ENDPOINT_URL"); endpoint != "" {
		c.Endpoint.BaseURL = endpoint
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.API.JWTSecret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// applyDefaults fills the optional knobs
func (c *Config) applyDefaults() {
	if c.Device.MachineID == 0 {
		c.Device.MachineID = 1
	}
	if c.Device.Timeout == 0 {
		c.Device.Timeout = 10 * time.Second
	}
	if c.Device.IdleInterval == 0 {
		c.Device.IdleInterval = 10 * time.Second
	}

	if c.Endpoint.AuthPath == "" {
		c.Endpoint.AuthPath = "/web/session/authenticate"
	}
	if c.Endpoint.IngestPath == "" {
		c.Endpoint.IngestPath = "/api/ls.pointage.log"
	}
	if c.Endpoint.Timeout == 0 {
		c.Endpoint.Timeout = 30 * time.Second
	}

	if c.Retry.ConnectAttempts == 0 {
		c.Retry.ConnectAttempts = 1
	}
	if c.Retry.SendAttempts == 0 {
		c.Retry.SendAttempts = 1
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = time.Second
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 30 * time.Second
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}

	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
}

// Validate fails fast on malformed configuration, before any connection
// attempt is made.
func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return fmt.Errorf("device.host is missing or empty")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port must be within 1-65535, got %d", c.Device.Port)
	}
	if c.Endpoint.BaseURL == "" {
		return fmt.Errorf("endpoint.base_url is missing or empty")
	}

	if c.API.Enabled {
		if c.API.JWTSecret == "" {
			return fmt.Errorf("api.jwt_secret is required when the API is enabled")
		}
		if c.API.Username == "" || c.API.PasswordHash == "" {
			return fmt.Errorf("api.username and api.password_hash are required when the API is enabled")
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when NATS is enabled")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the archive is enabled")
	}

	return nil
}
