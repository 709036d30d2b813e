package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultMaxUploadBytes caps the multipart upload body (512 MiB)
	DefaultMaxUploadBytes = 512 * 1024 * 1024
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Agent   AgentConfig   `yaml:"agent"`
	Quota   QuotaConfig   `yaml:"quota"`
	Records RecordsConfig `yaml:"records"`
	Logging LoggingConfig `yaml:"logging"`
	App     AppConfig     `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// JobsConfig holds job storage and expiry configuration
type JobsConfig struct {
	Dir                    string `yaml:"dir"`
	TTLSeconds             int    `yaml:"ttl_seconds"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
}

// AgentConfig holds the external separation agent configuration
type AgentConfig struct {
	PythonBin string `yaml:"python_bin"`
	Script    string `yaml:"script"`
}

// QuotaConfig holds per-browser daily quota configuration.
// A DailyLimit of 0 disables quota enforcement entirely.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	BypassKey  string `yaml:"bypass_key"`
}

// RecordsConfig holds the request record log configuration
type RecordsConfig struct {
	File string `yaml:"file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	Dir          string `yaml:"dir"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in values the config file may omit
func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Agent.PythonBin == "" {
		c.Agent.PythonBin = "python3"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Jobs.Dir == "" {
		return fmt.Errorf("jobs dir is required")
	}

	if c.Jobs.TTLSeconds < 0 {
		return fmt.Errorf("jobs ttl_seconds must not be negative")
	}

	if c.Jobs.CleanupIntervalSeconds < 0 {
		return fmt.Errorf("jobs cleanup_interval_seconds must not be negative")
	}

	if c.Agent.Script == "" {
		return fmt.Errorf("agent script is required")
	}

	if c.Quota.DailyLimit < 0 {
		return fmt.Errorf("quota daily_limit must not be negative")
	}

	if c.Records.File == "" {
		return fmt.Errorf("records file is required")
	}

	return nil
}
