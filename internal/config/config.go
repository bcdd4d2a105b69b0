package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/ai-task-router/internal/auth"
	"github.com/tributary-ai/ai-task-router/internal/failover"
	"github.com/tributary-ai/ai-task-router/internal/providers"
	"github.com/tributary-ai/ai-task-router/internal/quota"
	"github.com/tributary-ai/ai-task-router/internal/server"
	"github.com/tributary-ai/ai-task-router/internal/types"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Router    RouterConfig           `yaml:"router"`
	Logging   LoggingConfig          `yaml:"logging"`
	Auth      auth.Config            `yaml:"auth"`
	Providers []types.ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`

	location *time.Location
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// RouterConfig holds failover and quota policy
type RouterConfig struct {
	DisableThreshold int           `yaml:"disable_threshold" validate:"gt=0"`
	Cooldown         time.Duration `yaml:"cooldown" validate:"gt=0"`
	RateWindow       time.Duration `yaml:"rate_window" validate:"gt=0"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	Timezone         string        `yaml:"timezone" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json text"`
	Output string `yaml:"output"` // "stdout", "stderr", or file path

	// Rotation, only used when Output is a file
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// LoadConfig loads configuration from file and environment variables. Any
// envFiles are loaded into the process environment first; a missing env file
// is not an error.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	for _, envFile := range envFiles {
		if err := loadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:            "8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    180 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1MB
		MaxBodyBytes:    1 << 20,
	}

	c.Router = RouterConfig{
		DisableThreshold: failover.DefaultDisableThreshold,
		Cooldown:         failover.DefaultCooldown,
		RateWindow:       quota.DefaultRateWindow,
		AttemptTimeout:   providers.DefaultAttemptTimeout,
		Timezone:         "UTC",
	}

	c.Logging = LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 28,
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("AI_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("AI_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("AI_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if tz := os.Getenv("AI_ROUTER_TIMEZONE"); tz != "" {
		c.Router.Timezone = tz
	}

	if keys := os.Getenv("AI_ROUTER_API_KEYS"); keys != "" {
		for _, key := range strings.Split(keys, ",") {
			if key = strings.TrimSpace(key); key != "" {
				c.Auth.APIKeys = append(c.Auth.APIKeys, key)
			}
		}
	}

	if secret := os.Getenv("AI_ROUTER_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	// Provider API keys referenced by name
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if err := types.ValidateStruct(c); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	location, err := time.LoadLocation(c.Router.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Router.Timezone, err)
	}
	c.location = location

	if c.Auth.RequireAuth && len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is required but neither api_keys nor jwt_secret is set")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if seen[p.Type] {
			return fmt.Errorf("duplicate provider type: %s", p.Type)
		}
		seen[p.Type] = true

		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", p.Type, err)
		}
		if p.Transport == types.TransportHTTP && p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required for the http transport", p.Type)
		}
		if p.Transport == types.TransportAnthropic && p.APIKey == "" && p.APIKeyEnv == "" {
			return fmt.Errorf("provider %s: the anthropic transport requires an api key", p.Type)
		}
	}

	return nil
}

// Location returns the time zone that bounds the quota day
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ToCatalog returns the provider catalog in declaration order
func (c *Config) ToCatalog() []types.ProviderConfig {
	catalog := make([]types.ProviderConfig, len(c.Providers))
	copy(catalog, c.Providers)
	return catalog
}

// ToQuotaConfig converts to quota.Config
func (c *Config) ToQuotaConfig() *quota.Config {
	return &quota.Config{
		RateWindow: c.Router.RateWindow,
		Location:   c.Location(),
	}
}

// ToFailoverConfig converts to failover.Config
func (c *Config) ToFailoverConfig() *failover.Config {
	return &failover.Config{
		DisableThreshold: c.Router.DisableThreshold,
		Cooldown:         c.Router.Cooldown,
	}
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		MaxBodyBytes:   c.Server.MaxBodyBytes,
	}
}

// SaveToFile saves the current configuration to a YAML file. Provider keys
// are written only when they were not taken from the environment, and auth
// secrets are never written.
func (c *Config) SaveToFile(path string) error {
	out := *c
	out.Auth.APIKeys = nil
	out.Auth.JWTSecret = ""
	out.Providers = c.ToCatalog()
	for i := range out.Providers {
		if out.Providers[i].APIKeyEnv != "" {
			out.Providers[i].APIKey = ""
		}
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns the types of enabled providers in catalog order
func (c *Config) GetEnabledProviders() []string {
	var enabled []string
	for _, p := range c.Providers {
		if p.Enabled {
			enabled = append(enabled, p.Type)
		}
	}
	return enabled
}

// String summarises the configuration without secrets
func (c *Config) String() string {
	return fmt.Sprintf("port=%s providers=[%s] threshold=%d cooldown=%s rate_window=%s timezone=%s",
		c.Server.Port, strings.Join(c.GetEnabledProviders(), ","), c.Router.DisableThreshold,
		c.Router.Cooldown, c.Router.RateWindow, c.Router.Timezone)
}
