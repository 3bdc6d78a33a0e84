// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds client configuration values loaded from file or environment
// variables. The whole client core is parameterized here so a single build
// can serve any app variant: base URLs, page size, multipart field names and
// the token-expiry marker are all configuration, not code.
type Config struct {
	APIBaseURL       string        `mapstructure:"API_BASE_URL"`
	WSBaseURL        string        `mapstructure:"WS_BASE_URL"`
	PageSize         int           `mapstructure:"PAGE_SIZE"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	UploadTimeout    time.Duration `mapstructure:"UPLOAD_TIMEOUT"`
	HandshakeTimeout time.Duration `mapstructure:"HANDSHAKE_TIMEOUT"`
	PingInterval     time.Duration `mapstructure:"PING_INTERVAL"`
	ExpiryMarker     string        `mapstructure:"EXPIRY_MARKER"`
	FilesField       string        `mapstructure:"FILES_FIELD"`
	StatePath        string        `mapstructure:"STATE_PATH"`
	Env              string        `mapstructure:"APP_ENV"`
	TracingEnabled   bool          `mapstructure:"TRACING_ENABLED"`
	TracingExporter  string        `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint     string        `mapstructure:"OTLP_ENDPOINT"`
}

// LoadConfig loads client configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The config file is optional; environment variables and defaults are
	// enough to run against a local backend.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("API_BASE_URL", "http://localhost:8080")
	viper.SetDefault("WS_BASE_URL", "ws://localhost:8080")
	viper.SetDefault("PAGE_SIZE", 10)
	viper.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	viper.SetDefault("UPLOAD_TIMEOUT", 60*time.Second)
	viper.SetDefault("HANDSHAKE_TIMEOUT", 10*time.Second)
	viper.SetDefault("PING_INTERVAL", 30*time.Second)
	viper.SetDefault("EXPIRY_MARKER", "Token expired!")
	viper.SetDefault("FILES_FIELD", "files")
	viper.SetDefault("STATE_PATH", "tailtrail.db")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures required values are present and well-formed.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %q", c.APIBaseURL)
	}
	if c.WSBaseURL == "" {
		return errors.New("WS_BASE_URL is required")
	}
	wu, err := url.Parse(c.WSBaseURL)
	if err != nil || (wu.Scheme != "ws" && wu.Scheme != "wss") {
		return fmt.Errorf("WS_BASE_URL must be a ws:// or wss:// URL: %q", c.WSBaseURL)
	}
	if c.PageSize < 1 {
		return errors.New("PAGE_SIZE must be at least 1")
	}
	if c.RequestTimeout <= 0 || c.UploadTimeout <= 0 || c.HandshakeTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.PingInterval <= 0 {
		return errors.New("PING_INTERVAL must be positive")
	}
	if c.ExpiryMarker == "" {
		return errors.New("EXPIRY_MARKER is required")
	}
	if c.FilesField == "" {
		return errors.New("FILES_FIELD is required")
	}
	return nil
}
