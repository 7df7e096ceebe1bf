// Package config provides application settings and the credential store that
// provider adapters read from.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Azure       AzureConfig       `mapstructure:"azure"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	BodyLimit string `mapstructure:"body_limit"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // auto, json, text
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// CredentialsConfig locates the provider credential files
type CredentialsConfig struct {
	EnvFile  string `mapstructure:"env_file"`
	YAMLFile string `mapstructure:"yaml_file"`
	Watch    bool   `mapstructure:"watch"`
}

// AzureConfig holds Azure adapter defaults that are not credentials
type AzureConfig struct {
	UsageFallback string `mapstructure:"usage_fallback"` // auto, always, never
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.body_limit", "2M")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("credentials.env_file", ".env")
	v.SetDefault("credentials.yaml_file", "")
	v.SetDefault("credentials.watch", true)
	v.SetDefault("azure.usage_fallback", "auto")
}

// Load reads llmbench.yaml (optional) from path, or from the working directory
// and ./config when path is empty. LLMBENCH_* environment variables override
// file values, e.g. LLMBENCH_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("llmbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("LLMBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Credentials.EnvFile = expandString(cfg.Credentials.EnvFile)
	cfg.Credentials.YAMLFile = expandString(cfg.Credentials.YAMLFile)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Azure.UsageFallback {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("azure.usage_fallback must be auto, always or never, got %q", c.Azure.UsageFallback)
	}
	switch c.Logging.Format {
	case "auto", "json", "text":
	default:
		return fmt.Errorf("logging.format must be auto, json or text, got %q", c.Logging.Format)
	}
	return nil
}
