// Package config loads the daemon's operational configuration: a YAML file
// layered with OEMWATCH_-prefixed environment overrides via viper. The
// tenant roster itself is a separate, hot-reloaded document
// owned by the registry package — this package only covers the process-wide
// flags that don't vary per OEM: storage locations, the renderer and
// Anthropic endpoints, webhook URLs, and telemetry addresses.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the daemon's process-wide configuration.
type Config struct {
	Environment        string            `mapstructure:"environment"`
	LogLevel           string            `mapstructure:"log_level"`
	RegistryPath       string            `mapstructure:"registry_path"`
	DatabasePath       string            `mapstructure:"database_path"`
	ObjectStoreDir     string            `mapstructure:"object_store_dir"`
	RedisAddr          string            `mapstructure:"redis_addr"`
	AnthropicModel     string            `mapstructure:"anthropic_model"`
	GlobalRenderBudget int               `mapstructure:"global_render_budget"`
	MetricsAddr        string            `mapstructure:"metrics_addr"`
	DiagnosticsAddr    string            `mapstructure:"diagnostics_addr"`
	RendererBaseURL    string            `mapstructure:"renderer_base_url"`
	RendererSecret     string            `mapstructure:"renderer_secret"`
	WebhookURLs        map[string]string `mapstructure:"webhook_urls"`
}

// Load reads path (if non-empty) as a YAML config file, layers
// OEMWATCH_-prefixed environment variables on top (e.g. OEMWATCH_LOG_LEVEL
// overrides log_level, OEMWATCH_RENDERER_SECRET supplies a secret that has
// no business sitting in a file on disk), applies defaults, and returns the
// merged Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("oemwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("registry_path", "registry.yaml")
	v.SetDefault("database_path", "oemwatch.db")
	v.SetDefault("object_store_dir", "./discoveries")
	v.SetDefault("anthropic_model", "claude-sonnet-4-5")
	v.SetDefault("global_render_budget", 10000)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("diagnostics_addr", ":9091")
}

// Validate rejects configurations the driver cannot run with.
func (c *Config) Validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("config: registry_path is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database_path is required")
	}
	if c.RendererBaseURL == "" {
		return fmt.Errorf("config: renderer_base_url is required")
	}
	return nil
}
