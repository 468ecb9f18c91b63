// Package config loads broker settings from a YAML file with environment
// variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when TOKENBROKER_CONFIG is not set.
const DefaultPath = "config/config.yaml"

// KeepAlive configures the background refresh sweep.
type KeepAlive struct {
	Enabled             bool    `yaml:"enabled" env:"KEEPALIVE_ENABLED"`
	IntervalSeconds     int     `yaml:"interval_seconds" env:"KEEPALIVE_INTERVAL_SECONDS"`
	TokensPerInterval   int     `yaml:"tokens_per_interval" env:"KEEPALIVE_TOKENS_PER_INTERVAL"`
	RequestSleepSeconds int     `yaml:"request_sleep_seconds" env:"KEEPALIVE_REQUEST_SLEEP_SECONDS"`
	MaxAgeDays          float64 `yaml:"max_age_days" env:"KEEPALIVE_MAX_AGE_DAYS"`
}

// Config is the full process configuration.
type Config struct {
	Listen                 string    `yaml:"listen" env:"LISTEN"`
	DBPath                 string    `yaml:"db_path" env:"DB_PATH"`
	PTCAuthURL             string    `yaml:"ptc_auth_url" env:"PTC_AUTH_URL"`
	PTCAuthorizeURL        string    `yaml:"ptc_authorize_url" env:"PTC_AUTHORIZE_URL"`
	PTCTokenURL            string    `yaml:"ptc_token_url" env:"PTC_TOKEN_URL"`
	NKTokenURL             string    `yaml:"nk_token_url" env:"NK_TOKEN_URL"`
	ProxiesFile            string    `yaml:"proxies_file" env:"PROXIES_FILE"`
	FreshnessMarginSeconds int       `yaml:"freshness_margin_seconds" env:"FRESHNESS_MARGIN_SECONDS"`
	KeepAlive              KeepAlive `yaml:"refresh_token_keep_alive"`
}

func defaults() Config {
	return Config{
		Listen:                 "127.0.0.1:8080",
		DBPath:                 "broker.db",
		PTCAuthorizeURL:        "https://access.pokemon.com/oauth2/auth",
		PTCTokenURL:            "https://access.pokemon.com/oauth2/token",
		ProxiesFile:            "config/proxies.txt",
		FreshnessMarginSeconds: 600,
		KeepAlive: KeepAlive{
			IntervalSeconds:     300,
			TokensPerInterval:   30,
			RequestSleepSeconds: 5,
			MaxAgeDays:          5,
		},
	}
}

// Load reads the YAML file at path (defaults when the file is absent), applies
// environment overrides, and validates the result. An empty path falls back to
// TOKENBROKER_CONFIG, then DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TOKENBROKER_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Run on defaults plus env.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.PTCAuthURL == "" {
		return fmt.Errorf("ptc_auth_url is required")
	}
	if c.FreshnessMarginSeconds <= 0 {
		return fmt.Errorf("freshness_margin_seconds must be positive")
	}
	if c.KeepAlive.Enabled {
		if c.KeepAlive.IntervalSeconds <= 0 {
			return fmt.Errorf("keep-alive interval_seconds must be positive")
		}
		if c.KeepAlive.TokensPerInterval <= 0 {
			return fmt.Errorf("keep-alive tokens_per_interval must be positive")
		}
		if c.KeepAlive.MaxAgeDays < 0 || c.KeepAlive.MaxAgeDays >= 30 {
			return fmt.Errorf("keep-alive max_age_days must be in [0, 30)")
		}
	}
	return nil
}
