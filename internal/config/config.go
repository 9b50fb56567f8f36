// Package config loads bridge configuration from a JSON5 or YAML file,
// overlays environment variables, and resolves the upstream password from
// the OS keyring when it is not given directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the service name credentials are stored under.
const KeyringService = "foundrybridge"

// Config is the full bridge configuration.
type Config struct {
	// URL is the upstream server base URL, e.g. https://vtt.example.com.
	URL string `json:"url" yaml:"url" env:"FOUNDRY_URL"`

	Username string `json:"username" yaml:"username" env:"FOUNDRY_USERNAME"`
	// Password may be empty; ResolvePassword falls back to the keyring.
	Password string `json:"password" yaml:"password" env:"FOUNDRY_PASSWORD"`

	// UserID is the fallback join id when the join page does not reveal
	// one for the username.
	UserID string `json:"userId" yaml:"userId" env:"FOUNDRY_USER_ID"`

	// SystemID forces a specific game-system adapter; empty means detect.
	SystemID string `json:"systemId" yaml:"systemId" env:"FOUNDRY_SYSTEM_ID"`

	// NameCachePath enables the persistent compendium name cache.
	NameCachePath string `json:"nameCachePath" yaml:"nameCachePath" env:"FOUNDRY_NAME_CACHE"`

	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `json:"otlpEndpoint" yaml:"otlpEndpoint" env:"FOUNDRY_OTLP_ENDPOINT"`

	Debug bool `json:"debug" yaml:"debug" env:"FOUNDRY_DEBUG"`
}

// Load reads the file at path (when non-empty) and applies the environment
// overlay on top. Environment always wins.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml config: %w", err)
			}
		default:
			// JSON5 is a superset of JSON, so .json files parse too.
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overlay: %w", err)
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return cfg, nil
}

// Validate checks the fields every connection needs.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required (config file or FOUNDRY_URL)")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("url must be http(s), got %q", c.URL)
	}
	return nil
}

// ResolvePassword returns the configured password, falling back to the OS
// keyring entry for the username. An empty result is not an error: guest
// connections are legitimate.
func (c *Config) ResolvePassword() string {
	if c.Password != "" {
		return c.Password
	}
	if c.Username == "" {
		return ""
	}
	secret, err := keyring.Get(KeyringService, c.Username)
	if err != nil {
		return ""
	}
	return secret
}

// StorePassword writes the password to the OS keyring.
func StorePassword(username, password string) error {
	return keyring.Set(KeyringService, username, password)
}
