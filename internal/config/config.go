// Package config defines the persisted bot configuration: the set of venue
// credentials, the selected strategy and its parameters, and global defaults.
// Config is loaded from a JSON file (default: data/config.json) with
// sensitive fields overridable via BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"cryptobot/pkg/types"
)

// VenueConfig is the identity and credentials for one exchange venue.
type VenueConfig struct {
	VenueID         string                `mapstructure:"venue_id" json:"venue_id"`
	Name            string                `mapstructure:"name" json:"name"`
	APIKey          string                `mapstructure:"api_key" json:"api_key"`
	APISecret       string                `mapstructure:"api_secret" json:"api_secret"`
	Password        string                `mapstructure:"password" json:"password,omitempty"`
	PermissionLevel types.PermissionLevel `mapstructure:"permission_level" json:"permission_level"`
	Enabled         bool                  `mapstructure:"enabled" json:"enabled"`
	TestMode        bool                  `mapstructure:"test_mode" json:"test_mode"`
	Extra           map[string]any        `mapstructure:"extra" json:"extra,omitempty"`
}

// Validate checks the fields every adapter constructor relies on.
func (v VenueConfig) Validate() error {
	if v.VenueID == "" {
		return fmt.Errorf("venue_id is required")
	}
	switch v.PermissionLevel {
	case types.ReadOnly, types.ReadWrite, types.ReadWriteWithdraw:
	case "":
		return fmt.Errorf("venue %s: permission_level is required", v.VenueID)
	default:
		return fmt.Errorf("venue %s: unknown permission_level %q", v.VenueID, v.PermissionLevel)
	}
	return nil
}

// GlobalSettings carries bot-wide defaults. Strategies and the control plane
// read individual keys; unknown keys pass through untouched so the file can
// carry forward settings this build does not know about.
type GlobalSettings map[string]any

// DefaultGlobalSettings returns the settings a fresh config file starts with.
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		"log_level":                  "info",
		"log_format":                 "text",
		"max_order_age_seconds":      float64(24 * 60 * 60),
		"default_order_refresh_time": float64(60),
		"default_order_amount":       0.01,
		"default_market":             "BTC/USDT",
		"default_leverage":           float64(1),
		"default_position_mode":      "one-way",
		"default_slippage_tolerance": 0.01,
	}
}

// Float reads a numeric setting, falling back to def when absent or not a
// number. JSON decodes all numbers as float64.
func (g GlobalSettings) Float(key string, def float64) float64 {
	if v, ok := g[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// String reads a string setting with a default.
func (g GlobalSettings) String(key, def string) string {
	if v, ok := g[key].(string); ok && v != "" {
		return v
	}
	return def
}

// BotConfig is the root of the persisted JSON file.
type BotConfig struct {
	Exchanges      []VenueConfig  `mapstructure:"exchanges" json:"exchanges"`
	ActiveStrategy string         `mapstructure:"active_strategy" json:"active_strategy,omitempty"`
	StrategyParams map[string]any `mapstructure:"strategy_params" json:"strategy_params"`
	GlobalSettings GlobalSettings `mapstructure:"global_settings" json:"global_settings"`
}

// Default returns a config with no venues and the stock global settings.
func Default() *BotConfig {
	return &BotConfig{
		StrategyParams: map[string]any{},
		GlobalSettings: DefaultGlobalSettings(),
	}
}

// Load reads the config file with env var overrides. A missing file yields
// the default config rather than an error, so first run works out of the box.
// Sensitive fields use env vars: BOT_API_KEY_<VENUE>, BOT_API_SECRET_<VENUE>.
func Load(path string) (*BotConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg BotConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.StrategyParams == nil {
		cfg.StrategyParams = map[string]any{}
	}
	if cfg.GlobalSettings == nil {
		cfg.GlobalSettings = DefaultGlobalSettings()
	} else {
		// Fill gaps so later additions get their defaults on old files.
		for k, def := range DefaultGlobalSettings() {
			if _, ok := cfg.GlobalSettings[k]; !ok {
				cfg.GlobalSettings[k] = def
			}
		}
	}

	// Per-venue credential overrides from the environment.
	for i := range cfg.Exchanges {
		id := strings.ToUpper(cfg.Exchanges[i].VenueID)
		if key := os.Getenv("BOT_API_KEY_" + id); key != "" {
			cfg.Exchanges[i].APIKey = key
		}
		if secret := os.Getenv("BOT_API_SECRET_" + id); secret != "" {
			cfg.Exchanges[i].APISecret = secret
		}
	}

	return &cfg, nil
}

// GetExchange returns the config for a venue id, nil if absent.
func (c *BotConfig) GetExchange(venueID string) *VenueConfig {
	for i := range c.Exchanges {
		if c.Exchanges[i].VenueID == venueID {
			return &c.Exchanges[i]
		}
	}
	return nil
}

// AddExchange inserts or replaces a venue config keyed by venue id.
func (c *BotConfig) AddExchange(vc VenueConfig) {
	for i := range c.Exchanges {
		if c.Exchanges[i].VenueID == vc.VenueID {
			c.Exchanges[i] = vc
			return
		}
	}
	c.Exchanges = append(c.Exchanges, vc)
}

// RemoveExchange deletes a venue config. Returns whether it existed.
func (c *BotConfig) RemoveExchange(venueID string) bool {
	for i := range c.Exchanges {
		if c.Exchanges[i].VenueID == venueID {
			c.Exchanges = append(c.Exchanges[:i], c.Exchanges[i+1:]...)
			return true
		}
	}
	return false
}
