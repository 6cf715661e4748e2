package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9985"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/legbook.db"
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 15
	}
	if c.Broker.BreakerThreshold <= 0 {
		c.Broker.BreakerThreshold = 5
	}
	if c.Broker.BreakerCooldownSeconds <= 0 {
		c.Broker.BreakerCooldownSeconds = 30
	}
	if c.Exit.PollIntervalSeconds <= 0 {
		c.Exit.PollIntervalSeconds = 2
	}
	if c.Exit.MaxRetries <= 0 {
		c.Exit.MaxRetries = 10
	}
	if c.Overrides.TTLMinutes <= 0 {
		c.Overrides.TTLMinutes = 60
	}
	if c.Overrides.PurgeCron == "" {
		c.Overrides.PurgeCron = "@every 5m"
	}
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Broker.BaseURL) == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if strings.TrimSpace(c.Credentials.File) == "" {
		return fmt.Errorf("credentials.file is required")
	}
	return nil
}
