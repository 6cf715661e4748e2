package config

// Config is the process configuration, loaded from YAML.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	Broker      BrokerConfig      `mapstructure:"broker"`
	Exit        ExitConfig        `mapstructure:"exit"`
	Overrides   OverridesConfig   `mapstructure:"overrides"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type BrokerConfig struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	AnalyzeMode            bool   `mapstructure:"analyze_mode"`
	BreakerThreshold       int    `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int    `mapstructure:"breaker_cooldown_seconds"`
}

type ExitConfig struct {
	PollIntervalSeconds float64 `mapstructure:"poll_interval_seconds"`
	MaxRetries          int     `mapstructure:"max_retries"`
}

type OverridesConfig struct {
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	PurgeCron  string `mapstructure:"purge_cron"`
}

type CredentialsConfig struct {
	File string `mapstructure:"file"`
}
