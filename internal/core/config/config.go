package config

import "time"

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig      `yaml:"server"         envPrefix:"SERVER_"`
	Discord       DiscordConfig     `yaml:"discord"        envPrefix:"DISCORD_"`
	Retry         RetryConfig       `yaml:"retry"          envPrefix:"RETRY_"`
	Timeouts      TimeoutConfig     `yaml:"timeouts"       envPrefix:"TIMEOUT_"`
	Cache         CacheConfig       `yaml:"cache"          envPrefix:"CACHE_"`
	Coordinator   CoordinatorConfig `yaml:"coordinator"    envPrefix:"COORDINATOR_"`
	Logging       LoggingConfig     `yaml:"logging"        envPrefix:"LOG_"`
	SweepInterval time.Duration     `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// DiscordConfig holds API credentials and endpoint settings.
type DiscordConfig struct {
	BaseURL      string  `yaml:"base_url"      env:"BASE_URL"`
	BotToken     string  `yaml:"bot_token"     env:"BOT_TOKEN"`
	ClientID     string  `yaml:"client_id"     env:"CLIENT_ID"`
	ClientSecret string  `yaml:"client_secret" env:"CLIENT_SECRET"`
	UserAgent    string  `yaml:"user_agent"    env:"USER_AGENT"`
	GlobalRPS    float64 `yaml:"global_rps"    env:"GLOBAL_RPS"` // 0 disables pacing
}

// RetryConfig holds retry engine settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay"   env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay"    env:"MAX_DELAY"`
}

// TimeoutConfig holds upstream and server timeouts.
type TimeoutConfig struct {
	Default time.Duration `yaml:"default" env:"DEFAULT"`
	Connect time.Duration `yaml:"connect" env:"CONNECT"`
	Read    time.Duration `yaml:"read"    env:"READ"`
	Write   time.Duration `yaml:"write"   env:"WRITE"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled              bool          `yaml:"enabled"                env:"ENABLED"`
	TTL                  time.Duration `yaml:"ttl"                    env:"TTL"`
	StaleWhileRevalidate bool          `yaml:"stale_while_revalidate" env:"STALE_WHILE_REVALIDATE"`
	MaxSize              int           `yaml:"max_size"               env:"MAX_SIZE"`
}

// CoordinatorConfig holds request deduplication settings.
type CoordinatorConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string           `yaml:"level"      env:"LEVEL"` // debug, info, warn, error
	Categories LoggingCategories `yaml:"categories" envPrefix:"CATEGORY_"`
}

// LoggingCategories toggles log output per component.
type LoggingCategories struct {
	RateLimit   bool `yaml:"rate_limit"  env:"RATE_LIMIT"`
	Retry       bool `yaml:"retry"       env:"RETRY"`
	Cache       bool `yaml:"cache"       env:"CACHE"`
	Coordinator bool `yaml:"coordinator" env:"COORDINATOR"`
	Health      bool `yaml:"health"      env:"HEALTH"`
}

// Default returns the configuration used when nothing is overridden.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{Port: 8081},
		Discord: DiscordConfig{
			BaseURL:   "https://discord.com/api/v10",
			GlobalRPS: 50,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1000 * time.Millisecond,
			MaxDelay:    10000 * time.Millisecond,
		},
		Timeouts: TimeoutConfig{
			Default: 10 * time.Second,
			Connect: 5 * time.Second,
			Read:    15 * time.Second,
			Write:   10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:              true,
			TTL:                  15 * time.Minute,
			StaleWhileRevalidate: true,
			MaxSize:              2000,
		},
		Coordinator:   CoordinatorConfig{Timeout: 30 * time.Second},
		SweepInterval: 30 * time.Second,
		Logging: LoggingConfig{
			Level: "info",
			Categories: LoggingCategories{
				RateLimit:   true,
				Retry:       true,
				Cache:       true,
				Coordinator: true,
				Health:      true,
			},
		},
	}
}
