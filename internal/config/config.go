package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	AntiFlood  AntiFloodConfig  `mapstructure:"antiflood"`
	Governor   GovernorConfig   `mapstructure:"governor"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string        `mapstructure:"token"`
	Webhook       WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout int           `mapstructure:"update_timeout"`
	Workers       int           `mapstructure:"workers"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// CacheConfig configures the two-tier cache. Timeout is the ceiling for how
// long a value may live in the in-process tier.
type CacheConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	NoteTTL   time.Duration `mapstructure:"note_ttl"`
	ButtonTTL time.Duration `mapstructure:"button_ttl"`
}

// AntiFloodConfig holds the default flood thresholds used when a chat has
// no override of its own
type AntiFloodConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Count   int           `mapstructure:"count"`
	Wait    time.Duration `mapstructure:"wait"`
	Ignore  time.Duration `mapstructure:"ignore"`
}

// GovernorConfig limits outgoing messages per chat
type GovernorConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.update_timeout", 60)
	v.SetDefault("bot.workers", 16)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.pool_size", 20)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)

	v.SetDefault("cache.timeout", 5*time.Minute)
	v.SetDefault("cache.note_ttl", time.Hour)
	v.SetDefault("cache.button_ttl", 30*24*time.Hour)

	v.SetDefault("antiflood.enabled", true)
	v.SetDefault("antiflood.count", 80)
	v.SetDefault("antiflood.wait", 150*time.Second)
	v.SetDefault("antiflood.ignore", 10*time.Minute)

	v.SetDefault("governor.enabled", true)
	v.SetDefault("governor.messages_per_second", 1.0)
	v.SetDefault("governor.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en"})
	v.SetDefault("i18n.directory", "configs/i18n")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	// Enable environment variable substitution
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set environment variable overrides
	v.BindEnv("bot.token", "BOT_TOKEN")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := v.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := v.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// Validate required fields
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Bot.Workers < 1 {
		return fmt.Errorf("bot.workers must be at least 1, got %d", cfg.Bot.Workers)
	}
	switch cfg.Storage.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Cache.Timeout <= 0 {
		return fmt.Errorf("cache.timeout must be positive")
	}
	if cfg.AntiFlood.Count < 1 {
		return fmt.Errorf("antiflood.count must be at least 1, got %d", cfg.AntiFlood.Count)
	}
	if cfg.AntiFlood.Wait <= 0 || cfg.AntiFlood.Ignore <= 0 {
		return fmt.Errorf("antiflood.wait and antiflood.ignore must be positive")
	}
	if cfg.Governor.Enabled && (cfg.Governor.MessagesPerSecond <= 0 || cfg.Governor.Burst < 1) {
		return fmt.Errorf("governor needs a positive rate and a burst of at least 1")
	}
	return nil
}
