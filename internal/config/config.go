package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lmdash/internal/model"
)

// Store backends for conversations.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	AppPort               int    `mapstructure:"APP_PORT"`
	DatabasePath          string `mapstructure:"DATABASE_PATH"`
	InferenceURL          string `mapstructure:"INFERENCE_URL"`
	InferenceAPI          string `mapstructure:"INFERENCE_API"`
	ConnectTimeoutSeconds int    `mapstructure:"CONNECT_TIMEOUT_SECONDS"`
	StoreBackend          string `mapstructure:"STORE_BACKEND"`
	RedisAddr             string `mapstructure:"REDIS_ADDR"`
	RedisPassword         string `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int    `mapstructure:"REDIS_DB"`
	RedisPrefix           string `mapstructure:"REDIS_PREFIX"`
	MaxConversations      int    `mapstructure:"MAX_CONVERSATIONS"`
	LogLevel              string `mapstructure:"LOG_LEVEL"`

	// Initial retry settings, seeded into the settings table once.
	RetryEnabled         bool   `mapstructure:"RETRY_ENABLED"`
	RetryMaxAttempts     int    `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryDelayMS         int64  `mapstructure:"RETRY_DELAY_MS"`
	RetryStrategy        string `mapstructure:"RETRY_STRATEGY"`
	RetryOnlyModelErrors bool   `mapstructure:"RETRY_ONLY_MODEL_ERRORS"`
}

// ConnectTimeout is the transport dial and response-header timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("DATABASE_PATH", "/data/lmdash.db")
	viper.SetDefault("INFERENCE_URL", "http://localhost:1234")
	viper.SetDefault("INFERENCE_API", "openai")
	viper.SetDefault("CONNECT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("STORE_BACKEND", StoreSQLite)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_PREFIX", "lmdash")
	viper.SetDefault("MAX_CONVERSATIONS", 200)
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("RETRY_ENABLED", true)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_DELAY_MS", 2000)
	viper.SetDefault("RETRY_STRATEGY", "exponential")
	viper.SetDefault("RETRY_ONLY_MODEL_ERRORS", true)

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) check() error {
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	if c.StoreBackend != StoreSQLite && c.StoreBackend != StoreRedis {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	c.InferenceAPI = strings.ToLower(c.InferenceAPI)
	if c.RetryDelayMS < 0 || c.RetryDelayMS > model.MaxRetryDelayMS {
		return fmt.Errorf("RETRY_DELAY_MS must be between 0 and %d, got %d", model.MaxRetryDelayMS, c.RetryDelayMS)
	}
	if c.MaxConversations < 0 {
		return fmt.Errorf("MAX_CONVERSATIONS must not be negative, got %d", c.MaxConversations)
	}
	return nil
}
