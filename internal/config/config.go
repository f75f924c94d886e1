// Package config loads simulator configuration from a .env file,
// environment variables, and defaults.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the simulator.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Market   MarketConfig   `mapstructure:"market"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type AppConfig struct {
	Port         string  `mapstructure:"port"`
	StartingCash float64 `mapstructure:"starting_cash"`
}

type StreamConfig struct {
	URL     string        `mapstructure:"url"`
	Backoff time.Duration `mapstructure:"backoff"`
}

type MarketConfig struct {
	URL       string `mapstructure:"url"`
	TopAssets int    `mapstructure:"top_assets"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"` // empty → postgres disabled
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"` // empty → redis disabled
}

// Load reads configuration from .env, environment variables, and defaults.
// Dot-notation keys map to underscored env vars (stream.url → STREAM_URL).
func Load() (*Config, error) {
	v := viper.New()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	v.SetDefault("app.port", "8080")
	v.SetDefault("app.starting_cash", 10000)

	v.SetDefault("stream.url", "wss://stream.binance.com:9443")
	v.SetDefault("stream.backoff", 5*time.Second)

	v.SetDefault("market.url", "https://api.coingecko.com/api/v3")
	v.SetDefault("market.top_assets", 10)

	v.SetDefault("postgres.url", "")
	v.SetDefault("redis.addr", "")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
