// Package config содержит логику чтения конфигурации компаньона.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8090"
	defaultStoragePath    = ".storybook/credentials.json"
	defaultCacheSecret    = "storybook-companion"
	defaultLogLevel       = "info"
	defaultRequestTimeout = 15 * time.Second
	defaultBalanceSync    = time.Minute
	defaultGBPUSDRate     = 1.27
	defaultGBPEURRate     = 1.17
)

// Config содержит параметры конфигурации компаньона.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	APIBaseURL          string        `env:"API_BASE_URL"`
	StoragePath         string        `env:"STORAGE_PATH"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	CacheSecret         string        `env:"CACHE_SECRET"`
	LogLevel            string        `env:"LOG_LEVEL"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"`
	BalanceSyncInterval time.Duration `env:"BALANCE_SYNC_INTERVAL"`
	APIRateLimit        float64       `env:"API_RATE_LIMIT"`
	GBPUSDRate          float64       `env:"GBP_USD_RATE"`
	GBPEURRate          float64       `env:"GBP_EUR_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for local HTTP server")
	flag.StringVar(&cfg.APIBaseURL, "u", "", "storybook API base URL")
	flag.StringVar(&cfg.StoragePath, "s", defaultStoragePath, "credential cache file")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for credential cache")
	flag.StringVar(&cfg.CacheSecret, "k", defaultCacheSecret, "credential cache signing secret")
	flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "remote API request timeout")
	flag.DurationVar(&cfg.BalanceSyncInterval, "b", defaultBalanceSync, "background balance refresh interval, 0 disables it")
	flag.Float64Var(&cfg.APIRateLimit, "r", 0, "remote API requests per second, 0 disables limiting")
	flag.Float64Var(&cfg.GBPUSDRate, "gbp-usd", defaultGBPUSDRate, "GBP to USD display multiplier")
	flag.Float64Var(&cfg.GBPEURRate, "gbp-eur", defaultGBPEURRate, "GBP to EUR display multiplier")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.APIBaseURL != "" {
		cfg.APIBaseURL = envCfg.APIBaseURL
	}
	if envCfg.StoragePath != "" {
		cfg.StoragePath = envCfg.StoragePath
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.CacheSecret != "" {
		cfg.CacheSecret = envCfg.CacheSecret
	}
	if envCfg.LogLevel != "" {
		cfg.LogLevel = envCfg.LogLevel
	}
	if envCfg.RequestTimeout > 0 {
		cfg.RequestTimeout = envCfg.RequestTimeout
	}
	// Ноль в этих переменных выключает функцию, поэтому проверяется наличие переменной.
	if isSet("BALANCE_SYNC_INTERVAL") {
		cfg.BalanceSyncInterval = envCfg.BalanceSyncInterval
	}
	if isSet("API_RATE_LIMIT") {
		cfg.APIRateLimit = envCfg.APIRateLimit
	}
	if envCfg.GBPUSDRate > 0 {
		cfg.GBPUSDRate = envCfg.GBPUSDRate
	}
	if envCfg.GBPEURRate > 0 {
		cfg.GBPEURRate = envCfg.GBPEURRate
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}

	return cfg, nil
}

func isSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}
