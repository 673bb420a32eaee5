package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"wednesday-alerts/internal/logging"
	"wednesday-alerts/internal/scheduler"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Assets    []AssetConfig   `mapstructure:"assets"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	APIBase        string        `mapstructure:"api_base"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxResends     int           `mapstructure:"max_resends"`
	NetworkBackoff time.Duration `mapstructure:"network_backoff"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
}

// DatabaseConfig encapsulates relational store connectivity.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig locates the history cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig governs timer rules and the task queue.
type SchedulerConfig struct {
	Tick            time.Duration `mapstructure:"tick"`
	UTCOffset       string        `mapstructure:"utc_offset"`
	QueueSize       int           `mapstructure:"queue_size"`
	TaskTimeout     time.Duration `mapstructure:"task_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Wednesday       string        `mapstructure:"wednesday"`
	Rates           string        `mapstructure:"rates"`
	Heartbeat       string        `mapstructure:"heartbeat"`
	HeartbeatTTL    time.Duration `mapstructure:"heartbeat_ttl"`
}

// FetchConfig covers the upstream price APIs.
type FetchConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	Attempts         int           `mapstructure:"attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	BinanceURL       string        `mapstructure:"binance_url"`
	CoinGeckoURL     string        `mapstructure:"coingecko_url"`
	CoinMarketCapURL string        `mapstructure:"coinmarketcap_url"`
	CoinMarketCapKey string        `mapstructure:"coinmarketcap_key"`
}

// RatesConfig shapes the twice-daily report.
type RatesConfig struct {
	CoinGeckoID    string        `mapstructure:"coingecko_id"`
	LamboThreshold float64       `mapstructure:"lambo_threshold"`
	DominanceTTL   time.Duration `mapstructure:"dominance_ttl"`
}

// AssetConfig declares one tracked asset.
type AssetConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Step       float64 `mapstructure:"step"`
	Provider   string  `mapstructure:"provider"`
	ProviderID string  `mapstructure:"provider_id"`
	Schedule   string  `mapstructure:"schedule"`
	HistoryKey string  `mapstructure:"history_key"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("WEDNESDAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wednesday")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.max_resends", 5)
	v.SetDefault("telegram.network_backoff", "10s")
	v.SetDefault("telegram.rate_per_sec", 25.0)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "")

	v.SetDefault("scheduler.tick", "30s")
	v.SetDefault("scheduler.utc_offset", "+03:00")
	v.SetDefault("scheduler.queue_size", 8)
	v.SetDefault("scheduler.task_timeout", "5m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x57454453))
	v.SetDefault("scheduler.wednesday", "0 9 * * 3")
	v.SetDefault("scheduler.rates", "0 6,18 * * *")
	v.SetDefault("scheduler.heartbeat", "@hourly")
	v.SetDefault("scheduler.heartbeat_ttl", "2h")

	v.SetDefault("fetch.request_timeout", "10s")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.retry_delay", "1s")
	v.SetDefault("fetch.binance_url", "https://api.binance.com")
	v.SetDefault("fetch.coingecko_url", "https://api.coingecko.com")
	v.SetDefault("fetch.coinmarketcap_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("fetch.coinmarketcap_key", "")

	v.SetDefault("rates.coingecko_id", "bitcoin")
	v.SetDefault("rates.lambo_threshold", 100000.0)
	v.SetDefault("rates.dominance_ttl", "20m")

	v.SetDefault("assets", []map[string]any{
		{"symbol": "BTC", "step": 1000.0, "provider": "binance", "provider_id": "BTC", "schedule": "@every 1m"},
		{"symbol": "ETH", "step": 100.0, "provider": "binance", "provider_id": "ETH", "schedule": "@every 1m"},
		{"symbol": "ZEE", "step": 0.001, "provider": "coingecko", "provider_id": "zeroswap", "schedule": "@every 2m"},
	})

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be greater than zero")
	}
	if c.Scheduler.QueueSize <= 0 {
		return fmt.Errorf("scheduler.queue_size must be greater than zero")
	}
	for key, spec := range map[string]string{
		"scheduler.wednesday": c.Scheduler.Wednesday,
		"scheduler.rates":     c.Scheduler.Rates,
		"scheduler.heartbeat": c.Scheduler.Heartbeat,
	} {
		if err := scheduler.ValidateSpec(spec); err != nil {
			return fmt.Errorf("%s: invalid schedule %q: %w", key, spec, err)
		}
	}
	if c.Fetch.Attempts <= 0 {
		return fmt.Errorf("fetch.attempts must be greater than zero")
	}
	if c.Telegram.RatePerSec <= 0 {
		return fmt.Errorf("telegram.rate_per_sec must be greater than zero")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql", "pgx", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for i, a := range c.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("assets[%d].symbol is required", i)
		}
		sym := strings.ToUpper(a.Symbol)
		if _, dup := seen[sym]; dup {
			return fmt.Errorf("assets[%d]: duplicate symbol %s", i, sym)
		}
		seen[sym] = struct{}{}
		if !(a.Step > 0) || math.IsInf(a.Step, 0) {
			return fmt.Errorf("assets[%d] (%s): step must be a finite number greater than zero", i, a.Symbol)
		}
		switch strings.ToLower(a.Provider) {
		case "binance", "coingecko":
		default:
			return fmt.Errorf("assets[%d] (%s): unknown provider %q", i, a.Symbol, a.Provider)
		}
		if err := scheduler.ValidateSpec(a.Schedule); err != nil {
			return fmt.Errorf("assets[%d] (%s): invalid schedule %q: %w", i, a.Symbol, a.Schedule, err)
		}
	}
	return nil
}

// ValidateRuntime checks the settings needed by the long-running service.
func (c *Config) ValidateRuntime() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token 必须配置")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 必须配置")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// Asset returns the configuration of symbol.
func (c *Config) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return AssetConfig{}, false
}
