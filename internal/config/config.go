package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"` // 0 disables the gRPC listener
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CacheConfig controls the read-through cache in front of the exchange.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"` // redis, memory or postgres
	TickerTTL      time.Duration `mapstructure:"ticker_ttl"`
	OhlcvTTL       time.Duration `mapstructure:"ohlcv_ttl"`
	Coalesce       bool          `mapstructure:"coalesce"`
	BypassOnOutage bool          `mapstructure:"bypass_on_outage"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
}

type ExchangeConfig struct {
	ID                string        `mapstructure:"id"`
	BaseURL           string        `mapstructure:"base_url"` // empty means the exchange's public endpoint
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type StreamConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Production bool   `mapstructure:"production"` // Production mode - only warnings and errors
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ticker_ttl", 5*time.Second)
	v.SetDefault("cache.ohlcv_ttl", time.Hour)
	v.SetDefault("cache.coalesce", true)
	v.SetDefault("cache.bypass_on_outage", false)
	v.SetDefault("cache.fetch_timeout", 10*time.Second)
	v.SetDefault("exchange.id", "binance")
	v.SetDefault("exchange.base_url", "")
	v.SetDefault("exchange.timeout", 10*time.Second)
	v.SetDefault("exchange.requests_per_second", 10.0)
	v.SetDefault("exchange.burst", 5)
	v.SetDefault("stream.interval", 2*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.production", false)

	// Read from environment variables, e.g. GATEWAY_CACHE_TICKER_TTL=10s
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "redis", "memory", "postgres":
	default:
		return fmt.Errorf("unsupported cache backend: %q", c.Cache.Backend)
	}
	if c.Cache.TickerTTL <= 0 || c.Cache.OhlcvTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive (ticker=%s, ohlcv=%s)", c.Cache.TickerTTL, c.Cache.OhlcvTTL)
	}
	if c.Cache.Backend == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres cache backend requires postgres.dsn")
	}
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("stream interval must be positive, got %s", c.Stream.Interval)
	}
	if c.Exchange.ID == "" {
		return fmt.Errorf("exchange id is required")
	}
	return nil
}
