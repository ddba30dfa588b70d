package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DAYTRADER"

type AppConfig struct {
	ServiceName string
	Env         string
	LogLevel    string
	Port        string
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type QuoteConfig struct {
	Mode     string // fake or tcp
	Addr     string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type AuditConfig struct {
	BufferSize int
}

type TradingConfig struct {
	ReservationTTL time.Duration
}

type TriggersConfig struct {
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	TradingPerMinute int
	QueryPerMinute   int
}

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Quote     QuoteConfig
	Kafka     KafkaConfig
	Audit     AuditConfig
	Trading   TradingConfig
	Triggers  TriggersConfig
	RateLimit RateLimitConfig
}

// IsProduction reports whether the service runs with production logging
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Load reads configuration from an optional .env file, an optional YAML file
// and DAYTRADER_ prefixed environment variables, in increasing precedence.
// The YAML path comes from DAYTRADER_CONFIG and defaults to config.yaml.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	path := os.Getenv(envPrefix + "_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			ServiceName: v.GetString("app.service_name"),
			Env:         v.GetString("app.env"),
			LogLevel:    v.GetString("app.log_level"),
			Port:        v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Quote: QuoteConfig{
			Mode:     v.GetString("quote.mode"),
			Addr:     v.GetString("quote.addr"),
			Timeout:  v.GetDuration("quote.timeout"),
			CacheTTL: v.GetDuration("quote.cache_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: splitCSV(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Audit: AuditConfig{
			BufferSize: v.GetInt("audit.buffer_size"),
		},
		Trading: TradingConfig{
			ReservationTTL: v.GetDuration("trading.reservation_ttl"),
		},
		Triggers: TriggersConfig{
			SweepInterval: v.GetDuration("triggers.sweep_interval"),
		},
		RateLimit: RateLimitConfig{
			TradingPerMinute: v.GetInt("rate_limit.trading_per_minute"),
			QueryPerMinute:   v.GetInt("rate_limit.query_per_minute"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.service_name", "daytrader-api")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "daytrader.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("quote.mode", "fake")
	v.SetDefault("quote.addr", "localhost:4444")
	v.SetDefault("quote.timeout", 2*time.Second)
	v.SetDefault("quote.cache_ttl", 60*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "daytrader.audit")

	v.SetDefault("audit.buffer_size", 1024)

	v.SetDefault("trading.reservation_ttl", 60*time.Second)
	v.SetDefault("triggers.sweep_interval", 5*time.Minute)

	v.SetDefault("rate_limit.trading_per_minute", 600)
	v.SetDefault("rate_limit.query_per_minute", 6000)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn required")
	}
	switch c.Quote.Mode {
	case "fake", "tcp":
	default:
		return fmt.Errorf("unsupported quote mode %q", c.Quote.Mode)
	}
	if c.Quote.Mode == "tcp" && c.Quote.Addr == "" {
		return fmt.Errorf("quote server addr required")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic required when kafka is enabled")
	}
	if c.Trading.ReservationTTL <= 0 {
		return fmt.Errorf("trading reservation ttl must be positive")
	}
	if c.Triggers.SweepInterval <= 0 {
		return fmt.Errorf("trigger sweep interval must be positive")
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit buffer size must be positive")
	}
	return nil
}

// splitCSV accepts both YAML lists and a comma separated env value.
func splitCSV(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
