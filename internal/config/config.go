package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Lock backends for per-subject scheduling locks.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	LockBackend       string        `mapstructure:"LOCK_BACKEND"`
	LockTTL           time.Duration `mapstructure:"LOCK_TTL"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	KafkaBrokers      []string      `mapstructure:"KAFKA_BROKERS"`
	AuditTopic        string        `mapstructure:"AUDIT_TOPIC"`
	OTelEnabled       bool          `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint      string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplingRatio float64       `mapstructure:"OTEL_SAMPLING_RATIO"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOCK_BACKEND", "LOCK_TTL", "REDIS_URL",
	"KAFKA_BROKERS", "AUDIT_TOPIC", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_SAMPLING_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOCK_BACKEND", LockBackendPostgres)
	v.SetDefault("LOCK_TTL", "10s")
	v.SetDefault("AUDIT_TOPIC", "scheduler.audit")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalizes comma-separated env values. viper may hand back
// either one "a, b" element or elements that kept their surrounding spaces.
func splitList(current []string, raw string) []string {
	if len(current) == 0 {
		current = []string{raw}
	}
	var out []string
	for _, item := range current {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// KafkaEnabled reports whether audit events are also published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	switch c.LockBackend {
	case LockBackendPostgres, LockBackendMemory:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be \"postgres\", \"redis\", or \"memory\", got %q", c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
	}
	if c.OTelSamplingRatio < 0 || c.OTelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %v", c.OTelSamplingRatio)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
