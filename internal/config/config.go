// Package config loads the gateway configuration from file, environment
// and defaults.
package config

import (
	"time"

	"github.com/Aidin1998/optigate/internal/auth"
	"github.com/Aidin1998/optigate/internal/backend"
	"github.com/Aidin1998/optigate/internal/cache"
	"github.com/Aidin1998/optigate/internal/history"
)

// Rate limiter stores
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   backend.Config  `mapstructure:"backend"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     cache.Config    `mapstructure:"cache"`
	History   history.Config  `mapstructure:"history"`
	Auth      auth.Config     `mapstructure:"auth"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// BreakerConfig toggles the backend circuit breaker
type BreakerConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	backend.BreakerConfig `mapstructure:",squash"`
}

// RateLimitConfig holds sliding window settings
type RateLimitConfig struct {
	MaxCalls      int           `mapstructure:"max_calls" validate:"gt=0"`
	Window        time.Duration `mapstructure:"window" validate:"gt=0"`
	Store         string        `mapstructure:"store" validate:"oneof=memory redis"`
	FailureMode   string        `mapstructure:"failure_mode" validate:"oneof=open closed"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

// RedisConfig holds the shared limiter store connection
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Prefix   string `mapstructure:"prefix"`
}

// TracingConfig toggles OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// OptimizerConfig holds request validation limits
type OptimizerConfig struct {
	MaxTextLength int `mapstructure:"max_text_length" validate:"gt=0"`
}
