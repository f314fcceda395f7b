package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Aidin1998/optigate/internal/backend"
)

// EnvPrefix prefixes every environment override, e.g. OPTIGATE_SERVER_PORT.
const EnvPrefix = "OPTIGATE"

// DefaultPaths are searched when no explicit config file is given.
var DefaultPaths = []string{
	"./config.yaml",
	"/etc/optigate/config.yaml",
}

// Default backend endpoints, used when neither the config file nor the
// environment names one.
const (
	defaultLocalEndpoint  = "http://localhost:8001/generate"
	defaultRemoteEndpoint = "https://api-inference.huggingface.co/models/deepseek-ai/DeepSeek-R1"
)

// legacyEnv maps config keys to environment names used by earlier
// deployments. The OPTIGATE_ name always wins.
var legacyEnv = map[string][]string{
	"backend.max_tokens":  {"MAX_TOKENS"},
	"backend.temperature": {"TEMPERATURE"},
	"backend.credential":  {"HF_API_KEY"},
}

// Load reads configuration from path (or the default locations when path
// is empty), the environment and built-in defaults, then validates it.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	setupViper(v)
	setDefaults(v)

	if err := loadConfigFiles(v, path, logger); err != nil {
		return nil, err
	}
	for key, names := range legacyEnv {
		envs := append([]string{envName(key)}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	resolveEndpoint(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("backend", string(cfg.Backend.Kind)),
		zap.String("endpoint", cfg.Backend.Endpoint),
		zap.String("rate_limit_store", cfg.RateLimit.Store),
		zap.Int("rate_limit_max_calls", cfg.RateLimit.MaxCalls),
		zap.Duration("rate_limit_window", cfg.RateLimit.Window))
	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("backend.kind", string(backend.KindLocalQueue))
	v.SetDefault("backend.endpoint", "")
	v.SetDefault("backend.credential", "")
	v.SetDefault("backend.max_tokens", 300)
	v.SetDefault("backend.temperature", 0.7)
	v.SetDefault("backend.timeout", "60s")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.cooldown", "30s")

	v.SetDefault("rate_limit.max_calls", 5)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.store", StoreMemory)
	v.SetDefault("rate_limit.failure_mode", "open")
	v.SetDefault("rate_limit.sweep_interval", "5m")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "optigate:ratelimit:")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.shared", false)
	v.SetDefault("cache.prefix", "optigate:cache:")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.limit", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.required", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "optigate")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("optimizer.max_text_length", 20000)
}

func loadConfigFiles(v *viper.Viper, path string, logger *zap.Logger) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		logger.Info("Loaded configuration file", zap.String("file", path))
		return nil
	}

	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			logger.Debug("Config file not found, skipping", zap.String("path", p))
			continue
		}
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", p, err)
		}
		logger.Info("Loaded configuration file", zap.String("file", p))
		return nil
	}
	logger.Warn("No configuration file found, using defaults and environment variables")
	return nil
}

// resolveEndpoint fills an unset endpoint from the legacy per-backend
// variables, then from the built-in default for the configured kind.
func resolveEndpoint(cfg *Config) {
	if cfg.Backend.Endpoint != "" {
		return
	}
	switch cfg.Backend.Kind {
	case backend.KindRemoteHosted:
		cfg.Backend.Endpoint = firstNonEmpty(os.Getenv("HF_API_URL"), defaultRemoteEndpoint)
	default:
		cfg.Backend.Endpoint = firstNonEmpty(os.Getenv("VLLM_HOST"), defaultLocalEndpoint)
	}
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cfg.RateLimit.Store == StoreRedis && cfg.Redis.Address == "" {
		return errors.New("rate_limit.store is redis but redis.address is empty")
	}
	if cfg.Cache.Enabled && cfg.Cache.Shared && cfg.Redis.Address == "" {
		return errors.New("cache.shared is set but redis.address is empty")
	}
	if cfg.Auth.Required && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.required is set but auth.jwt_secret is empty")
	}
	if cfg.Backend.Kind == backend.KindRemoteHosted && cfg.Backend.Credential == "" {
		return errors.New("backend.credential is required for remote_hosted")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
