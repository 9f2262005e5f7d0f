package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/domain/entity"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/resilience"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/services/rule-translation/infrastructure/translator"
	"github.com/robertfly/detection-engineer-tidqdo-sub000/shared/common"
)

const envPrefix = "RULE_TRANSLATOR"

// Cache backends
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config represents the rule translation service configuration
type Config struct {
	Service     common.ServiceConfig `mapstructure:"service"`
	Server      common.ServerConfig  `mapstructure:"server"`
	Logging     common.LoggingConfig `mapstructure:"logging"`
	Metrics     common.MetricsConfig `mapstructure:"metrics"`
	Cache       CacheConfig          `mapstructure:"cache"`
	Resilience  ResilienceConfig     `mapstructure:"resilience"`
	Translators translator.Config    `mapstructure:"translators"`
}

// CacheConfig selects and sizes the translation cache
type CacheConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Backend string             `mapstructure:"backend" validate:"oneof=memory redis"`
	Size    int                `mapstructure:"size" validate:"gte=0"`
	TTL     time.Duration      `mapstructure:"ttl"`
	Redis   common.RedisConfig `mapstructure:"redis"`
}

// PlatformLimits is the per-platform resilience block
type PlatformLimits struct {
	RateLimitPerMinute     int    `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
	FailureThreshold       uint32 `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds int    `mapstructure:"recovery_timeout_seconds" validate:"gte=0"`
}

// RetryConfig configures retries of cache backend calls
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
}

// ResilienceConfig holds rate limit and circuit breaker settings
type ResilienceConfig struct {
	Platforms map[string]PlatformLimits `mapstructure:"platforms" validate:"dive"`
	Retry     RetryConfig               `mapstructure:"retry"`
}

// Limits converts the platform blocks into policy limits
func (r ResilienceConfig) Limits() (map[entity.Platform]resilience.Limits, error) {
	out := make(map[entity.Platform]resilience.Limits, len(r.Platforms))
	for name, l := range r.Platforms {
		platform, err := entity.ParsePlatform(name)
		if err != nil {
			return nil, fmt.Errorf("resilience.platforms: %w", err)
		}
		out[platform] = resilience.Limits{
			RateLimitPerMinute: l.RateLimitPerMinute,
			FailureThreshold:   l.FailureThreshold,
			RecoveryTimeout:    time.Duration(l.RecoveryTimeoutSeconds) * time.Second,
		}
	}
	return out, nil
}

// LoadConfig reads configuration from path, or from config.yaml in the
// usual locations when path is empty. Environment variables prefixed with
// RULE_TRANSLATOR_ override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rule-translator")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "rule-translator")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.development", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "rule_translator")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.database", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.idle_timeout", "5m")
	v.SetDefault("cache.redis.key_prefix", "rule-translator")
	v.SetDefault("cache.redis.compression", true)

	for platform, l := range resilience.DefaultLimits() {
		prefix := "resilience.platforms." + string(platform)
		v.SetDefault(prefix+".rate_limit_per_minute", l.RateLimitPerMinute)
		v.SetDefault(prefix+".failure_threshold", l.FailureThreshold)
		v.SetDefault(prefix+".recovery_timeout_seconds", int(l.RecoveryTimeout/time.Second))
	}
	v.SetDefault("resilience.retry.max_attempts", resilience.DefaultRetryAttempts)
	v.SetDefault("resilience.retry.base_delay", resilience.DefaultRetryBaseDelay.String())

	defaults := translator.DefaultConfig()
	v.SetDefault("translators.kql.max_joins", defaults.KQL.MaxJoins)
	v.SetDefault("translators.kql.max_functions", defaults.KQL.MaxFunctions)
	v.SetDefault("translators.kql.max_complexity", defaults.KQL.MaxComplexity)
	v.SetDefault("translators.spl.strict", defaults.SPL.Strict)
	v.SetDefault("translators.sigma.max_complexity", defaults.Sigma.MaxComplexity)
	v.SetDefault("translators.sigma.max_fields", defaults.Sigma.MaxFields)
	v.SetDefault("translators.sigma.compile_check", defaults.Sigma.CompileCheck)
	v.SetDefault("translators.sigma.product", defaults.Sigma.Product)
	v.SetDefault("translators.yaral.max_condition_operators", defaults.YARAL.MaxConditionOperators)
	v.SetDefault("translators.yaral.compile_timeout", defaults.YARAL.CompileTimeout.String())
}

var validate = validator.New()

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := common.ValidatePort("server", c.Server.Port); err != nil {
		return err
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case CacheBackendMemory:
			if c.Cache.Size == 0 {
				return errors.New("cache size must be positive")
			}
		case CacheBackendRedis:
			if err := common.ValidatePort("redis", c.Cache.Redis.Port); err != nil {
				return err
			}
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
		}
	}

	for name := range c.Resilience.Platforms {
		if _, err := entity.ParsePlatform(name); err != nil {
			return fmt.Errorf("resilience.platforms: %w", err)
		}
	}

	if c.Translators.KQL.MaxJoins < 0 || c.Translators.KQL.MaxFunctions < 0 || c.Translators.KQL.MaxComplexity < 0 {
		return errors.New("translators.kql limits must not be negative")
	}
	if c.Translators.YARAL.CompileTimeout < 0 {
		return errors.New("translators.yaral.compile_timeout must not be negative")
	}
	return nil
}
