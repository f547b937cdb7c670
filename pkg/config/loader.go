// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads a single YAML file with environment overrides applied on top.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Secrets have empty defaults so env overrides are visible to Unmarshal.
	v.SetDefault("database.password", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("telegram.bot_token", "")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 28)

	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("auth.session_ttl", 30*24*time.Hour)
	v.SetDefault("auth.cookie_name", "coinwatch_session")
	v.SetDefault("auth.admin_name", "admin")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("rewards.video_amount", 30)
	v.SetDefault("rewards.video_daily_cap", 650)
	v.SetDefault("rewards.gift_amount", 10)
	v.SetDefault("rewards.gift_cooldown", 24*time.Hour)
	v.SetDefault("rewards.subscribe_amount", 5)
	v.SetDefault("rewards.subscribe_daily_cap", 150)
	v.SetDefault("rewards.submission_cost", 1250)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.global.requests", 300)
	v.SetDefault("rate_limit.global.window", time.Minute)
	v.SetDefault("rate_limit.per_user.requests", 60)
	v.SetDefault("rate_limit.per_user.window", time.Minute)
	v.SetDefault("rate_limit.routes.login.requests", 10)
	v.SetDefault("rate_limit.routes.login.window", time.Minute)
	v.SetDefault("rate_limit.routes.claim.requests", 30)
	v.SetDefault("rate_limit.routes.claim.window", time.Minute)
	v.SetDefault("rate_limit.routes.submit.requests", 5)
	v.SetDefault("rate_limit.routes.submit.window", time.Minute)
	v.SetDefault("rate_limit.cleanup_interval", 5*time.Minute)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", time.Hour)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.concurrency", 5)
	v.SetDefault("jobs.queues", map[string]int{"critical": 6, "default": 3, "low": 1})
	v.SetDefault("jobs.queue_stats_schedule", "@every 1m")

	v.SetDefault("telegram.init_data_max_age", 24*time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
