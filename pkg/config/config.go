package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the coinwatch service.
type Config struct {
	AppEnv      string            `mapstructure:"app_env"`
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis" validate:"required"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Sentry      SentryConfig      `mapstructure:"sentry"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Rewards     RewardsConfig     `mapstructure:"rewards" validate:"required"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		sslMode,
	)
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

type AuthConfig struct {
	SessionTTL   time.Duration `mapstructure:"session_ttl" validate:"required"`
	CookieName   string        `mapstructure:"cookie_name" validate:"required"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
	// AdminName is reserved: nobody can sign up or rename to it.
	AdminName  string `mapstructure:"admin_name"`
	BcryptCost int    `mapstructure:"bcrypt_cost" validate:"omitempty,min=4,max=31"`
}

// RewardsConfig carries the claim amounts, ceilings and the submission fee.
type RewardsConfig struct {
	VideoAmount       int64         `mapstructure:"video_amount" validate:"gt=0"`
	VideoDailyCap     int64         `mapstructure:"video_daily_cap" validate:"gtefield=VideoAmount"`
	GiftAmount        int64         `mapstructure:"gift_amount" validate:"gt=0"`
	GiftCooldown      time.Duration `mapstructure:"gift_cooldown" validate:"gt=0"`
	SubscribeAmount   int64         `mapstructure:"subscribe_amount" validate:"gt=0"`
	SubscribeDailyCap int64         `mapstructure:"subscribe_daily_cap" validate:"gtefield=SubscribeAmount"`
	SubmissionCost    int64         `mapstructure:"submission_cost" validate:"gt=0"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Global          LimitConfig   `mapstructure:"global"`
	PerUser         LimitConfig   `mapstructure:"per_user"`
	Routes          RouteLimits   `mapstructure:"routes"`
	Whitelist       []int64       `mapstructure:"whitelist"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies  []string      `mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type RouteLimits struct {
	Login  LimitConfig `mapstructure:"login"`
	Claim  LimitConfig `mapstructure:"claim"`
	Submit LimitConfig `mapstructure:"submit"`
}

type IdempotencyConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type JobsConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	Concurrency        int            `mapstructure:"concurrency"`
	Queues             map[string]int `mapstructure:"queues"`
	QueueStatsSchedule string         `mapstructure:"queue_stats_schedule"`
}

type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	InitDataMaxAge time.Duration `mapstructure:"init_data_max_age"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
