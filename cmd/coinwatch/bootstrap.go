package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/Proton-105/coinwatch/internal/database"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/logger"
	appredis "github.com/Proton-105/coinwatch/pkg/redis"
)

const sentryFlushTimeout = 2 * time.Second

// runtime holds what every command needs: config, logger and the two stores.
type runtime struct {
	cfg    *config.Config
	viper  *viper.Viper
	logger *logger.Logger
	db     *sql.DB
	redis  *goredis.Client
}

func loadConfig(c *cli.Context) (*config.Config, *viper.Viper, error) {
	if path := c.String("config"); path != "" {
		return config.LoadFile(path, c.String("env"))
	}
	return config.Load()
}

// bootstrap loads configuration and opens logging, PostgreSQL and Redis.
// Callers must call close when done.
func bootstrap(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, v, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	lg, err := logger.New(cfg.Logger, cfg.Sentry.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{cfg: cfg, viper: v, logger: lg}

	rt.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rt.redis, err = appredis.New(ctx, cfg.Redis)
	if err != nil {
		rt.close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) log() *slog.Logger {
	return rt.logger.Logger
}

func (rt *runtime) migrate(ctx context.Context) error {
	applied, err := database.NewMigrator(rt.db, rt.log()).Apply(ctx, database.Migrations())
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	rt.log().Info("database migrations applied", slog.Int("applied", applied))
	return nil
}

func (rt *runtime) closeDB(context.Context) error {
	if rt.db == nil {
		return nil
	}
	return rt.db.Close()
}

func (rt *runtime) closeRedis(context.Context) error {
	if rt.redis == nil {
		return nil
	}
	return rt.redis.Close()
}

func (rt *runtime) flush(context.Context) error {
	if rt.cfg.Sentry.Enabled {
		sentry.Flush(sentryFlushTimeout)
	}
	return rt.logger.Close()
}

func (rt *runtime) close() {
	ctx := context.Background()
	if err := rt.closeRedis(ctx); err != nil {
		rt.log().Error("error closing redis", slog.Any("error", err))
	}
	if err := rt.closeDB(ctx); err != nil {
		rt.log().Error("error closing database", slog.Any("error", err))
	}
	_ = rt.flush(ctx)
}

func migrate(c *cli.Context) error {
	rt, err := bootstrap(c.Context, c)
	if err != nil {
		return err
	}
	defer rt.close()

	return rt.migrate(c.Context)
}
