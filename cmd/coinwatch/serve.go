package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	"github.com/Proton-105/coinwatch/internal/api"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/health"
	"github.com/Proton-105/coinwatch/internal/idempotency"
	"github.com/Proton-105/coinwatch/internal/jobs"
	"github.com/Proton-105/coinwatch/internal/jobs/handlers"
	"github.com/Proton-105/coinwatch/internal/ledger"
	"github.com/Proton-105/coinwatch/internal/lifecycle"
	"github.com/Proton-105/coinwatch/internal/middleware"
	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/internal/ratelimit"
	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/submission"
	"github.com/Proton-105/coinwatch/internal/telegram"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/graceful"
	"github.com/Proton-105/coinwatch/pkg/metrics"
)

const (
	healthCheckTimeout  = 3 * time.Second
	idempotencyMaxWait  = 5 * time.Second
	redisLimiterRetry   = 30 * time.Second
	gaugeRefreshPeriod  = 30 * time.Second
	shutdownGracePeriod = 30 * time.Second
)

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, c)
	if err != nil {
		return err
	}
	cfg := rt.cfg
	log := rt.log()

	log.Info("starting coinwatch",
		slog.String("env", cfg.AppEnv),
		slog.Int("port", cfg.Server.Port),
		slog.Bool("jobs", cfg.Jobs.Enabled),
		slog.Bool("telegram", cfg.Telegram.Enabled),
	)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("redis", lifecycle.PhaseResources, rt.closeRedis)
	shutdown.Register("postgres", lifecycle.PhaseResources, rt.closeDB)

	if err := rt.migrate(ctx); err != nil {
		rt.close()
		return err
	}

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	store := repository.NewStore(rt.db, log)
	videos := repository.NewVideoRepository(rt.db)
	userRepo := repository.NewUserRepository(rt.db, log)
	sessions := session.NewStore(rt.redis, cfg.Auth.SessionTTL, log)

	var validator *telegram.Validator
	notifier := telegram.NewNotifier(nil, log)
	if cfg.Telegram.Enabled {
		bot, err := telegram.NewBot(cfg.Telegram.BotToken)
		if err != nil {
			rt.close()
			return err
		}
		notifier = telegram.NewNotifier(bot, log)
		validator = telegram.NewValidator(cfg.Telegram.BotToken, cfg.Telegram.InitDataMaxAge)
	}

	collector := metrics.NewCollector(videos, sessions, gaugeRefreshPeriod, log)

	var decisions moderation.Notifier
	if cfg.Jobs.Enabled {
		decisions, err = startJobs(cfg, rt, userRepo, notifier, collector, shutdown)
		if err != nil {
			rt.close()
			return err
		}
	} else {
		go collector.Run(ctx)
	}

	checker := health.NewChecker(log, healthCheckTimeout)
	checker.AddCheck("postgres", health.NewDBChecker(rt.db))
	checker.AddCheck("redis", health.NewRedisChecker(rt.redis))
	if notifier.Enabled() {
		checker.AddOptional("telegram", notifier)
	}
	probes := lifecycle.NewProbes(checker, log)
	shutdown.Register("readiness", lifecycle.PhaseDrain, probes.Drain)

	idem := idempotency.NewManager(idempotency.NewRedisStore(rt.redis, log), idempotencyMaxWait, log)
	go idempotency.NewCleaner(rt.redis, log, cfg.Idempotency.CleanupInterval, cfg.Idempotency.TTL).Run(ctx)

	var limiter *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		memory := ratelimit.NewMemoryLimiter(log)
		adaptive := ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rt.redis, log), memory, redisLimiterRetry, log)
		limiter = middleware.NewRateLimitMiddleware(adaptive, ratelimit.NewRules(cfg.RateLimit), errHandler, log)
		go ratelimit.NewCleaner(rt.redis, memory, log, cfg.RateLimit.CleanupInterval, longestWindow(cfg.RateLimit)).Run(ctx)
	}

	rewards := cfg.Rewards
	server := api.NewServer(api.Services{
		Users:       newUserService(rt),
		Ledger:      ledger.NewService(store, rewards, log),
		Submissions: submission.NewService(store, rewards.SubmissionCost, log),
		Moderation:  moderation.NewService(store, videos, userRepo, decisions, log),
		Telegram:    validator,
	}, api.Options{
		Auth:           cfg.Auth,
		Metrics:        cfg.Metrics,
		IdempotencyTTL: cfg.Idempotency.TTL,
		RateLimit:      limiter,
		Idempotency:    idem,
		Probes:         probes,
		Errors:         errHandler,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- graceful.NewServer(log, httpServer, cfg.Server.ShutdownTimeout).ListenAndServe(serveCtx)
	}()
	shutdown.Register("http", lifecycle.PhaseDrain, func(context.Context) error {
		stopServing()
		return <-serveErr
	})

	config.Watch(rt.viper, log, func(next *config.Config) {
		if err := rt.logger.SetLevel(next.Logger.Level); err != nil {
			log.Warn("log level not changed", slog.Any("error", err))
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		// Re-arm the hook so it does not block on the drained channel.
		serveErr <- nil
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	_ = rt.flush(shutdownCtx)

	return runErr
}

// startJobs runs the asynq worker and scheduler and returns the enqueuing
// notifier used by moderation.
func startJobs(
	cfg *config.Config,
	rt *runtime,
	users repository.UserRepository,
	sender handlers.MessageSender,
	collector *metrics.Collector,
	shutdown *lifecycle.Shutdown,
) (moderation.Notifier, error) {
	log := rt.log()
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	manager := jobs.NewManager(redisOpt, log)

	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, cfg.Jobs.Queues, cfg.Server.ShutdownTimeout, log)
	worker.RegisterHandler(jobs.TaskTypeModerationNotify, handlers.NewNotifyHandler(users, sender, log))
	worker.RegisterHandler(jobs.TaskTypeQueueStats, handlers.NewQueueStatsHandler(collector, log))
	if err := worker.Start(); err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("start jobs worker: %w", err)
	}

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterTasks(cfg.Jobs.QueueStatsSchedule); err != nil {
		worker.Shutdown()
		_ = manager.Close()
		return nil, fmt.Errorf("register scheduled tasks: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		worker.Shutdown()
		_ = manager.Close()
		return nil, fmt.Errorf("start jobs scheduler: %w", err)
	}

	shutdown.Register("jobs-scheduler", lifecycle.PhaseWorkers, func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})
	shutdown.Register("jobs-worker", lifecycle.PhaseWorkers, func(context.Context) error {
		worker.Shutdown()
		return nil
	})
	shutdown.Register("jobs-client", lifecycle.PhaseResources, func(context.Context) error {
		return manager.Close()
	})

	return manager, nil
}

func longestWindow(cfg config.RateLimitConfig) time.Duration {
	longest := cfg.Global.Window
	for _, l := range []config.LimitConfig{cfg.PerUser, cfg.Routes.Login, cfg.Routes.Claim, cfg.Routes.Submit} {
		if l.Window > longest {
			longest = l.Window
		}
	}
	return longest
}
