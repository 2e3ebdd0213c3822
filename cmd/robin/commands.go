package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/example/robin/internal/application"
	"github.com/example/robin/internal/config"
	httptransport "github.com/example/robin/internal/http"
	"github.com/example/robin/internal/jobs"
	"github.com/example/robin/internal/notify"
	"github.com/example/robin/internal/notify/realtime"
	"github.com/example/robin/internal/notify/redisbus"
	"github.com/example/robin/internal/persistence/sqlite"
	"github.com/example/robin/internal/persistence/sqlite/migration"
)

func runPrompt(ctx context.Context, env *environment, _ *options) error {
	passes, cleanup, err := buildPasses(ctx, env)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = passes.prompt.PromptForVoting(ctx, env.cfg.PromptAgeMinutes)
	return err
}

func runReap(ctx context.Context, env *environment, _ *options) error {
	passes, cleanup, err := buildPasses(ctx, env)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = passes.reap.ReapRipeRooms(ctx, env.cfg.ReapAgeMinutes)
	return err
}

func runWorker(ctx context.Context, env *environment, _ *options) error {
	if err := env.cfg.RequireRedis(); err != nil {
		return err
	}
	redisOpt, err := asynq.ParseRedisURI(env.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse %s: %w", config.EnvRedisURL, err)
	}

	passes, cleanup, err := buildPasses(ctx, env)
	if err != nil {
		return err
	}
	defer cleanup()

	worker, err := jobs.NewWorker(redisOpt, jobs.WorkerConfig{
		Concurrency: env.cfg.WorkerConcurrency,
		Schedule: jobs.Schedule{
			PromptCron:       env.cfg.PromptCron,
			ReapCron:         env.cfg.ReapCron,
			PromptAgeMinutes: env.cfg.PromptAgeMinutes,
			ReapAgeMinutes:   env.cfg.ReapAgeMinutes,
			Timeout:          env.cfg.PassTimeout,
		},
	}, jobs.NewHandlers(passes.prompt, passes.reap, env.logger), env.logger)
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}

func runGateway(ctx context.Context, env *environment, _ *options) error {
	if err := env.cfg.RequireRedis(); err != nil {
		return err
	}
	client, err := redisbus.Connect(ctx, env.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(env.cfg.SQLiteDSN), env.cfg.PageSize)
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := realtime.NewHub(env.logger)
	defer hub.Close()

	subscriber := redisbus.NewSubscriber(client, env.cfg.NamespacePrefix, hub, env.logger)
	subscriberErr := make(chan error, 1)
	go func() {
		err := subscriber.Run(ctx, nil)
		if err != nil {
			env.logger.Error("redis subscription ended", "error", err)
		}
		subscriberErr <- err
		cancel()
	}()

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Health: httptransport.NewHealthHandler(map[string]httptransport.HealthCheck{
			"redis":  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			"sqlite": storage.Ping,
		}, env.logger),
		Rooms:      httptransport.NewRoomStreamHandler(hub, env.cfg.NamespacePrefix, env.logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.Recoverer(env.logger), httptransport.RequestLogger(env.logger)},
	})

	// No write timeout: room streams stay open for the lifetime of the room.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", env.cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	env.logger.Info("gateway listening", "addr", server.Addr, "prefix", notify.NormalizePrefix(env.cfg.NamespacePrefix))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	cancel()
	return <-subscriberErr
}

func runMigrate(ctx context.Context, env *environment, opts *options) error {
	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(env.cfg.SQLiteDSN), env.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	if !opts.statusOnly {
		if err := storage.Migrate(ctx, env.logger); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	status, err := storage.MigrationStatus(ctx, env.logger)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	current := status.CurrentVersion
	if current == "" {
		current = "none"
	}
	fmt.Fprintf(env.stdout, "current version: %s\n", current)
	fmt.Fprintf(env.stdout, "pending: %d\n", status.PendingCount)
	for _, pending := range status.PendingMigrations {
		fmt.Fprintf(env.stdout, "  %s %s\n", pending.Version, pending.Description)
	}
	return nil
}

type passServices struct {
	prompt *application.PromptService
	reap   *application.ReapService
}

// buildPasses opens migrated storage and the notification publisher and
// wires both pass services. Without a Redis URL notifications are only logged.
func buildPasses(ctx context.Context, env *environment) (passServices, func(), error) {
	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(env.cfg.SQLiteDSN), env.cfg.PageSize)
	if err != nil {
		return passServices{}, nil, fmt.Errorf("open storage: %w", err)
	}
	closers := []func() error{storage.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				env.logger.Error("failed to release resource", "error", err)
			}
		}
	}

	if err := storage.Migrate(ctx, env.logger); err != nil {
		cleanup()
		return passServices{}, nil, fmt.Errorf("apply migrations: %w", err)
	}

	var broadcaster notify.Broadcaster
	if env.cfg.RedisURL != "" {
		client, err := redisbus.Connect(ctx, env.cfg.RedisURL)
		if err != nil {
			cleanup()
			return passServices{}, nil, err
		}
		closers = append(closers, client.Close)
		broadcaster = redisbus.NewPublisher(client)
	} else {
		env.logger.Warn("ROBIN_REDIS_URL not set, notifications are only logged")
		broadcaster = notify.NewLogBroadcaster(env.logger)
	}

	now := time.Now
	rooms := newRoomRepositoryAdapter(storage, uuid.NewString)
	notifier := notify.NewRoomNotifier(env.cfg.NamespacePrefix, broadcaster)

	return passServices{
		prompt: application.NewPromptServiceWithLogger(rooms, notifier, now, env.logger),
		reap:   application.NewReapServiceWithLogger(rooms, notifier, now, env.logger),
	}, cleanup, nil
}
