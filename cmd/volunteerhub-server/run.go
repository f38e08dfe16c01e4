package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	server "github.com/volunteerhub/volunteerhub/internal"
	"github.com/volunteerhub/volunteerhub/internal/action"
	"github.com/volunteerhub/volunteerhub/internal/completion"
	"github.com/volunteerhub/volunteerhub/internal/config"
	"github.com/volunteerhub/volunteerhub/internal/event"
	"github.com/volunteerhub/volunteerhub/internal/eventbus"
	"github.com/volunteerhub/volunteerhub/internal/execution"
	executionrepo "github.com/volunteerhub/volunteerhub/internal/execution/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/internal/mailer"
	"github.com/volunteerhub/volunteerhub/internal/pushnotification"
	pushsubrepo "github.com/volunteerhub/volunteerhub/internal/pushsubscription/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/internal/scheduler"
	"github.com/volunteerhub/volunteerhub/internal/workflow"
	workflowrepo "github.com/volunteerhub/volunteerhub/internal/workflow/repositoryimpl"
	"github.com/volunteerhub/volunteerhub/pkg/clog"
	"github.com/volunteerhub/volunteerhub/pkg/recordstore"
	"github.com/volunteerhub/volunteerhub/pkg/storage"
)

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr,
			clog.WithColor(!color.NoColor),
			clog.WithLevel(level),
			clog.WithColumns(clog.ConnectColumns...),
			clog.WithColumns(clog.HTTPColumns...),
			clog.WithColumns(clog.SchedulerColumns...),
		)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	loc, err := env.Location()
	if err != nil {
		return err
	}

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			return fmt.Errorf("failed to create S3 storage: %w", err)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			return fmt.Errorf("failed to create local storage: %w", err)
		}
	}

	// Setup record store
	var records recordstore.Store
	switch env.RecordsBackend {
	case "postgres":
		if env.DatabaseURL == "" {
			return errors.New("RECORDS_BACKEND=postgres requires DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, env.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach postgres: %w", err)
		}
		records = recordstore.NewPostgresStore(pool)
	case "storage", "":
		records = recordstore.NewDocumentStore(store)
	default:
		return fmt.Errorf("unknown RECORDS_BACKEND %q", env.RecordsBackend)
	}

	// Setup collaborators of the actions
	var mail mailer.Sender = mailer.LogSender{}
	if env.MailAPIKey != "" {
		mail, err = mailer.NewResendSender(env.MailAPIURL, env.MailAPIKey, env.MailFrom)
		if err != nil {
			return err
		}
	}
	var completer completion.Completer = completion.Disabled{}
	if env.AnthropicAPIKey != "" {
		completer = completion.NewAnthropicCompleter(env.AnthropicAPIKey, env.Model, env.MaxTokens)
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	workflowRepo := workflowrepo.NewYAMLRepository(store)
	executionRepo := executionrepo.NewYAMLRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Setup scheduler
	executor := action.NewExecutor(
		action.WithTimeout(env.ActionTimeout),
		action.WithDefaultHandlers(action.Deps{
			Records:    records,
			Mail:       mail,
			Completion: completer,
			Bus:        bus,
			Location:   loc,
		}),
	)
	sched := scheduler.New(
		workflowRepo,
		executor,
		execution.NewLogger(executionRepo, workflowRepo, bus),
		bus,
		scheduler.WithLocation(loc),
		scheduler.WithPollInterval(env.ConditionPollInterval),
		scheduler.WithCounter(records),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Setup servers
	workflowServer := workflow.NewServer(workflowRepo, sched, bus, loc)
	executionServer := execution.NewServer(executionRepo)
	eventServer := event.NewServer(sched, bus)

	// Setup push notification
	pushSender := pushnotification.NewSender(&env.VAPIDEnv, pushSubRepo)
	pushNotificationServer := pushnotification.NewServer(&env.VAPIDEnv, pushSubRepo, pushSender)
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	srv := server.NewServer(
		env,
		sched,
		workflowServer,
		executionServer,
		eventServer,
		pushNotificationServer,
	)

	wg := conc.NewWaitGroup()
	wg.Go(func() { pushDispatcher.Start(ctx) })

	if env.WatchStorage {
		if watcher, ok := store.(storage.Watcher); ok {
			wg.Go(func() {
				if err := sched.WatchWorkflows(ctx, watcher); err != nil {
					slog.Error("workflow watcher stopped", "error", err)
				}
			})
		} else {
			slog.Warn("WATCH_STORAGE is set but the storage backend cannot be watched", "type", env.StorageEnv.Type)
		}
	}

	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	// Give active connections time to finish after stream contexts are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
	return nil
}
