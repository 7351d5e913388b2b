package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"

	"signflow/backend/internal/config"
	"signflow/backend/internal/dispatch"
	"signflow/backend/internal/documents"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/notify"
	"signflow/backend/internal/queue"
	"signflow/backend/internal/reminders"
	"signflow/backend/internal/repository"
	"signflow/backend/internal/services"
	"signflow/backend/internal/tokens"
)

const expirySweepKey = "expiry-sweep"

// app is the wired service graph shared by the serve and seed commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	repo      repository.Repository
	queue     *queue.Queue
	scheduler *reminders.CronScheduler
	svc       *services.WorkflowService
	closeDB   func()
}

func loadApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.NewLoggerWithLevel(os.Stdout, cfg.Log.Level)

	repo, closeDB, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	q := queue.New(logger, cfg.Queue.Workers, cfg.Queue.Buffer)
	scheduler := reminders.NewCronScheduler(logger)
	adapter := reminders.NewAdapter(scheduler, func(workflowID string) {
		if err := q.Enqueue(queue.Task{Kind: queue.KindRemind, WorkflowID: workflowID}); err != nil {
			logger.Error("enqueue reminder", "workflow_id", workflowID, "error", err)
		}
	}, logger)

	tm := tokens.NewManager(nil)
	engine := dispatch.NewEngine(repo, tm, newNotifier(cfg, logger), adapter, dispatch.Config{
		LinkBaseURL: cfg.Signing.LinkBaseURL,
		TokenTTL:    cfg.Signing.TokenTTL,
	}, nil, logger)

	svc := services.NewWorkflowService(services.Deps{
		Repo:      repo,
		Tokens:    tm,
		Documents: documents.NewCoordinator(nil),
		Files:     documents.NewFileStore(afero.NewOsFs(), cfg.Storage.Root, nil),
		Engine:    engine,
		Reminders: adapter,
		Queue:     q,
		Logger:    logger,
	})
	for _, kind := range []queue.Kind{queue.KindDispatch, queue.KindRemind, queue.KindExpirySweep} {
		q.Handle(kind, svc.HandleTask)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		queue:     q,
		scheduler: scheduler,
		svc:       svc,
		closeDB:   closeDB,
	}, nil
}

// startWorkers runs the queue and the scheduler, including the periodic
// expiry sweep. Queued tasks outlive ctx so close can drain them.
func (a *app) startWorkers(ctx context.Context) error {
	a.queue.Start(context.WithoutCancel(ctx))
	a.scheduler.Start()

	every := a.cfg.Reminders.ExpirySweep
	if every <= 0 {
		return nil
	}
	return a.scheduler.ScheduleRecurring(expirySweepKey, every, every, reminders.Forever, func() {
		if err := a.queue.Enqueue(queue.Task{Kind: queue.KindExpirySweep}); err != nil {
			a.logger.Error("enqueue expiry sweep", "error", err)
		}
	})
}

// close stops the scheduler, drains the queue, then releases the database.
func (a *app) close() {
	a.scheduler.Stop()
	a.queue.Close()
	a.closeDB()
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if cfg.DB.Driver == "memory" {
		logger.Warn("using in-memory repository; data is lost on restart")
		repo, err := repository.NewMemoryRepository()
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	repo := repository.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return repo, repo.Close, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	backoff := retry.WithMaxRetries(10, retry.NewConstant(2*time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Debug("database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func newNotifier(cfg *config.Config, logger *logging.Logger) notify.Notifier {
	var n notify.Notifier
	switch cfg.Notifier.Driver {
	case "http":
		n = notify.NewHTTPNotifier(cfg.Notifier.URL, &http.Client{Timeout: 10 * time.Second})
	default:
		n = notify.NewLogNotifier(logger)
	}
	return notify.NewRateLimited(n, cfg.Notifier.RatePerSecond, cfg.Notifier.Burst)
}
