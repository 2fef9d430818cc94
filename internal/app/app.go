package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/config"
	"reminder-service/internal/domain/repository"
	domainservice "reminder-service/internal/domain/service"
	"reminder-service/internal/infrastructure/cron"
	"reminder-service/internal/infrastructure/inproc"
	"reminder-service/internal/infrastructure/kafka"
	"reminder-service/internal/infrastructure/postgres"
	"reminder-service/internal/infrastructure/redis"
	"reminder-service/internal/infrastructure/sqlite"
	"reminder-service/internal/infrastructure/telegram"
	"reminder-service/internal/service"
)

const (
	busKafka  = "kafka"
	busInproc = "inproc"
)

type App struct {
	cfg     *config.Config
	log     *zap.Logger
	closers []func() error
}

// New creates a new application instance
func New(cfg *config.Config, log *zap.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// RunScheduler runs the scheduler process: periodic sweeps publishing to Kafka,
// fire-log retention and the health endpoint.
func (a *App) RunScheduler(ctx context.Context) error {
	defer a.close()

	if a.cfg.Bus.Driver != busKafka {
		return fmt.Errorf("bus driver %q is only supported in standalone mode", a.cfg.Bus.Driver)
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	publisher := kafka.NewProducer(&a.cfg.Kafka, a.log.Named("kafka"))
	a.onClose(publisher.Close)

	scheduler, err := a.newScheduler(repo, publisher)
	if err != nil {
		return err
	}
	retention, err := a.startRetention(repo)
	if err != nil {
		return err
	}
	defer retention.Stop()

	a.startHealthServer(ctx)
	a.log.Info("scheduler process started", zap.String("service", a.cfg.Service.Name))

	scheduler.Run(ctx, a.cfg.Scheduler.PollInterval)

	a.log.Info("application stopped")
	return nil
}

// RunSender runs the sender process consuming fire events from Kafka
func (a *App) RunSender(ctx context.Context) error {
	defer a.close()

	if a.cfg.Bus.Driver != busKafka {
		return fmt.Errorf("bus driver %q is only supported in standalone mode", a.cfg.Bus.Driver)
	}

	consumer := kafka.NewConsumer(&a.cfg.Kafka, a.log.Named("kafka"))
	a.onClose(consumer.Close)

	sender, err := a.newSender(ctx, consumer)
	if err != nil {
		return err
	}

	a.startHealthServer(ctx)
	a.log.Info("sender process started", zap.String("service", a.cfg.Service.Name))

	if err := sender.Run(ctx); err != nil {
		return fmt.Errorf("sender stopped: %w", err)
	}

	a.log.Info("application stopped")
	return nil
}

// RunStandalone runs scheduler and sender in one process. With the inproc bus
// driver, events pass through an in-memory queue and undelivered events are
// lost on shutdown.
func (a *App) RunStandalone(ctx context.Context) error {
	defer a.close()

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}

	var (
		publisher domainservice.Publisher
		consumer  domainservice.Consumer
	)
	switch a.cfg.Bus.Driver {
	case busInproc:
		bus := inproc.NewBus(a.cfg.Bus.BufferSize)
		a.onClose(func() error {
			if n := bus.Len(); n > 0 {
				a.log.Warn("discarding undelivered fire events", zap.Int("count", n))
			}
			return bus.Close()
		})
		publisher, consumer = bus, bus
	case busKafka:
		producer := kafka.NewProducer(&a.cfg.Kafka, a.log.Named("kafka"))
		a.onClose(producer.Close)
		kafkaConsumer := kafka.NewConsumer(&a.cfg.Kafka, a.log.Named("kafka"))
		a.onClose(kafkaConsumer.Close)
		publisher, consumer = producer, kafkaConsumer
	default:
		return fmt.Errorf("unknown bus driver %q", a.cfg.Bus.Driver)
	}

	scheduler, err := a.newScheduler(repo, publisher)
	if err != nil {
		return err
	}
	sender, err := a.newSender(ctx, consumer)
	if err != nil {
		return err
	}
	retention, err := a.startRetention(repo)
	if err != nil {
		return err
	}
	defer retention.Stop()

	a.startHealthServer(ctx)
	a.log.Info("standalone process started",
		zap.String("service", a.cfg.Service.Name),
		zap.String("bus", a.cfg.Bus.Driver),
	)

	var wg sync.WaitGroup
	senderErr := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx, a.cfg.Scheduler.PollInterval)
	}()
	go func() {
		defer wg.Done()
		senderErr <- sender.Run(ctx)
	}()
	wg.Wait()

	if err := <-senderErr; err != nil {
		return fmt.Errorf("sender stopped: %w", err)
	}
	a.log.Info("application stopped")
	return nil
}

// SweepOnce performs a single sweep at the current instant and returns its summary
func (a *App) SweepOnce(ctx context.Context) (service.SweepResult, error) {
	defer a.close()

	if a.cfg.Bus.Driver != busKafka {
		return service.SweepResult{}, fmt.Errorf("bus driver %q cannot be used by a one-shot sweep", a.cfg.Bus.Driver)
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		return service.SweepResult{}, err
	}
	publisher := kafka.NewProducer(&a.cfg.Kafka, a.log.Named("kafka"))
	a.onClose(publisher.Close)

	scheduler, err := a.newScheduler(repo, publisher)
	if err != nil {
		return service.SweepResult{}, err
	}
	return scheduler.Sweep(ctx)
}

// Migrate applies the embedded migrations of the configured database driver
func (a *App) Migrate(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.NewPostgresPool(ctx, &a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	case "sqlite":
		repo, err := sqlite.OpenSQLite(ctx, a.cfg.Database.SQLitePath)
		if err != nil {
			return err
		}
		_ = repo.Close()
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
	a.log.Info("migrations applied", zap.String("driver", a.cfg.Database.Driver))
	return nil
}

func (a *App) openRepository(ctx context.Context) (repository.ReminderRepository, error) {
	var (
		repo repository.ReminderRepository
		err  error
	)
	switch a.cfg.Database.Driver {
	case "postgres":
		a.log.Info("connecting to PostgreSQL")
		pool, perr := postgres.NewPostgresPool(ctx, &a.cfg.Database)
		if perr != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", perr)
		}
		repo = postgres.NewReminderRepository(pool)
	case "sqlite":
		a.log.Info("opening SQLite", zap.String("path", a.cfg.Database.SQLitePath))
		repo, err = sqlite.OpenSQLite(ctx, a.cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
	a.onClose(repo.Close)
	return repo, nil
}

func (a *App) newScheduler(repo repository.ReminderRepository, publisher domainservice.Publisher) (*service.SchedulerService, error) {
	policy, err := service.ParseDeliveryPolicy(a.cfg.Scheduler.DeliveryPolicy)
	if err != nil {
		return nil, err
	}
	return service.NewSchedulerService(repo, publisher, service.SchedulerOptions{
		Window: a.cfg.Scheduler.Window,
		Policy: policy,
	}, a.log.Named("scheduler")), nil
}

func (a *App) newSender(ctx context.Context, consumer domainservice.Consumer) (*service.SenderService, error) {
	messenger, err := telegram.NewMessenger(&a.cfg.Telegram, a.log.Named("telegram"))
	if err != nil {
		return nil, err
	}

	var state domainservice.ThrottleState
	switch a.cfg.Sender.ThrottleBackend {
	case "redis":
		client, err := redis.NewRedisClient(ctx, &a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.onClose(func() error { return redis.Close(client) })
		state = redis.NewThrottleState(client, 2*a.cfg.Sender.MinInterval)
	default:
		state = service.NewMemoryThrottleState()
	}

	throttle := service.NewThrottle(state, a.cfg.Sender.MinInterval)
	return service.NewSenderService(consumer, messenger, throttle, service.SenderOptions{
		RateLimitMargin: a.cfg.Sender.RateLimitMargin,
		MaxRetries:      a.cfg.Sender.MaxRetries,
		RetryBackoff:    a.cfg.Sender.RetryBackoff,
	}, a.log.Named("sender")), nil
}

func (a *App) startRetention(repo repository.ReminderRepository) (*cron.RetentionJob, error) {
	job := cron.NewRetentionJob(repo, a.cfg.Scheduler.RetentionInterval, a.cfg.Scheduler.Retention, a.log.Named("retention"))
	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("failed to start fire log retention: %w", err)
	}
	return job, nil
}

// startHealthServer serves GET /healthz until ctx is canceled
func (a *App) startHealthServer(ctx context.Context) {
	if a.cfg.HTTP.Addr == "" {
		return
	}

	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      healthHandler(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
