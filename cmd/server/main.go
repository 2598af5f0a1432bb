package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	appchores "github.com/markflow/markflow/internal/app/chores"
	"github.com/markflow/markflow/internal/app/ingestion"
	"github.com/markflow/markflow/internal/app/orchestration"
	"github.com/markflow/markflow/internal/config"
	"github.com/markflow/markflow/internal/domain/chores"
	"github.com/markflow/markflow/internal/domain/events"
	"github.com/markflow/markflow/internal/infra/artifacts"
	"github.com/markflow/markflow/internal/infra/assembly"
	"github.com/markflow/markflow/internal/infra/eventbus"
	"github.com/markflow/markflow/internal/infra/eventbus/kafka"
	"github.com/markflow/markflow/internal/infra/eventbus/memory"
	"github.com/markflow/markflow/internal/infra/intake"
	"github.com/markflow/markflow/internal/infra/jobrunner"
	"github.com/markflow/markflow/internal/infra/storage"
	"github.com/markflow/markflow/internal/infra/storage/postgres"
	"github.com/markflow/markflow/pkg/common"
	"github.com/markflow/markflow/pkg/common/logger"
	"github.com/markflow/markflow/pkg/common/otel"
)

const serviceType = "server"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}
	svcName := fmt.Sprintf("MARKFLOW-%s", hostname)

	logg := logger.New(svcName, logger.Options{
		Level:  logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		JSON:   true,
		Output: os.Stdout,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("MARKFLOW_CONFIG"))
	if err != nil {
		logg.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}
	paperSet, err := config.LoadBlueprint(cfg.Blueprint.Path)
	if err != nil {
		logg.Error(ctx, "failed to load blueprint", "error", err)
		os.Exit(1)
	}

	var tracer trace.Tracer
	if cfg.Telemetry.Enabled {
		tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
			ServiceName:      cfg.Telemetry.ServiceName,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/health":    {},
				"/v1/readiness": {},
			},
			Probability: cfg.Telemetry.SamplingRatio,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"hostname":         hostname,
				"app":              serviceType,
			},
		})
		if err != nil {
			logg.Error(ctx, "failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer telemetryTeardown(ctx)
		tracer = tp.Tracer(cfg.Telemetry.ServiceName)
	} else {
		tracer = noop.NewTracerProvider().Tracer(serviceType)
	}

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			logg.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		logg.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		logg.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "Migrations applied")

	paperStore := postgres.NewPaperStore(pool, tracer)
	bundleStore := postgres.NewBundleStore(pool, tracer)
	pageStore := postgres.NewPageStore(pool, tracer)
	taskStore := postgres.NewTaskStore(pool, tracer)
	choreStore := postgres.NewChoreStore(pool, tracer)
	uow := storage.NewPgxUnitOfWork(pool)

	var bus events.EventBus
	if cfg.Kafka.Enabled {
		busMetrics, err := eventbus.NewBusMetrics(otel.GetMeterProvider())
		if err != nil {
			logg.Error(ctx, "failed to create bus metrics", "error", err)
			os.Exit(1)
		}
		bus, err = kafka.ConnectWithRetry(&kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			BundleTopic: cfg.Kafka.BundleTopic,
			TaskTopic:   cfg.Kafka.TaskTopic,
			ChoreTopic:  cfg.Kafka.ChoreTopic,
			GroupID:     cfg.Kafka.GroupID,
			ClientID:    svcName,
		}, logg, busMetrics, tracer)
		if err != nil {
			logg.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}
	} else {
		bus = memory.NewBroker()
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logg.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()
	publisher := eventbus.NewDomainEventPublisher(bus)

	finalized, err := paperStore.Finalized(ctx)
	if err != nil {
		logg.Error(ctx, "failed to check paper set state", "error", err)
		os.Exit(1)
	}
	if !finalized {
		if err := paperStore.CreatePaperSet(ctx, paperSet.Blueprint, paperSet.PaperNumbers, paperSet.Versions); err != nil {
			logg.Error(ctx, "failed to create paper set", "error", err)
			os.Exit(1)
		}
		logg.Info(ctx, "Paper set created", "papers", len(paperSet.PaperNumbers))
	}

	artifactStore, err := artifacts.NewFileStore(cfg.Artifacts.Dir)
	if err != nil {
		logg.Error(ctx, "failed to create artifact store", "error", err)
		os.Exit(1)
	}

	limiter := common.NewRateLimiter(cfg.Runner.RatePerSecond, cfg.Runner.Burst)
	runner := jobrunner.NewRunner(cfg.Runner.Workers, cfg.Runner.QueueSize, cfg.Runner.MaxRetries, limiter, logg)

	assembler := assembly.NewAssembler(paperSet.Blueprint, paperSet.PaperNumbers, pageStore, artifactStore, logg)
	runner.RegisterHandler(chores.ChoreKindReassembly, assembler.Reassemble)
	runner.RegisterHandler(chores.ChoreKindSolution, assembler.Solutions)
	runner.RegisterHandler(chores.ChoreKindReport, assembler.Report)

	choreSvc := appchores.NewChoreService(uow, choreStore, runner, artifactStore, publisher, logg, tracer)
	runner.OnStart(func(ctx context.Context, jobID uuid.UUID) {
		if err := choreSvc.OnJobStarted(ctx, jobID); err != nil {
			logg.Error(ctx, "Job start notification failed", "job_id", jobID, "error", err)
		}
	})
	runner.OnDone(func(ctx context.Context, result chores.JobResult) {
		if err := choreSvc.OnJobDone(ctx, result); err != nil {
			logg.Error(ctx, "Job completion handling failed", "job_id", result.JobID, "error", err)
		}
	})
	runner.Start(ctx)
	defer runner.Stop()

	scheduler := orchestration.NewScheduler(choreSvc, choreStore, pageStore, logg)
	if err := scheduler.Register(ctx, bus); err != nil {
		logg.Error(ctx, "failed to register chore scheduler", "error", err)
		os.Exit(1)
	}

	pushSvc := ingestion.NewBundlePushService(
		paperSet.Blueprint, uow, paperStore, bundleStore, pageStore, taskStore, publisher, logg, tracer)
	watcher, err := intake.NewWatcher(cfg.Intake.Dir, pushSvc, logg)
	if err != nil {
		logg.Error(ctx, "failed to create intake watcher", "error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "Server initialized", "intake_dir", cfg.Intake.Dir, "kafka", cfg.Kafka.Enabled)
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logg.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := runner.Await(shutdownCtx); err != nil {
			logg.Warn(shutdownCtx, "In-flight jobs did not drain before shutdown", "error", err)
		}
	case err := <-errCh:
		logg.Error(ctx, "Intake watcher error", "error", err)
		os.Exit(1)
	}
}

// runMigrations applies all up migrations from db/migrations over a stdlib
// handle borrowed from the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
