package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/db"
	"github.com/yungbote/forge-backend/internal/data/repos"
	forgehttp "github.com/yungbote/forge-backend/internal/http"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	jobrt "github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/jobs/scheduler"
	"github.com/yungbote/forge-backend/internal/jobs/worker"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/observability"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
	"github.com/yungbote/forge-backend/internal/platform/secretbox"
)

type App struct {
	Log       *logger.Logger
	DB        *gorm.DB
	Cfg       Config
	Repos     *repos.Repos
	Build     build.Usecases
	Services  Services
	Queue     *queue.Service
	Worker    *worker.Worker
	Scheduler *scheduler.Scheduler
	Server    *forgehttp.Server

	dbService    *db.Service
	closers      []func() error
	otelShutdown func(context.Context) error
}

// New connects the store, object storage and build provider and wires every
// layer on top of them. Nothing runs until Serve or RunWorkers is called.
func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	dbService, err := db.NewService(log, cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.dbService = dbService
	a.DB = dbService.DB()
	a.closers = append(a.closers, dbService.Close)
	if cfg.AutoMigrate {
		if err := migrate(a.DB); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Repos = repos.New(a.DB, log)
	a.Queue = queue.New(a.DB, log, a.Repos.Jobs)

	bucket, err := resolveBucketService(ctx, log, cfg, true)
	if err != nil {
		a.Close()
		return nil, err
	}
	box, err := secretbox.New(cfg.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init secretbox (ENCRYPTION_KEY): %w", err)
	}
	locker, closeLocker, err := resolveLocker(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeLocker != nil {
		a.closers = append(a.closers, closeLocker)
	}
	adapter := resolveProvider(ctx, log, cfg)

	a.Build = build.New(build.UsecasesDeps{
		DB:        a.DB,
		Log:       log,
		Workflows: a.Repos.Workflows,
		Versions:  a.Repos.Versions,
		Runs:      a.Repos.Runs,
		Steps:     a.Repos.RunSteps,
		Outputs:   a.Repos.RunOutputs,
		Artifacts: a.Repos.Artifacts,
		Monitors:  a.Repos.Monitors,
		JobRuns:   a.Repos.Jobs,
		Queue:     a.Queue,
		Bucket:    bucket,
		Provider:  adapter,
		Secrets:   box,
		Locker:    locker,
		Limits:    cfg.Limits,
	})
	a.Services = wireServices(a.DB, log, a.Repos, adapter, a.Build)

	registry := jobrt.NewRegistry()
	if err := pipeline.Register(registry, log, a.Build); err != nil {
		a.Close()
		return nil, fmt.Errorf("register job handlers: %w", err)
	}
	a.Worker = worker.NewWorker(a.DB, log, a.Repos.Jobs, registry, cfg.Worker)
	a.Queue.OnEnqueue(a.Worker.Wake)

	a.Scheduler = scheduler.New(log, a.Queue, a.Repos.Jobs)
	if err := a.Scheduler.Every(cfg.SweepSchedule, build.JobWorkflowSweep); err != nil {
		a.Close()
		return nil, err
	}

	a.Server = forgehttp.NewServer(wireRouter(log, cfg, a.Services, a.pingDB))
	return a, nil
}

func (a *App) pingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates the schema without wiring anything else.
func Migrate(log *logger.Logger, cfg Config) error {
	dbService, err := db.NewService(log, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer dbService.Close()
	return migrate(dbService.DB())
}

func migrate(gdb *gorm.DB) error {
	if err := db.AutoMigrateAll(gdb); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

// Sweep runs one retention pass inline, outside the job queue.
func (a *App) Sweep(ctx context.Context) (build.SweepResult, error) {
	return a.Build.Sweep(dbctx.Context{Ctx: ctx})
}

// RunWorkers processes jobs and fires scheduled sweeps until ctx is done.
// On Postgres, a LISTEN connection wakes idle lanes as soon as another
// process enqueues.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Worker.Run(ctx) })
	if a.dbService.Driver() == db.DriverPostgres {
		listener := db.NewListener(a.Log, a.dbService.DSN(), db.JobsChannel)
		g.Go(func() error {
			err := listener.Run(ctx, a.Worker.Wake)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	a.Scheduler.Start()
	defer a.Scheduler.Stop()
	a.Log.Info("Workers started", "lanes", len(a.Cfg.Worker.Lanes))
	return g.Wait()
}

// Serve runs the HTTP API alongside the workers.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunWorkers(ctx) })
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return a.Server.Run(ctx, a.Cfg.HTTPAddr)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("Tracer shutdown failed", "error", err)
		}
		a.otelShutdown = nil
	}
	a.Log.Sync()
}
