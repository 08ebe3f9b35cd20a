package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	jobstatus "github.com/yungbote/forge-backend/internal/domain/jobs"
	"github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/observability"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	cfg      Config
	lanes    []*lane
	now      func() time.Time
}

type lane struct {
	Lane
	filter  repos.ClaimFilter
	limiter *rate.Limiter
	wake    chan struct{}
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	dedicated := map[string]struct{}{}
	for _, l := range cfg.Lanes {
		for _, t := range l.JobTypes {
			dedicated[t] = struct{}{}
		}
	}
	for _, l := range cfg.Lanes {
		ln := &lane{Lane: l, wake: make(chan struct{}, 1)}
		if len(l.JobTypes) > 0 {
			ln.filter.Include = append([]string{}, l.JobTypes...)
		} else {
			for t := range dedicated {
				ln.filter.Exclude = append(ln.filter.Exclude, t)
			}
		}
		if l.RatePerSecond > 0 {
			burst := l.Burst
			if burst < 1 {
				burst = 1
			}
			ln.limiter = rate.NewLimiter(rate.Limit(l.RatePerSecond), burst)
		}
		w.lanes = append(w.lanes, ln)
	}
	return w
}

// Wake nudges every lane that could claim jobType. Safe to call from any
// goroutine; never blocks.
func (w *Worker) Wake(jobType string) {
	for _, ln := range w.lanes {
		if !ln.accepts(jobType) {
			continue
		}
		select {
		case ln.wake <- struct{}{}:
		default:
		}
	}
}

func (l *lane) accepts(jobType string) bool {
	if len(l.filter.Include) > 0 {
		for _, t := range l.filter.Include {
			if t == jobType {
				return true
			}
		}
		return false
	}
	for _, t := range l.filter.Exclude {
		if t == jobType {
			return false
		}
	}
	return true
}

// Run polls every lane until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ln := range w.lanes {
		ln := ln
		w.log.Info("Starting job lane", "lane", ln.Name, "concurrency", ln.Concurrency, "rate", ln.RatePerSecond)
		for i := 0; i < ln.Concurrency; i++ {
			slot := i + 1
			g.Go(func() error {
				w.loop(gctx, ln, slot)
				return nil
			})
		}
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, ln *lane, slot int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		// Keep claiming while there is work; sleep only when the lane is empty.
		for {
			if ctx.Err() != nil {
				return
			}
			ran, err := w.runOnce(ctx, ln, w.now())
			if err != nil {
				w.log.Warn("Job claim failed", "lane", ln.Name, "slot", slot, "error", err)
				break
			}
			if !ran {
				break
			}
		}
		select {
		case <-ctx.Done():
			w.log.Info("Job lane stopped", "lane", ln.Name, "slot", slot)
			return
		case <-ticker.C:
		case <-ln.wake:
		}
	}
}

// Drain runs due jobs of any type until none is left or maxJobs have run.
// Jobs due within horizon count as due. Intended for tests and one-shot
// commands.
func (w *Worker) Drain(ctx context.Context, horizon time.Duration, maxJobs int) (int, error) {
	all := &lane{Lane: Lane{Name: "drain"}}
	ran := 0
	for maxJobs <= 0 || ran < maxJobs {
		ok, err := w.runOnce(ctx, all, w.now().Add(horizon))
		if err != nil {
			return ran, err
		}
		if !ok {
			return ran, nil
		}
		ran++
	}
	return ran, nil
}

func (w *Worker) runOnce(ctx context.Context, ln *lane, now time.Time) (bool, error) {
	filter := ln.filter
	filter.Now = now
	filter.StaleRunning = w.cfg.StaleRunning
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, filter)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	if ln.limiter != nil {
		if err := ln.limiter.Wait(ctx); err != nil {
			// Shutting down; hand the job back untouched.
			_ = w.repo.MarkRetry(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, job.ID, "released on shutdown", w.now())
			return false, nil
		}
	}
	w.execute(ctx, ln, job)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, ln *lane, job *types.JobRun) {
	ctx, span := observability.StartSpan(ctx, "job."+job.JobType,
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", job.JobType),
		attribute.String("job.lane", ln.Name),
		attribute.Int("job.attempt", job.Attempts),
	)
	defer span.End()

	// Status writes must land even when the job context is canceled.
	bg := dbctx.Context{Ctx: context.WithoutCancel(ctx)}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		err := &missingHandlerError{JobType: job.JobType}
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		if mErr := w.repo.MarkTerminal(bg, job.ID, jobstatus.JobStatusFailed, err.Error()); mErr != nil {
			w.log.Error("Mark job failed", "job_id", job.ID, "error", mErr)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	stopBeat := w.heartbeat(runCtx, job)
	jc := runtime.NewContext(runCtx, w.db, job, w.log)
	start := time.Now()
	runErr := w.safeRun(h, jc)
	stopBeat()

	log := jc.Log.With("lane", ln.Name, "duration_ms", time.Since(start).Milliseconds())
	switch {
	case runErr == nil:
		var res datatypes.JSON
		if v := jc.Result(); v != nil {
			if b, err := json.Marshal(v); err == nil {
				res = datatypes.JSON(b)
			}
		}
		if err := w.repo.MarkSucceeded(bg, job.ID, res); err != nil {
			log.Error("Mark job succeeded", "error", err)
		}
		log.Debug("Job succeeded")
	case apierr.Permanent(runErr), job.MaxAttempts > 0 && job.Attempts >= job.MaxAttempts:
		status := jobstatus.JobStatusDead
		span.SetStatus(codes.Error, runErr.Error())
		span.RecordError(runErr)
		log.Warn("Job stopped", "status", status, "error", runErr)
		if err := w.repo.MarkTerminal(bg, job.ID, status, runErr.Error()); err != nil {
			log.Error("Mark job terminal", "error", err)
		}
		if dh, ok := h.(runtime.DeadHandler); ok {
			w.safeOnDead(dh, runtime.NewContext(context.WithoutCancel(ctx), w.db, job, w.log), runErr)
		}
	default:
		delay := w.cfg.backoff(job.Attempts)
		span.RecordError(runErr)
		log.Info("Job will retry", "error", runErr, "retry_in", delay.String())
		if err := w.repo.MarkRetry(bg, job.ID, runErr.Error(), w.now().Add(delay)); err != nil {
			log.Error("Mark job retry", "error", err)
		}
	}
}

func (w *Worker) safeRun(h runtime.Handler, jc *runtime.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			jc.Log.Error("Job handler panic", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Run(jc)
}

func (w *Worker) safeOnDead(h runtime.DeadHandler, jc *runtime.Context, cause error) {
	defer func() {
		if r := recover(); r != nil {
			jc.Log.Error("OnDead panic", "panic", r)
		}
	}()
	h.OnDead(jc, cause)
}

func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID); err != nil && !errors.Is(err, context.Canceled) {
					w.log.Warn("Job heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}
