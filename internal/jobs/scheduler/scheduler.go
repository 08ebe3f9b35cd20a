package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron"

	"github.com/yungbote/forge-backend/internal/data/repos"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

// Scheduler enqueues periodic jobs. A tick is skipped while a job of the
// same type is still queued or running, so several instances can run a
// scheduler without piling up duplicates.
type Scheduler struct {
	log  *logger.Logger
	cron *cron.Cron
	q    queue.Queue
	jobs repos.JobRunRepo
}

func New(baseLog *logger.Logger, q queue.Queue, jobs repos.JobRunRepo) *Scheduler {
	return &Scheduler{
		log:  baseLog.With("component", "Scheduler"),
		cron: cron.New(),
		q:    q,
		jobs: jobs,
	}
}

// Every registers jobType on a cron spec such as "@hourly".
func (s *Scheduler) Every(spec, jobType string) error {
	if err := s.cron.AddFunc(spec, func() { s.Tick(context.Background(), jobType) }); err != nil {
		return fmt.Errorf("schedule %s: %w", jobType, err)
	}
	return nil
}

// Tick enqueues jobType now unless one is already pending.
func (s *Scheduler) Tick(ctx context.Context, jobType string) bool {
	dbc := dbctx.Context{Ctx: ctx}
	pending, err := s.jobs.ExistsRunnable(dbc, jobType, "", nil)
	if err != nil {
		s.log.Warn("Scheduled job lookup failed", "job_type", jobType, "error", err)
		return false
	}
	if pending {
		s.log.Debug("Scheduled job still pending", "job_type", jobType)
		return false
	}
	if _, err := s.q.Enqueue(dbc, queue.Request{JobType: jobType, MaxAttempts: 3}); err != nil {
		s.log.Warn("Scheduled enqueue failed", "job_type", jobType, "error", err)
		return false
	}
	s.log.Info("Scheduled job enqueued", "job_type", jobType)
	return true
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { s.cron.Stop() }
