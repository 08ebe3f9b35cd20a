package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/db"
	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	jobstatus "github.com/yungbote/forge-backend/internal/domain/jobs"
	"github.com/yungbote/forge-backend/internal/platform/ctxutil"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

const DefaultMaxAttempts = 10

// Request describes one job to persist. Payload is marshaled to JSON.
type Request struct {
	JobType     string
	EntityType  string
	EntityID    *uuid.UUID
	Payload     any
	Delay       time.Duration
	RunAfter    time.Time
	MaxAttempts int
}

// Queue persists jobs inside the caller's transaction, so a job becomes
// visible to workers only when the enqueuing work commits.
type Queue interface {
	Enqueue(dbc dbctx.Context, req Request) (*types.JobRun, error)
	EnqueueMany(dbc dbctx.Context, reqs []Request) ([]*types.JobRun, error)
}

type Service struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.JobRunRepo

	mu       sync.RWMutex
	wakers   []func(jobType string)
	notifyPG bool
}

func New(gdb *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo) *Service {
	return &Service{
		db:       gdb,
		log:      baseLog.With("service", "JobQueue"),
		repo:     repo,
		notifyPG: gdb != nil && gdb.Dialector.Name() == "postgres",
	}
}

// OnEnqueue registers an in-process wake callback. Callbacks may fire
// before the enqueuing transaction commits; a woken worker that finds
// nothing simply polls again.
func (s *Service) OnEnqueue(fn func(jobType string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.wakers = append(s.wakers, fn)
	s.mu.Unlock()
}

func (s *Service) Enqueue(dbc dbctx.Context, req Request) (*types.JobRun, error) {
	out, err := s.EnqueueMany(dbc, []Request{req})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *Service) EnqueueMany(dbc dbctx.Context, reqs []Request) ([]*types.JobRun, error) {
	if len(reqs) == 0 {
		return []*types.JobRun{}, nil
	}
	now := time.Now().UTC()
	jobs := make([]*types.JobRun, 0, len(reqs))
	pending := map[string]struct{}{}
	for _, req := range reqs {
		job, err := s.build(dbc, req, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		pending[job.JobType] = struct{}{}
	}
	err := dbc.InTx(s.db, func(dbc dbctx.Context) error {
		if _, err := s.repo.Create(dbc, jobs); err != nil {
			return fmt.Errorf("create jobs: %w", err)
		}
		if !s.notifyPG {
			return nil
		}
		for jobType := range pending {
			// Delivered by Postgres on commit.
			if err := dbc.DB(s.db).Exec("SELECT pg_notify(?, ?)", db.JobsChannel, jobType).Error; err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.wake(pending)
	return jobs, nil
}

func (s *Service) build(dbc dbctx.Context, req Request, now time.Time) (*types.JobRun, error) {
	jobType := strings.TrimSpace(req.JobType)
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	payload, err := encodePayload(dbc, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
	}
	runAfter := req.RunAfter
	if runAfter.IsZero() {
		runAfter = now.Add(req.Delay)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &types.JobRun{
		JobType:     jobType,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Status:      jobstatus.JobStatusQueued,
		MaxAttempts: maxAttempts,
		RunAfter:    runAfter.UTC(),
		Payload:     payload,
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// encodePayload marshals the payload and stamps the caller's trace ids into
// object payloads so the worker can restore them. A job enqueued from inside
// another job also records that job as its parent.
func encodePayload(dbc dbctx.Context, payload any) (datatypes.JSON, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if dbc.Ctx == nil {
		return datatypes.JSON(b), nil
	}
	stamps := map[string]string{}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			stamps["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			stamps["request_id"] = td.RequestID
		}
	}
	if jd := ctxutil.GetJobData(dbc.Ctx); jd != nil && jd.JobID != "" {
		stamps["parent_job_id"] = jd.JobID
	}
	if len(stamps) == 0 {
		return datatypes.JSON(b), nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return datatypes.JSON(b), nil
	}
	for k, v := range stamps {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	if b, err = json.Marshal(m); err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (s *Service) wake(jobTypes map[string]struct{}) {
	s.mu.RLock()
	wakers := append([]func(string){}, s.wakers...)
	s.mu.RUnlock()
	for jobType := range jobTypes {
		for _, fn := range wakers {
			fn(jobType)
		}
	}
}
