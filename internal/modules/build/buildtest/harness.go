package buildtest

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	"github.com/yungbote/forge-backend/internal/data/repos/testutil"
	"github.com/yungbote/forge-backend/internal/jobs/pipeline"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/jobs/runtime"
	"github.com/yungbote/forge-backend/internal/jobs/worker"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/lock"
	"github.com/yungbote/forge-backend/internal/platform/logger"
	"github.com/yungbote/forge-backend/internal/platform/secretbox"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

// Harness is a fully wired build engine over a private test database.
type Harness struct {
	Ctx      context.Context
	DBC      dbctx.Context
	DB       *gorm.DB
	Log      *logger.Logger
	Repos    *repos.Repos
	Queue    *queue.Service
	Worker   *worker.Worker
	Build    build.Usecases
	Provider *FakeProvider
	Bucket   *MemBucket
	Secrets  *secretbox.Box
}

// New wires the harness. mutate may adjust the engine dependencies before
// the engine is built.
func New(t testing.TB, mutate ...func(*build.UsecasesDeps)) *Harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	rs := repos.New(db, log)
	q := queue.New(db, log, rs.Jobs)
	box, err := secretbox.New(testMasterKey)
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}
	h := &Harness{
		Ctx:      context.Background(),
		DB:       db,
		Log:      log,
		Repos:    rs,
		Queue:    q,
		Provider: &FakeProvider{},
		Bucket:   NewMemBucket(),
		Secrets:  box,
	}
	h.DBC = dbctx.Context{Ctx: h.Ctx}

	deps := build.UsecasesDeps{
		DB:        db,
		Log:       log,
		Workflows: rs.Workflows,
		Versions:  rs.Versions,
		Runs:      rs.Runs,
		Steps:     rs.RunSteps,
		Outputs:   rs.RunOutputs,
		Artifacts: rs.Artifacts,
		Monitors:  rs.Monitors,
		JobRuns:   rs.Jobs,
		Queue:     q,
		Bucket:    h.Bucket,
		Provider:  h.Provider,
		Secrets:   box,
		Locker:    lock.NewLocal(),
		Limits:    build.DefaultLimits(),
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.Build = build.New(deps)

	reg := runtime.NewRegistry()
	if err := pipeline.Register(reg, log, h.Build); err != nil {
		t.Fatalf("register pipelines: %v", err)
	}
	h.Worker = worker.NewWorker(db, log, rs.Jobs, reg, worker.Config{
		HeartbeatInterval: time.Hour,
		RetryBase:         time.Millisecond,
		RetryMax:          time.Millisecond,
	})
	return h
}

// Drain runs every job due within the next day, delayed ones included.
func (h *Harness) Drain(t testing.TB) int {
	t.Helper()
	n, err := h.Worker.Drain(h.Ctx, 24*time.Hour, 5000)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	return n
}
