package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/forge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/forge-backend/internal/domain"
	jobstatus "github.com/yungbote/forge-backend/internal/domain/jobs"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

func newJob(jobType, status string, runAfter, created time.Time) *types.JobRun {
	return &types.JobRun{
		JobType:     jobType,
		EntityType:  "workflow_run",
		EntityID:    ptrUUID(uuid.New()),
		Status:      status,
		MaxAttempts: 10,
		RunAfter:    runAfter,
		Payload:     datatypes.JSON([]byte("{}")),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestJobRunRepoClaimOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	queued := newJob("build_wait", jobstatus.JobStatusQueued, now.Add(-3*time.Hour), now.Add(-3*time.Hour))
	later := newJob("build_wait", jobstatus.JobStatusQueued, now.Add(-2*time.Hour), now.Add(-4*time.Hour))
	staleRunning := newJob("build_wait", jobstatus.JobStatusRunning, now.Add(-time.Hour), now.Add(-time.Hour))
	staleRunning.HeartbeatAt = ptrTime(now.Add(-10 * time.Hour))
	future := newJob("build_wait", jobstatus.JobStatusQueued, now.Add(time.Hour), now.Add(-5*time.Hour))
	freshRunning := newJob("build_wait", jobstatus.JobStatusRunning, now.Add(-time.Hour), now.Add(-time.Hour))
	freshRunning.HeartbeatAt = ptrTime(now)

	created, err := repo.Create(dbc, []*types.JobRun{queued, later, staleRunning, future, freshRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("Create: want=5 got=%d", len(created))
	}
	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, later.ID}); err != nil || len(rows) != 2 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	filter := ClaimFilter{Now: now, StaleRunning: time.Hour}
	want := []uuid.UUID{queued.ID, later.ID, staleRunning.ID}
	for i, id := range want {
		got, err := repo.ClaimNextRunnable(dbc, filter)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i, err)
		}
		if got == nil || got.ID != id {
			t.Fatalf("ClaimNextRunnable #%d: want=%v got=%v", i, id, got)
		}
		if got.Status != jobstatus.JobStatusRunning || got.Attempts != 1 {
			t.Fatalf("ClaimNextRunnable #%d: status=%s attempts=%d", i, got.Status, got.Attempts)
		}
	}
	got, err := repo.ClaimNextRunnable(dbc, filter)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (drained): %v", err)
	}
	if got != nil {
		t.Fatalf("ClaimNextRunnable (drained): want nil got %v", got.ID)
	}
}

func TestJobRunRepoClaimFilter(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	start := newJob("build_start", jobstatus.JobStatusQueued, now.Add(-time.Minute), now.Add(-2*time.Minute))
	wait := newJob("build_wait", jobstatus.JobStatusQueued, now.Add(-time.Minute), now.Add(-time.Minute))
	if _, err := repo.Create(dbc, []*types.JobRun{start, wait}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.ClaimNextRunnable(dbc, ClaimFilter{Exclude: []string{"build_start"}, Now: now})
	if err != nil {
		t.Fatalf("claim exclude: %v", err)
	}
	if got == nil || got.ID != wait.ID {
		t.Fatalf("claim exclude: want=%v got=%v", wait.ID, got)
	}
	got, err = repo.ClaimNextRunnable(dbc, ClaimFilter{Include: []string{"build_start"}, Now: now})
	if err != nil {
		t.Fatalf("claim include: %v", err)
	}
	if got == nil || got.ID != start.ID {
		t.Fatalf("claim include: want=%v got=%v", start.ID, got)
	}
}

func TestJobRunRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	job := newJob("build_tail", jobstatus.JobStatusQueued, now.Add(-time.Minute), now.Add(-time.Minute))
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exists, err := repo.ExistsRunnable(dbc, "build_tail", job.EntityType, job.EntityID)
	if err != nil || !exists {
		t.Fatalf("ExistsRunnable: want=true got=%v err=%v", exists, err)
	}
	exists, err = repo.ExistsRunnable(dbc, "build_finalize", job.EntityType, job.EntityID)
	if err != nil || exists {
		t.Fatalf("ExistsRunnable (other type): want=false got=%v err=%v", exists, err)
	}
	if n, err := repo.CountRunnable(dbc, now); err != nil || n != 1 {
		t.Fatalf("CountRunnable: want=1 got=%d err=%v", n, err)
	}

	if _, err := repo.ClaimNextRunnable(dbc, ClaimFilter{Now: now}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Heartbeat(dbc, job.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	retryAt := now.Add(time.Minute)
	if err := repo.MarkRetry(dbc, job.ID, "boom", retryAt); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	rows, err := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: err=%v", err)
	}
	if rows[0].Status != jobstatus.JobStatusQueued || rows[0].Error != "boom" || rows[0].HeartbeatAt != nil {
		t.Fatalf("MarkRetry: status=%s error=%q heartbeat=%v", rows[0].Status, rows[0].Error, rows[0].HeartbeatAt)
	}
	if got, err := repo.ClaimNextRunnable(dbc, ClaimFilter{Now: now}); err != nil || got != nil {
		t.Fatalf("claim before run_after: want nil got=%v err=%v", got, err)
	}

	if err := repo.MarkSucceeded(dbc, job.ID, datatypes.JSON([]byte(`{"ok":true}`))); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{jobstatus.JobStatusSucceeded}, map[string]interface{}{"error": "late"})
	if err != nil || ok {
		t.Fatalf("UpdateFieldsUnlessStatus: want=false got=%v err=%v", ok, err)
	}

	n, err := repo.PurgeFinishedBefore(dbc, now.Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("PurgeFinishedBefore (recent): want=0 got=%d err=%v", n, err)
	}
	n, err = repo.PurgeFinishedBefore(dbc, time.Now().UTC().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeFinishedBefore: want=1 got=%d err=%v", n, err)
	}
}

func TestJobRunRepoMarkTerminal(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	job := newJob("build_start", jobstatus.JobStatusRunning, now, now)
	if _, err := repo.Create(dbc, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.MarkTerminal(dbc, job.ID, jobstatus.JobStatusDead, "gave up"); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}
	rows, err := repo.GetByIDs(dbc, []uuid.UUID{job.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetByIDs: err=%v", err)
	}
	if rows[0].Status != jobstatus.JobStatusDead || rows[0].FinishedAt == nil {
		t.Fatalf("MarkTerminal: status=%s finished=%v", rows[0].Status, rows[0].FinishedAt)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrUUID(u uuid.UUID) *uuid.UUID { return &u }
