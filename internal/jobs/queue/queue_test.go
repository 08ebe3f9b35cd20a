package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/forge-backend/internal/data/repos/jobs"
	"github.com/yungbote/forge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/platform/ctxutil"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

func TestEnqueueStampsTraceAndWakes(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := New(db, log, jobs.NewJobRunRepo(db, log))

	var woken []string
	q.OnEnqueue(func(jobType string) { woken = append(woken, jobType) })

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "tr", RequestID: "rq"})
	before := time.Now().UTC()
	job, err := q.Enqueue(dbctx.Context{Ctx: ctx}, Request{
		JobType: "build_wait",
		Payload: map[string]any{"seq": 2},
		Delay:   time.Minute,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["trace_id"] != "tr" || payload["request_id"] != "rq" {
		t.Fatalf("payload trace: got=%v", payload)
	}
	if job.RunAfter.Before(before.Add(59 * time.Second)) {
		t.Fatalf("run_after: want >= now+1m got=%v", job.RunAfter)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("max_attempts: want=%d got=%d", DefaultMaxAttempts, job.MaxAttempts)
	}
	if len(woken) != 1 || woken[0] != "build_wait" {
		t.Fatalf("wake: got=%v", woken)
	}
}

func TestEnqueueFromJobRecordsParent(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := New(db, log, jobs.NewJobRunRepo(db, log))

	ctx := ctxutil.WithJobData(context.Background(), &ctxutil.JobData{JobID: "job-1", JobType: "build_tail", Attempt: 1})
	job, err := q.Enqueue(dbctx.Context{Ctx: ctx}, Request{
		JobType: "build_finalize",
		Payload: map[string]any{"seq": 4, "parent_job_id": "kept"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["parent_job_id"] != "kept" {
		t.Fatalf("parent_job_id: want=%q got=%v", "kept", payload["parent_job_id"])
	}

	job, err = q.Enqueue(dbctx.Context{Ctx: ctx}, Request{JobType: "build_finalize", Payload: map[string]any{"seq": 5}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["parent_job_id"] != "job-1" {
		t.Fatalf("parent_job_id: want=%q got=%v", "job-1", payload["parent_job_id"])
	}
	if _, ok := payload["trace_id"]; ok {
		t.Fatalf("trace_id: want absent got=%v", payload["trace_id"])
	}
}

func TestEnqueueRollsBackWithCaller(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := New(db, log, jobs.NewJobRunRepo(db, log))

	ctx := context.Background()
	errAbort := errors.New("abort")
	err := dbctx.Context{Ctx: ctx}.InTx(db, func(dbc dbctx.Context) error {
		if _, err := q.EnqueueMany(dbc, []Request{{JobType: "a"}, {JobType: "b"}}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("InTx: want abort got=%v", err)
	}
	var n int64
	db.Model(&types.JobRun{}).Count(&n)
	if n != 0 {
		t.Fatalf("jobs after rollback: want=0 got=%d", n)
	}
}

func TestEnqueueRejectsEmptyType(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	q := New(db, log, jobs.NewJobRunRepo(db, log))
	if _, err := q.Enqueue(dbctx.Context{Ctx: context.Background()}, Request{}); err == nil {
		t.Fatalf("expected error")
	}
}
