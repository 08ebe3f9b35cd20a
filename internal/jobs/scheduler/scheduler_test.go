package scheduler

import (
	"context"
	"testing"

	"github.com/yungbote/forge-backend/internal/data/repos/jobs"
	"github.com/yungbote/forge-backend/internal/data/repos/testutil"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
)

func TestTickSkipsWhilePending(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := jobs.NewJobRunRepo(db, log)
	s := New(log, queue.New(db, log, repo), repo)

	ctx := context.Background()
	if !s.Tick(ctx, "workflow_sweep") {
		t.Fatalf("first tick: want enqueue")
	}
	if s.Tick(ctx, "workflow_sweep") {
		t.Fatalf("second tick: want skip while pending")
	}
	if !s.Tick(ctx, "other") {
		t.Fatalf("other type: want enqueue")
	}
}

func TestEveryRejectsBadSpec(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := jobs.NewJobRunRepo(db, log)
	s := New(log, queue.New(db, log, repo), repo)
	if err := s.Every("every other tuesday", "workflow_sweep"); err == nil {
		t.Fatalf("expected error")
	}
	if err := s.Every("@hourly", "workflow_sweep"); err != nil {
		t.Fatalf("Every: %v", err)
	}
}
