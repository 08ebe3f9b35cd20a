package build_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/forge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/modules/build/buildtest"
)

func count(t *testing.T, h *buildtest.Harness, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := h.DB.Model(model).Where(where, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWorkflowDeleteCascadesAcrossPages(t *testing.T) {
	clock := time.Now().UTC()
	h := buildtest.New(t, func(d *build.UsecasesDeps) {
		d.Now = func() time.Time { return clock }
	})
	pr := testutil.SeedProvider(t, h.Ctx, h.DB)
	w := testutil.SeedWorkflow(t, h.Ctx, h.DB, uuid.New(), "big", pr.ID)
	v := testutil.SeedVersion(t, h.Ctx, h.DB, w, "compile")

	for i := 0; i < 150; i++ {
		run := testutil.SeedRun(t, h.Ctx, h.DB, w, v, forge.RunStatusSucceeded)
		for j := 0; j < 2; j++ {
			a := testutil.SeedArtifact(t, h.Ctx, h.DB, run, "out.bin", forge.ArtifactTypeOutput)
			if err := h.Bucket.Put(h.Ctx, a.Bucket, a.StorageKey, strings.NewReader("x"), ""); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
		if i == 0 {
			step := &types.RunStep{RunID: run.ID, Type: forge.RunStepTypeSetup, Name: "Setup", Status: forge.StepStatusSucceeded}
			if err := h.Repos.RunSteps.CreateBatch(h.DBC, []*types.RunStep{step}); err != nil {
				t.Fatalf("CreateBatch: %v", err)
			}
			key := build.OutputKey(run.ID, step.ID)
			if err := h.Bucket.Put(h.Ctx, buildtest.LogBucket, key, strings.NewReader("log"), ""); err != nil {
				t.Fatalf("put log: %v", err)
			}
			if err := h.Repos.RunSteps.SetOutputPointer(h.DBC, step.ID, buildtest.LogBucket, key); err != nil {
				t.Fatalf("SetOutputPointer: %v", err)
			}
		}
	}

	ok, err := h.Build.BeginWorkflowDelete(h.DBC, w)
	if err != nil || !ok {
		t.Fatalf("BeginWorkflowDelete: ok=%v err=%v", ok, err)
	}
	again, err := h.Build.BeginWorkflowDelete(h.DBC, w)
	if err != nil || again {
		t.Fatalf("BeginWorkflowDelete again: want=false got=%v err=%v", again, err)
	}

	h.Drain(t)

	if n := count(t, h, &types.WorkflowRun{}, "workflow_id = ?", w.ID); n != 0 {
		t.Fatalf("runs left: %d", n)
	}
	if n := count(t, h, &types.Artifact{}, "workflow_id = ?", w.ID); n != 0 {
		t.Fatalf("artifacts left: %d", n)
	}
	if n := count(t, h, &types.RunStep{}, "1 = 1"); n != 0 {
		t.Fatalf("steps left: %d", n)
	}
	if keys := h.Bucket.Keys(); len(keys) != 0 {
		t.Fatalf("objects left: %v", keys)
	}
	if n := count(t, h, &types.JobRun{}, "job_type = ?", build.JobWorkflowRunsDelete); n != 3 {
		t.Fatalf("run page jobs: want=3 got=%d", n)
	}

	got, err := h.Repos.Workflows.GetByID(h.DBC, w.ID)
	if err != nil || got == nil {
		t.Fatalf("workflow must survive until swept: %v", err)
	}
	if got.Status != forge.WorkflowStatusDeleted || got.DeletedAt == nil {
		t.Fatalf("workflow: want deleted got=%s", got.Status)
	}

	res, err := h.Build.Sweep(h.DBC)
	if err != nil || res.Workflows != 0 {
		t.Fatalf("Sweep inside retention: want 0 workflows got=%+v err=%v", res, err)
	}

	clock = clock.Add(8 * 24 * time.Hour)
	res, err = h.Build.Sweep(h.DBC)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Workflows != 1 || res.Jobs == 0 {
		t.Fatalf("Sweep: want 1 workflow and purged jobs got=%+v", res)
	}
	if got, _ := h.Repos.Workflows.GetByID(h.DBC, w.ID); got != nil {
		t.Fatalf("workflow still present after sweep")
	}
	if n := count(t, h, &types.WorkflowVersion{}, "workflow_id = ?", w.ID); n != 0 {
		t.Fatalf("versions left: %d", n)
	}
	if n := count(t, h, &types.VersionStep{}, "version_id = ?", v.ID); n != 0 {
		t.Fatalf("version steps left: %d", n)
	}
}

func TestDeleteStorageObjectRequiresKey(t *testing.T) {
	h := buildtest.New(t)
	if err := h.Build.DeleteStorageObject(h.DBC, build.ObjectPayload{Bucket: "b"}); err == nil {
		t.Fatalf("DeleteStorageObject: want error for missing key")
	}
}

func TestDeleteRunIsIdempotent(t *testing.T) {
	h := buildtest.New(t)
	if err := h.Build.DeleteRun(h.DBC, uuid.New()); err != nil {
		t.Fatalf("DeleteRun missing: %v", err)
	}
	if err := h.Build.DeleteArtifact(h.DBC, uuid.New()); err != nil {
		t.Fatalf("DeleteArtifact missing: %v", err)
	}
}

func TestWorkflowDeleteCatchesLateUploads(t *testing.T) {
	f := newFixture(t)
	prior := f.createRun(t, nil)
	uploadVersion(t, f, prior.Artifacts[0])
	if err := f.h.DB.Where("job_type = ?", build.JobBuildStart).Delete(&types.JobRun{}).Error; err != nil {
		t.Fatalf("clear jobs: %v", err)
	}
	run := f.createRun(t, nil)
	if _, err := f.h.Worker.Drain(f.h.Ctx, time.Hour, 1); err != nil {
		t.Fatalf("drain start: %v", err)
	}
	var target forge.UploadTarget
	for _, tgt := range f.monitor(t, run.ID).Mappings() {
		target = tgt
	}
	if target.StorageKey == "" {
		t.Fatalf("no upload mapping recorded")
	}
	if err := f.h.Bucket.Put(f.h.Ctx, target.Bucket, target.StorageKey, strings.NewReader("tarball"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	var publish *types.RunStep
	for _, s := range f.reload(t, run.ID).Steps {
		if s.Name == "Step: publish" {
			publish = s
		}
	}

	ok, err := f.h.Build.BeginWorkflowDelete(f.h.DBC, f.workflow(t))
	if err != nil || !ok {
		t.Fatalf("BeginWorkflowDelete: ok=%v err=%v", ok, err)
	}

	// The artifact pages have already drained when the upload is reconciled.
	if err := f.h.Build.MaterializeArtifact(f.h.DBC, build.MaterializePayload{
		RunID: run.ID, StepID: publish.ID, Bucket: target.Bucket, StorageKey: target.StorageKey,
	}); err != nil {
		t.Fatalf("MaterializeArtifact: %v", err)
	}
	if n := count(t, f.h, &types.Artifact{}, "storage_key = ?", target.StorageKey); n != 0 {
		t.Fatalf("late upload recorded: want=0 got=%d", n)
	}

	// A row confirmed just before the delete is still owned by its run.
	late := testutil.SeedArtifact(t, f.h.Ctx, f.h.DB, run, "late.bin", forge.ArtifactTypeOutput)
	if err := f.h.Bucket.Put(f.h.Ctx, late.Bucket, late.StorageKey, strings.NewReader("x"), ""); err != nil {
		t.Fatalf("put late: %v", err)
	}
	if err := f.h.Build.DeleteRun(f.h.DBC, run.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if n := count(t, f.h, &types.Artifact{}, "run_id = ?", run.ID); n != 0 {
		t.Fatalf("run artifacts left after DeleteRun: %d", n)
	}

	f.h.Drain(t)

	if n := count(t, f.h, &types.WorkflowRun{}, "workflow_id = ?", f.w.ID); n != 0 {
		t.Fatalf("runs left: %d", n)
	}
	if n := count(t, f.h, &types.Artifact{}, "workflow_id = ?", f.w.ID); n != 0 {
		t.Fatalf("artifacts left: %d", n)
	}
	if keys := f.h.Bucket.Keys(); len(keys) != 0 {
		t.Fatalf("objects left: %v", keys)
	}
}
