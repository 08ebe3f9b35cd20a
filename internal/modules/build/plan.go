package build

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/jobs/queue"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/archive"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/ids"
)

const (
	InputArtifactName = "input.zip"
	SetupStepName     = "Setup Build Environment"
	TeardownStepName  = "Teardown Build Environment"
)

// PlanRunSteps expands version steps into run steps: setup, every init,
// every action, every cleanup, teardown. Indices follow that order.
func PlanRunSteps(runID uuid.UUID, versionSteps []*types.VersionStep) []*types.RunStep {
	ordered := make([]*types.VersionStep, len(versionSteps))
	copy(ordered, versionSteps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var out []*types.RunStep
	add := func(typ forge.RunStepType, name string, vs *types.VersionStep) {
		s := &types.RunStep{
			ID:     ids.New(),
			RunID:  runID,
			Type:   typ,
			Name:   name,
			Status: forge.StepStatusPending,
			Index:  len(out),
		}
		if vs != nil {
			vsID := vs.ID
			s.VersionStepID = &vsID
			s.VersionStep = vs
		}
		out = append(out, s)
	}

	add(forge.RunStepTypeSetup, SetupStepName, nil)
	for _, vs := range ordered {
		if len(vs.InitScript) > 0 {
			add(forge.RunStepTypeInit, fmt.Sprintf("Step: %s (setup)", vs.Name), vs)
		}
	}
	for _, vs := range ordered {
		add(forge.RunStepTypeAction, fmt.Sprintf("Step: %s", vs.Name), vs)
	}
	for _, vs := range ordered {
		if len(vs.CleanupScript) > 0 {
			add(forge.RunStepTypeCleanup, fmt.Sprintf("Step: %s (cleanup)", vs.Name), vs)
		}
	}
	add(forge.RunStepTypeTeardown, TeardownStepName, nil)
	return out
}

type CreateRunInput struct {
	Env   map[string]string
	Files []archive.File
}

// CreateRun plans a run of the workflow's current version and schedules its
// build. The run pins the version it was planned from.
func (u Usecases) CreateRun(dbc dbctx.Context, w *types.Workflow, in CreateRunInput) (*types.WorkflowRun, error) {
	if w == nil {
		return nil, apierr.NotFound("workflow not found")
	}
	if w.CurrentVersionID == nil {
		return nil, apierr.InvalidState("workflow %s has no current version", w.Identifier)
	}
	if u.deps.Secrets == nil {
		return nil, fmt.Errorf("build: env sealer not configured")
	}
	version, err := u.deps.Versions.GetByIDWithSteps(dbc, *w.CurrentVersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, apierr.InvalidState("workflow %s has no current version", w.Identifier)
	}

	runID := ids.New()
	bundle, err := archive.Zip(in.Files)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	input, err := u.broker.PutObject(dbc.Ctx, runID, bundle, "application/zip")
	if err != nil {
		return nil, err
	}
	sealed, err := u.deps.Secrets.EncryptEnv(runID.String(), in.Env)
	if err != nil {
		return nil, fmt.Errorf("seal run env: %w", err)
	}

	run := &types.WorkflowRun{
		ID:                            runID,
		WorkflowID:                    w.ID,
		VersionID:                     version.ID,
		ProviderID:                    version.ProviderID,
		Status:                        forge.RunStatusPending,
		EncryptedEnvironmentVariables: sealed,
	}
	steps := PlanRunSteps(runID, version.Steps)
	now := u.now()

	err = dbc.InTx(u.deps.DB, func(dbc dbctx.Context) error {
		if err := u.deps.Runs.Create(dbc, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		if err := u.deps.Steps.CreateBatch(dbc, steps); err != nil {
			return fmt.Errorf("create run steps: %w", err)
		}
		if _, _, err := u.broker.ConfirmUpload(dbc, run, InputArtifactName, forge.ArtifactTypeInput, input); err != nil {
			return fmt.Errorf("record input artifact: %w", err)
		}
		if err := u.deps.Monitors.Create(dbc, &types.BuildMonitor{
			RunID:        runID,
			Stage:        forge.MonitorStageStart,
			NextActionAt: &now,
		}); err != nil {
			return fmt.Errorf("create build monitor: %w", err)
		}
		_, err := u.deps.Queue.Enqueue(dbc, queue.Request{
			JobType:    JobBuildStart,
			EntityType: entityWorkflowRun,
			EntityID:   &runID,
			Payload:    StagePayload{RunID: runID, Seq: 0},
		})
		return err
	})
	if err != nil {
		if derr := u.deps.Bucket.Delete(context.Background(), input.Bucket, input.StorageKey); derr != nil {
			u.deps.Log.Warn("Input archive left behind", "run_id", runID, "storage_key", input.StorageKey, "error", derr)
		}
		return nil, err
	}
	u.deps.Log.Info("Run planned", "run_id", runID, "workflow_id", w.ID, "version_id", version.ID, "steps", len(steps))
	return u.deps.Runs.GetForWorkflow(dbc, w.ID, runID)
}
